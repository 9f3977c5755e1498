// internal/session/session.go
package session

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Role identifies which side of the hub a connection speaks for.
type Role string

const (
	RolePresenter   Role = "presenter"
	RoleParticipant Role = "participant"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusLobby   Status = "lobby"
	StatusPlaying Status = "playing"
)

// MaxNameLength bounds participant display names (in runes).
const MaxNameLength = 24

// Participant is one joined handset. Participants are never removed from
// the roster on disconnect so their scores and history survive a rejoin.
type Participant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	IsMaster  bool      `json:"isMaster"`
	IsActive  bool      `json:"isActive"`
	Connected bool      `json:"connected"`
}

// Conn wraps one live device connection. Outbound messages go through the
// buffered Out channel consumed by the connection's write pump.
type Conn struct {
	ParticipantID uuid.UUID // uuid.Nil for the presenter
	Role          Role
	Cancel        func()
	Out           chan interface{}
}

// Write pushes a message onto the connection non-blockingly. Messages to a
// full or closed channel are dropped.
func (c *Conn) Write(msg interface{}) {
	select {
	case c.Out <- msg:
	default:
		log.Printf("session: Out channel for %s full or closed, dropping message", c.ParticipantID)
	}
}

// WriteError pushes an error object to this connection only.
func (c *Conn) WriteError(msg string) {
	c.Write(map[string]interface{}{
		"type":    "error",
		"message": msg,
	})
}

// Session is one shared hub instance: a presenter display plus joined
// handsets, identified by a short code, owning at most one active game.
//
// All fields are guarded by Mu. Methods below assume the caller holds Mu
// unless noted otherwise.
type Session struct {
	Code        string
	Roster      []*Participant
	GameID      string
	GameState   interface{} // owned exclusively by the active game handler
	Status      Status
	JoinVisible bool

	Presenter *Conn
	Conns     map[uuid.UUID]*Conn

	Mu sync.Mutex

	// emptySince is managed by the registry sweep: zero while occupied,
	// otherwise the time the session was first observed empty.
	emptySince time.Time
}

// AddParticipant appends a new participant to the roster. The participant
// is active only when the session is still in the lobby, and becomes
// master when no connected master exists.
func (s *Session) AddParticipant(name string) *Participant {
	p := &Participant{
		ID:        uuid.New(),
		Name:      name,
		IsActive:  s.Status == StatusLobby,
		Connected: true,
	}
	s.Roster = append(s.Roster, p)
	s.EnsureMaster()
	return p
}

// FindParticipant looks a participant up by id.
func (s *Session) FindParticipant(id uuid.UUID) *Participant {
	for _, p := range s.Roster {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// MarkDisconnected flags a participant as disconnected and reassigns the
// master role if they held it. Returns the participant, or nil if unknown.
func (s *Session) MarkDisconnected(id uuid.UUID) *Participant {
	p := s.FindParticipant(id)
	if p == nil {
		return nil
	}
	p.Connected = false
	if p.IsMaster {
		p.IsMaster = false
		s.EnsureMaster()
	}
	return p
}

// EnsureMaster enforces the master invariant: at most one connected master,
// assigned deterministically to the first connected participant in roster
// order whenever no connected master exists.
func (s *Session) EnsureMaster() {
	for _, p := range s.Roster {
		if p.IsMaster && p.Connected {
			return
		}
	}
	for _, p := range s.Roster {
		p.IsMaster = false
	}
	for _, p := range s.Roster {
		if p.Connected {
			p.IsMaster = true
			return
		}
	}
}

// Master returns the current connected master participant, if any.
func (s *Session) Master() *Participant {
	for _, p := range s.Roster {
		if p.IsMaster && p.Connected {
			return p
		}
	}
	return nil
}

// ConnectedCount reports how many participants are currently connected.
func (s *Session) ConnectedCount() int {
	n := 0
	for _, p := range s.Roster {
		if p.Connected {
			n++
		}
	}
	return n
}

// ActiveConnectedCount reports connected participants eligible for
// gameplay (excludes spectators admitted mid-game).
func (s *Session) ActiveConnectedCount() int {
	n := 0
	for _, p := range s.Roster {
		if p.Connected && p.IsActive {
			n++
		}
	}
	return n
}

// Empty reports whether no live connection references this session.
func (s *Session) Empty() bool {
	return s.Presenter == nil && s.ConnectedCount() == 0
}

// Snapshot is the sanitized view of a session pushed to every connection.
// The game state is pre-marshaled under the session lock so the write
// pumps never race the active handler.
type Snapshot struct {
	Code        string          `json:"code"`
	Roster      []Participant   `json:"roster"`
	GameID      string          `json:"gameId,omitempty"`
	GameState   json.RawMessage `json:"gameState,omitempty"`
	Status      Status          `json:"status"`
	JoinVisible bool            `json:"joinVisible"`
}

// BuildSnapshot assembles the common snapshot. Caller must hold Mu.
func (s *Session) BuildSnapshot() Snapshot {
	snap := Snapshot{
		Code:        s.Code,
		Roster:      make([]Participant, len(s.Roster)),
		GameID:      s.GameID,
		Status:      s.Status,
		JoinVisible: s.JoinVisible,
	}
	for i, p := range s.Roster {
		snap.Roster[i] = *p
	}
	if s.GameState != nil {
		raw, err := json.Marshal(s.GameState)
		if err != nil {
			log.Printf("session %s: failed to marshal game state: %v", s.Code, err)
		} else {
			snap.GameState = raw
		}
	}
	return snap
}

// Broadcast pushes the current snapshot to the presenter and every
// connected participant. Acquires Mu.
func (s *Session) Broadcast() {
	s.Mu.Lock()
	snap := s.BuildSnapshot()
	conns := make([]*Conn, 0, len(s.Conns)+1)
	if s.Presenter != nil {
		conns = append(conns, s.Presenter)
	}
	for _, c := range s.Conns {
		conns = append(conns, c)
	}
	s.Mu.Unlock()

	msg := map[string]interface{}{
		"type":    "session:state",
		"session": snap,
	}
	for _, c := range conns {
		c.Write(msg)
	}
}

// WriteTo pushes a private message to a single participant's connection.
// Acquires Mu. Used for payloads that must not appear in the common
// snapshot.
func (s *Session) WriteTo(participantID uuid.UUID, msg interface{}) {
	s.Mu.Lock()
	c := s.Conns[participantID]
	s.Mu.Unlock()
	if c != nil {
		c.Write(msg)
	}
}

// WritePresenter pushes a message to the presenter connection, if bound.
// Acquires Mu.
func (s *Session) WritePresenter(msg interface{}) {
	s.Mu.Lock()
	p := s.Presenter
	s.Mu.Unlock()
	if p != nil {
		p.Write(msg)
	}
}
