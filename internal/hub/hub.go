// internal/hub/hub.go
//
// The connection multiplexer. Each live websocket is bound to a role and,
// once joined, to a session and participant identity. Inbound protocol
// messages are routed here, authorization is enforced here, and every
// mutation ends in a session broadcast.
package hub

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"partyhub/internal/auth"
	"partyhub/internal/game"
	"partyhub/internal/metrics"
	"partyhub/internal/session"
)

// Hub routes protocol messages between connections, sessions and game
// handlers.
type Hub struct {
	log      *logrus.Logger
	sessions *session.Registry
	games    *game.Registry
}

func New(logger *logrus.Logger, sessions *session.Registry, games *game.Registry) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{log: logger, sessions: sessions, games: games}
}

// client is the per-connection binding state. It is only touched from the
// connection's own read pump, so it needs no lock of its own.
type client struct {
	conn          *session.Conn
	sess          *session.Session
	role          session.Role
	participantID uuid.UUID
}

// envelope is the inbound protocol message shape.
type envelope struct {
	Type    string       `json:"type"`
	Code    string       `json:"code,omitempty"`
	Name    string       `json:"name,omitempty"`
	Token   string       `json:"token,omitempty"`
	GameID  string       `json:"gameId,omitempty"`
	Visible *bool        `json:"visible,omitempty"`
	Action  *game.Action `json:"action,omitempty"`
}

// dispatch routes one inbound message. Authorization failures are silent;
// not-found and precondition failures answer the caller only.
func (h *Hub) dispatch(c *client, env envelope) {
	metrics.MessagesTotal.WithLabelValues(env.Type).Inc()

	switch env.Type {
	case "session:create":
		h.handleSessionCreate(c)
	case "session:join":
		h.handleSessionJoin(c, env)
	case "participant:join":
		h.handleParticipantJoin(c, env)
	case "catalog:list":
		h.sendCatalog(c.conn)
	case "game:select", "game:start", "game:end", "visibility:toggle":
		h.handleControl(c, env)
	case "game:action":
		h.handleAction(c, env)
	default:
		c.conn.WriteError("Unknown message type: " + env.Type)
	}
}

func (h *Hub) sendCatalog(conn *session.Conn) {
	conn.Write(map[string]interface{}{
		"type":  "catalog:list",
		"games": h.games.Catalog(),
	})
}

func (h *Hub) handleSessionCreate(c *client) {
	if c.role != session.RolePresenter {
		return
	}
	if c.sess != nil {
		c.conn.WriteError("Already bound to a session")
		return
	}
	s, err := h.sessions.Create()
	if err != nil {
		h.log.Errorf("session create failed: %v", err)
		c.conn.WriteError("Could not create session")
		return
	}
	metrics.SessionsCreated.Inc()
	metrics.ActiveSessions.Set(float64(h.sessions.Count()))

	h.bindPresenter(c, s)
	c.conn.Write(map[string]interface{}{
		"type": "session:created",
		"code": s.Code,
	})
	h.sendCatalog(c.conn)
	s.Broadcast()
}

func (h *Hub) handleSessionJoin(c *client, env envelope) {
	if c.role != session.RolePresenter {
		return
	}
	if c.sess != nil {
		c.conn.WriteError("Already bound to a session")
		return
	}
	s, ok := h.sessions.Get(env.Code)
	if !ok {
		c.conn.WriteError("Session not found")
		return
	}
	h.bindPresenter(c, s)
	c.conn.Write(map[string]interface{}{
		"type": "session:joined",
		"code": s.Code,
	})
	h.sendCatalog(c.conn)
	s.Broadcast()
}

// bindPresenter attaches the connection as the session's presenter. A
// later presenter supersedes the previous one, which is cut loose.
func (h *Hub) bindPresenter(c *client, s *session.Session) {
	s.Mu.Lock()
	old := s.Presenter
	s.Presenter = c.conn
	s.Mu.Unlock()
	c.sess = s

	if old != nil && old != c.conn {
		old.WriteError("Superseded by a new presenter connection")
		if old.Cancel != nil {
			old.Cancel()
		}
	}
}

func (h *Hub) handleParticipantJoin(c *client, env envelope) {
	if c.role != session.RoleParticipant || c.sess != nil {
		return
	}
	s, ok := h.sessions.Get(env.Code)
	if !ok {
		c.conn.WriteError("Session not found")
		return
	}

	// A capability token resumes a prior identity: roster entry, score
	// and master state are preserved, no join hook fires.
	if env.Token != "" && h.resumeParticipant(c, s, env.Token) {
		return
	}

	name := strings.TrimSpace(env.Name)
	if name == "" || utf8.RuneCountInString(name) > session.MaxNameLength {
		c.conn.WriteError("Invalid name")
		return
	}

	s.Mu.Lock()
	if s.Status == session.StatusPlaying && !s.JoinVisible {
		s.Mu.Unlock()
		c.conn.WriteError("Game in progress, cannot join")
		return
	}
	p := s.AddParticipant(name)
	s.Conns[p.ID] = c.conn
	c.conn.ParticipantID = p.ID
	if s.Status == session.StatusPlaying && s.GameID != "" {
		if handler, _, okGame := h.games.Get(s.GameID); okGame {
			if hook, okHook := handler.(game.PlayerJoinHook); okHook {
				hook.OnPlayerJoin(s, p)
			}
		}
	}
	s.Mu.Unlock()

	c.sess = s
	c.participantID = p.ID

	token, err := auth.CreateToken(p.ID, s.Code)
	if err != nil {
		h.log.Warnf("could not issue capability token for %s: %v", p.ID, err)
	}
	c.conn.Write(map[string]interface{}{
		"type":          "participant:joined",
		"participantId": p.ID.String(),
		"code":          s.Code,
		"token":         token,
	})
	h.sendCatalog(c.conn)
	s.Broadcast()
}

// resumeParticipant reconnects a handset presenting a valid capability
// token for this session. Returns false to fall through to a fresh join.
func (h *Hub) resumeParticipant(c *client, s *session.Session, token string) bool {
	pid, code, err := auth.VerifyToken(token)
	if err != nil || !strings.EqualFold(code, s.Code) {
		return false
	}

	s.Mu.Lock()
	p := s.FindParticipant(pid)
	if p == nil {
		s.Mu.Unlock()
		return false
	}
	if old, okOld := s.Conns[pid]; okOld && old != c.conn {
		if old.Cancel != nil {
			old.Cancel()
		}
	}
	p.Connected = true
	s.EnsureMaster()
	s.Conns[pid] = c.conn
	c.conn.ParticipantID = pid
	s.Mu.Unlock()

	c.sess = s
	c.participantID = pid

	c.conn.Write(map[string]interface{}{
		"type":          "participant:joined",
		"participantId": pid.String(),
		"code":          s.Code,
		"token":         token,
		"resumed":       true,
	})
	h.sendCatalog(c.conn)
	s.Broadcast()
	return true
}

// handleControl applies master-only session controls. Anything from a
// connection that is not the current connected master is dropped.
func (h *Hub) handleControl(c *client, env envelope) {
	if c.role != session.RoleParticipant || c.sess == nil {
		return
	}
	s := c.sess

	s.Mu.Lock()
	p := s.FindParticipant(c.participantID)
	if p == nil || !p.Connected || !p.IsMaster {
		s.Mu.Unlock()
		return
	}

	switch env.Type {
	case "game:select":
		if s.Status != session.StatusLobby {
			s.Mu.Unlock()
			return
		}
		_, info, ok := h.games.Get(env.GameID)
		if !ok {
			s.Mu.Unlock()
			c.conn.WriteError("Unknown game: " + env.GameID)
			return
		}
		s.GameID = info.ID

	case "game:start":
		if s.Status != session.StatusLobby {
			s.Mu.Unlock()
			return
		}
		if s.GameID == "" {
			s.Mu.Unlock()
			c.conn.WriteError("No game selected")
			return
		}
		handler, info, ok := h.games.Get(s.GameID)
		if !ok {
			s.Mu.Unlock()
			c.conn.WriteError("Unknown game: " + s.GameID)
			return
		}
		count := s.ConnectedCount()
		if count < info.MinParticipants {
			s.Mu.Unlock()
			c.conn.WriteError(fmt.Sprintf("Need at least %d participants to start %s", info.MinParticipants, info.Name))
			return
		}
		if info.MaxParticipants > 0 && count > info.MaxParticipants {
			s.Mu.Unlock()
			c.conn.WriteError(fmt.Sprintf("%s supports at most %d participants", info.Name, info.MaxParticipants))
			return
		}
		for _, rp := range s.Roster {
			rp.IsActive = rp.Connected
		}
		s.Status = session.StatusPlaying
		if err := handler.OnStart(s); err != nil {
			s.Status = session.StatusLobby
			s.GameState = nil
			s.Mu.Unlock()
			c.conn.WriteError("Could not start game: " + err.Error())
			return
		}

	case "game:end":
		if s.Status != session.StatusPlaying {
			s.Mu.Unlock()
			return
		}
		h.endGameLocked(s)

	case "visibility:toggle":
		if env.Visible != nil {
			s.JoinVisible = *env.Visible
		} else {
			s.JoinVisible = !s.JoinVisible
		}
	}
	s.Mu.Unlock()
	s.Broadcast()
}

// endGameLocked shuts the active game down and returns the session to the
// lobby. Waiting spectators become active again. Caller holds s.Mu.
func (h *Hub) endGameLocked(s *session.Session) {
	if handler, _, ok := h.games.Get(s.GameID); ok {
		handler.OnEnd(s)
	}
	s.GameState = nil
	s.Status = session.StatusLobby
	for _, p := range s.Roster {
		p.IsActive = true
	}
}

// handleAction forwards a gameplay action to the active handler. Only
// connected, active participants may act.
func (h *Hub) handleAction(c *client, env envelope) {
	if c.role != session.RoleParticipant || c.sess == nil || env.Action == nil {
		return
	}
	s := c.sess

	s.Mu.Lock()
	p := s.FindParticipant(c.participantID)
	if p == nil || !p.Connected || !p.IsActive || s.Status != session.StatusPlaying || s.GameID == "" {
		s.Mu.Unlock()
		return
	}
	handler, _, ok := h.games.Get(s.GameID)
	if !ok {
		s.Mu.Unlock()
		return
	}
	handler.OnAction(s, p.ID, *env.Action)
	s.Mu.Unlock()
	s.Broadcast()
}

// disconnect unbinds a closed connection. Presenter slots are cleared but
// the session survives for resumption; participants are marked
// disconnected (never removed) and the master role is reassigned.
func (h *Hub) disconnect(c *client) {
	if c.sess == nil {
		return
	}
	s := c.sess

	s.Mu.Lock()
	if c.role == session.RolePresenter {
		if s.Presenter == c.conn {
			s.Presenter = nil
		}
		s.Mu.Unlock()
		return
	}

	// A stale connection superseded by a token resume must not clobber
	// the replacement.
	if cur, ok := s.Conns[c.participantID]; !ok || cur != c.conn {
		s.Mu.Unlock()
		return
	}
	delete(s.Conns, c.participantID)
	p := s.MarkDisconnected(c.participantID)
	if p != nil && s.Status == session.StatusPlaying && s.GameID != "" {
		if handler, _, ok := h.games.Get(s.GameID); ok {
			if hook, okHook := handler.(game.PlayerLeaveHook); okHook {
				hook.OnPlayerLeave(s, p)
			}
		}
	}
	s.Mu.Unlock()
	s.Broadcast()
}

// EndEvicted is the registry eviction callback: it shuts down any game
// still running in a swept session so its timers stop firing.
func (h *Hub) EndEvicted(s *session.Session) {
	s.Mu.Lock()
	if s.Status == session.StatusPlaying && s.GameID != "" {
		h.endGameLocked(s)
	}
	s.Mu.Unlock()
	metrics.ActiveSessions.Set(float64(h.sessions.Count()))
}
