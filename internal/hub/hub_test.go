// internal/hub/hub_test.go
//
// Dispatch-level tests: clients are constructed directly with buffered Out
// channels, so the whole protocol can be exercised without websockets.
package hub

import (
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partyhub/internal/auth"
	"partyhub/internal/game"
	"partyhub/internal/session"
)

func TestMain(m *testing.M) {
	os.Setenv("TOKEN_EXPIRE_TIME", "never")
	auth.Init()
	os.Exit(m.Run())
}

// stubGame records handler calls and marks state so snapshots carry it.
type stubGame struct {
	mu       sync.Mutex
	started  int
	ended    int
	actions  []game.Action
	joins    int
	leaves   int
	startErr error
}

func (g *stubGame) OnStart(s *session.Session) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.started++
	if g.startErr != nil {
		return g.startErr
	}
	s.GameState = map[string]string{"phase": "stub"}
	return nil
}

func (g *stubGame) OnEnd(s *session.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ended++
}

func (g *stubGame) OnAction(s *session.Session, pid uuid.UUID, a game.Action) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actions = append(g.actions, a)
}

func (g *stubGame) OnPlayerJoin(s *session.Session, p *session.Participant) {
	g.joins++
}

func (g *stubGame) OnPlayerLeave(s *session.Session, p *session.Participant) {
	g.leaves++
}

func stubInfo(min int) game.Info {
	return game.Info{ID: "stub", Name: "Stub", MinParticipants: min, MaxParticipants: 8}
}

func newTestHub() *Hub {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	sessions := session.NewRegistry(clockwork.NewFakeClock(), time.Minute, 4, logger)
	h := New(logger, sessions, game.NewRegistry())
	sessions.OnEvict = h.EndEvicted
	return h
}

func newClient(role session.Role) *client {
	return &client{
		conn: &session.Conn{Role: role, Out: make(chan interface{}, 64)},
		role: role,
	}
}

// drain empties a client's outbound queue.
func drain(c *client) []map[string]interface{} {
	var out []map[string]interface{}
	for {
		select {
		case msg := <-c.conn.Out:
			if m, ok := msg.(map[string]interface{}); ok {
				out = append(out, m)
			}
		default:
			return out
		}
	}
}

func findMsg(msgs []map[string]interface{}, typ string) map[string]interface{} {
	for _, m := range msgs {
		if m["type"] == typ {
			return m
		}
	}
	return nil
}

func errorMessage(msgs []map[string]interface{}) string {
	if m := findMsg(msgs, "error"); m != nil {
		return m["message"].(string)
	}
	return ""
}

// createSession runs the presenter flow and returns its bound session.
func createSession(t *testing.T, h *Hub) (*client, *session.Session) {
	t.Helper()
	p := newClient(session.RolePresenter)
	h.dispatch(p, envelope{Type: "session:create"})
	msgs := drain(p)
	created := findMsg(msgs, "session:created")
	require.NotNil(t, created)
	code := created["code"].(string)
	s, ok := h.sessions.Get(code)
	require.True(t, ok)
	return p, s
}

// joinParticipant joins a named handset and returns its client, id and token.
func joinParticipant(t *testing.T, h *Hub, code, name string) (*client, uuid.UUID, string) {
	t.Helper()
	c := newClient(session.RoleParticipant)
	h.dispatch(c, envelope{Type: "participant:join", Code: code, Name: name})
	msgs := drain(c)
	joined := findMsg(msgs, "participant:joined")
	require.NotNil(t, joined, "join failed: %v", msgs)
	pid, err := uuid.Parse(joined["participantId"].(string))
	require.NoError(t, err)
	token, _ := joined["token"].(string)
	return c, pid, token
}

func TestSessionCreate(t *testing.T) {
	h := newTestHub()
	p := newClient(session.RolePresenter)

	h.dispatch(p, envelope{Type: "session:create"})
	msgs := drain(p)

	created := findMsg(msgs, "session:created")
	require.NotNil(t, created)
	assert.Len(t, created["code"], 4)
	assert.NotNil(t, findMsg(msgs, "catalog:list"))
	assert.NotNil(t, findMsg(msgs, "session:state"))
	assert.Equal(t, 1, h.sessions.Count())
}

func TestSessionCreateIgnoredForParticipants(t *testing.T) {
	h := newTestHub()
	c := newClient(session.RoleParticipant)
	h.dispatch(c, envelope{Type: "session:create"})
	assert.Empty(t, drain(c))
	assert.Equal(t, 0, h.sessions.Count())
}

func TestPresenterJoinUnknownCode(t *testing.T) {
	h := newTestHub()
	p := newClient(session.RolePresenter)
	h.dispatch(p, envelope{Type: "session:join", Code: "ZZZZ"})
	assert.Equal(t, "Session not found", errorMessage(drain(p)))
}

func TestPresenterSupersession(t *testing.T) {
	h := newTestHub()
	p1, s := createSession(t, h)

	p2 := newClient(session.RolePresenter)
	h.dispatch(p2, envelope{Type: "session:join", Code: s.Code})
	require.NotNil(t, findMsg(drain(p2), "session:joined"))

	s.Mu.Lock()
	assert.Same(t, p2.conn, s.Presenter)
	s.Mu.Unlock()
	assert.Contains(t, errorMessage(drain(p1)), "Superseded")
}

func TestParticipantJoin(t *testing.T) {
	h := newTestHub()
	p, s := createSession(t, h)

	_, pid, token := joinParticipant(t, h, s.Code, "alice")
	assert.NotEmpty(t, token)

	s.Mu.Lock()
	require.Len(t, s.Roster, 1)
	assert.Equal(t, pid, s.Roster[0].ID)
	assert.True(t, s.Roster[0].IsMaster)
	assert.True(t, s.Roster[0].Connected)
	s.Mu.Unlock()

	// The presenter saw the roster change.
	assert.NotNil(t, findMsg(drain(p), "session:state"))
}

func TestParticipantJoinValidation(t *testing.T) {
	h := newTestHub()
	_, s := createSession(t, h)

	c := newClient(session.RoleParticipant)
	h.dispatch(c, envelope{Type: "participant:join", Code: "ZZZZ", Name: "alice"})
	assert.Equal(t, "Session not found", errorMessage(drain(c)))

	h.dispatch(c, envelope{Type: "participant:join", Code: s.Code, Name: "   "})
	assert.Equal(t, "Invalid name", errorMessage(drain(c)))
}

func TestGameStartRequiresMinParticipants(t *testing.T) {
	h := newTestHub()
	stub := &stubGame{}
	h.games.Register(stubInfo(2), stub)
	_, s := createSession(t, h)
	master, _, _ := joinParticipant(t, h, s.Code, "alice")

	h.dispatch(master, envelope{Type: "game:select", GameID: "stub"})
	h.dispatch(master, envelope{Type: "game:start"})

	assert.Contains(t, errorMessage(drain(master)), "Need at least 2 participants")
	s.Mu.Lock()
	assert.Equal(t, session.StatusLobby, s.Status)
	s.Mu.Unlock()
	assert.Equal(t, 0, stub.started)
}

func TestGameStartFlow(t *testing.T) {
	h := newTestHub()
	stub := &stubGame{}
	h.games.Register(stubInfo(2), stub)
	_, s := createSession(t, h)
	master, _, _ := joinParticipant(t, h, s.Code, "alice")
	joinParticipant(t, h, s.Code, "bob")

	h.dispatch(master, envelope{Type: "game:select", GameID: "nope"})
	assert.Contains(t, errorMessage(drain(master)), "Unknown game")

	h.dispatch(master, envelope{Type: "game:select", GameID: "stub"})
	h.dispatch(master, envelope{Type: "game:start"})

	assert.Equal(t, 1, stub.started)
	s.Mu.Lock()
	assert.Equal(t, session.StatusPlaying, s.Status)
	assert.Equal(t, "stub", s.GameID)
	for _, p := range s.Roster {
		assert.True(t, p.IsActive)
	}
	assert.NotNil(t, s.GameState)
	s.Mu.Unlock()
}

func TestGameStartWithoutSelection(t *testing.T) {
	h := newTestHub()
	_, s := createSession(t, h)
	master, _, _ := joinParticipant(t, h, s.Code, "alice")

	h.dispatch(master, envelope{Type: "game:start"})
	assert.Equal(t, "No game selected", errorMessage(drain(master)))
}

func TestNonMasterControlsSilentlyIgnored(t *testing.T) {
	h := newTestHub()
	stub := &stubGame{}
	h.games.Register(stubInfo(1), stub)
	_, s := createSession(t, h)
	joinParticipant(t, h, s.Code, "alice")
	other, _, _ := joinParticipant(t, h, s.Code, "bob")
	drain(other)

	h.dispatch(other, envelope{Type: "game:select", GameID: "stub"})
	h.dispatch(other, envelope{Type: "game:start"})
	h.dispatch(other, envelope{Type: "visibility:toggle"})

	assert.Empty(t, drain(other))
	s.Mu.Lock()
	assert.Equal(t, session.StatusLobby, s.Status)
	assert.Empty(t, s.GameID)
	assert.True(t, s.JoinVisible)
	s.Mu.Unlock()
	assert.Equal(t, 0, stub.started)
}

func TestVisibilityToggle(t *testing.T) {
	h := newTestHub()
	_, s := createSession(t, h)
	master, _, _ := joinParticipant(t, h, s.Code, "alice")

	h.dispatch(master, envelope{Type: "visibility:toggle"})
	s.Mu.Lock()
	assert.False(t, s.JoinVisible)
	s.Mu.Unlock()

	on := true
	h.dispatch(master, envelope{Type: "visibility:toggle", Visible: &on})
	s.Mu.Lock()
	assert.True(t, s.JoinVisible)
	s.Mu.Unlock()
}

func TestMidGameJoinVisibility(t *testing.T) {
	h := newTestHub()
	stub := &stubGame{}
	h.games.Register(stubInfo(1), stub)
	_, s := createSession(t, h)
	master, _, _ := joinParticipant(t, h, s.Code, "alice")
	h.dispatch(master, envelope{Type: "game:select", GameID: "stub"})
	h.dispatch(master, envelope{Type: "game:start"})

	// Joins hidden: late handsets are turned away.
	off := false
	h.dispatch(master, envelope{Type: "visibility:toggle", Visible: &off})
	late := newClient(session.RoleParticipant)
	h.dispatch(late, envelope{Type: "participant:join", Code: s.Code, Name: "dave"})
	assert.Equal(t, "Game in progress, cannot join", errorMessage(drain(late)))

	// Joins visible: late handsets enter as inactive spectators.
	on := true
	h.dispatch(master, envelope{Type: "visibility:toggle", Visible: &on})
	spectator, pid, _ := joinParticipant(t, h, s.Code, "erin")
	assert.Equal(t, 1, stub.joins)

	s.Mu.Lock()
	assert.False(t, s.FindParticipant(pid).IsActive)
	s.Mu.Unlock()

	// Spectators cannot act in the running game.
	h.dispatch(spectator, envelope{Type: "game:action", Action: &game.Action{Type: "noop"}})
	assert.Empty(t, stub.actions)
}

func TestGameActionForwarding(t *testing.T) {
	h := newTestHub()
	stub := &stubGame{}
	h.games.Register(stubInfo(1), stub)
	_, s := createSession(t, h)
	master, _, _ := joinParticipant(t, h, s.Code, "alice")

	// No game running yet: actions are dropped.
	h.dispatch(master, envelope{Type: "game:action", Action: &game.Action{Type: "early"}})
	assert.Empty(t, stub.actions)

	h.dispatch(master, envelope{Type: "game:select", GameID: "stub"})
	h.dispatch(master, envelope{Type: "game:start"})
	h.dispatch(master, envelope{Type: "game:action", Action: &game.Action{Type: "play"}})

	require.Len(t, stub.actions, 1)
	assert.Equal(t, "play", stub.actions[0].Type)
}

func TestGameEndReturnsToLobby(t *testing.T) {
	h := newTestHub()
	stub := &stubGame{}
	h.games.Register(stubInfo(1), stub)
	_, s := createSession(t, h)
	master, _, _ := joinParticipant(t, h, s.Code, "alice")
	h.dispatch(master, envelope{Type: "game:select", GameID: "stub"})
	h.dispatch(master, envelope{Type: "game:start"})
	_, pid, _ := joinParticipant(t, h, s.Code, "erin")

	h.dispatch(master, envelope{Type: "game:end"})

	assert.Equal(t, 1, stub.ended)
	s.Mu.Lock()
	assert.Equal(t, session.StatusLobby, s.Status)
	assert.Nil(t, s.GameState)
	// The mid-game spectator becomes a full participant again.
	assert.True(t, s.FindParticipant(pid).IsActive)
	s.Mu.Unlock()
}

func TestDisconnectReassignsMaster(t *testing.T) {
	h := newTestHub()
	stub := &stubGame{}
	h.games.Register(stubInfo(1), stub)
	_, s := createSession(t, h)
	master, _, _ := joinParticipant(t, h, s.Code, "alice")
	_, bobID, _ := joinParticipant(t, h, s.Code, "bob")
	h.dispatch(master, envelope{Type: "game:select", GameID: "stub"})
	h.dispatch(master, envelope{Type: "game:start"})

	h.disconnect(master)

	s.Mu.Lock()
	m := s.Master()
	require.NotNil(t, m)
	assert.Equal(t, bobID, m.ID)
	assert.Len(t, s.Roster, 2) // nobody is removed
	s.Mu.Unlock()
	assert.Equal(t, 1, stub.leaves)
}

func TestTokenResume(t *testing.T) {
	h := newTestHub()
	stub := &stubGame{}
	h.games.Register(stubInfo(1), stub)
	_, s := createSession(t, h)
	c1, pid, token := joinParticipant(t, h, s.Code, "alice")
	joinParticipant(t, h, s.Code, "bob")
	require.NotEmpty(t, token)

	h.disconnect(c1)
	s.Mu.Lock()
	assert.False(t, s.FindParticipant(pid).Connected)
	s.Mu.Unlock()

	c2 := newClient(session.RoleParticipant)
	h.dispatch(c2, envelope{Type: "participant:join", Code: s.Code, Token: token})
	msgs := drain(c2)
	joined := findMsg(msgs, "participant:joined")
	require.NotNil(t, joined)
	assert.Equal(t, pid.String(), joined["participantId"])
	assert.Equal(t, true, joined["resumed"])

	s.Mu.Lock()
	assert.Len(t, s.Roster, 2) // no duplicate roster entry
	assert.True(t, s.FindParticipant(pid).Connected)
	s.Mu.Unlock()
	assert.Equal(t, 0, stub.joins) // resume does not fire the join hook
}

func TestResumeWithForeignTokenFallsBackToFreshJoin(t *testing.T) {
	h := newTestHub()
	_, s1 := createSession(t, h)
	_, s2 := createSession(t, h)
	_, _, token := joinParticipant(t, h, s1.Code, "alice")

	// Token was issued for s1; joining s2 with it needs a name.
	c := newClient(session.RoleParticipant)
	h.dispatch(c, envelope{Type: "participant:join", Code: s2.Code, Token: token})
	assert.Equal(t, "Invalid name", errorMessage(drain(c)))

	h.dispatch(c, envelope{Type: "participant:join", Code: s2.Code, Token: token, Name: "alice"})
	require.NotNil(t, findMsg(drain(c), "participant:joined"))
	s2.Mu.Lock()
	assert.Len(t, s2.Roster, 1)
	s2.Mu.Unlock()
}

func TestEndEvictedShutsDownRunningGame(t *testing.T) {
	h := newTestHub()
	stub := &stubGame{}
	h.games.Register(stubInfo(1), stub)
	_, s := createSession(t, h)
	master, _, _ := joinParticipant(t, h, s.Code, "alice")
	h.dispatch(master, envelope{Type: "game:select", GameID: "stub"})
	h.dispatch(master, envelope{Type: "game:start"})

	h.EndEvicted(s)

	assert.Equal(t, 1, stub.ended)
	s.Mu.Lock()
	assert.Nil(t, s.GameState)
	assert.Equal(t, session.StatusLobby, s.Status)
	s.Mu.Unlock()
}

func TestUnknownMessageType(t *testing.T) {
	h := newTestHub()
	c := newClient(session.RoleParticipant)
	h.dispatch(c, envelope{Type: "bogus"})
	assert.Contains(t, errorMessage(drain(c)), "Unknown message type")
}
