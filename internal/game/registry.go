// internal/game/registry.go
package game

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"partyhub/internal/session"
)

// Action is a gameplay message forwarded verbatim to the active handler.
// The payload shape is owned by the handler.
type Action struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler is the contract every game module implements. The hub calls
// every method with the session lock held.
//
// OnStart must fully initialize the opaque game state; it is called at
// most once per game start. OnEnd must stop every timer the handler owns
// and clear the opaque state; a timer left running keeps firing against a
// superseded state. OnAction must validate the action against the
// handler's current phase before mutating anything; unrecognized or
// out-of-phase actions are no-ops, not errors. Mutations become visible
// to clients only when the hub (or the handler itself, for timer-driven
// transitions) broadcasts the session.
type Handler interface {
	OnStart(s *session.Session) error
	OnEnd(s *session.Session)
	OnAction(s *session.Session, participantID uuid.UUID, action Action)
}

// PlayerJoinHook is implemented by handlers that want to observe mid-game
// joins.
type PlayerJoinHook interface {
	OnPlayerJoin(s *session.Session, p *session.Participant)
}

// PlayerLeaveHook is implemented by handlers that want to observe mid-game
// disconnects.
type PlayerLeaveHook interface {
	OnPlayerLeave(s *session.Session, p *session.Participant)
}

// Info is a game catalog entry, registered once at process start.
type Info struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Description     string `json:"description"`
	MinParticipants int    `json:"minParticipants"`
	MaxParticipants int    `json:"maxParticipants"`
}

type entry struct {
	info    Info
	handler Handler
}

// Registry maps game identifiers to their handlers and exposes the
// catalog in registration order.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a game module. Registering the same id twice replaces the
// handler but keeps the original catalog position.
func (r *Registry) Register(info Info, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[info.ID]; !exists {
		r.order = append(r.order, info.ID)
	}
	r.entries[info.ID] = entry{info: info, handler: h}
}

// Get resolves a game id to its handler and catalog entry.
func (r *Registry) Get(id string) (Handler, Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.handler, e.info, ok
}

// Catalog lists every registered game in registration order.
func (r *Registry) Catalog() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].info)
	}
	return out
}
