// internal/session/registry.go
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// maxCodeAttempts bounds collision retries during Create.
const maxCodeAttempts = 16

// Registry owns the lifetime of every session in this process. Sessions
// are created with a unique short code and garbage-collected once no live
// connection has referenced them for the grace window.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session

	clock   clockwork.Clock
	grace   time.Duration
	codeLen int
	log     *logrus.Logger

	// OnEvict runs after a session is removed by Sweep, outside the
	// registry lock. The hub uses it to shut down an active game so its
	// timers do not keep firing against a dead session.
	OnEvict func(*Session)
}

// NewRegistry builds an empty registry. A nil clock selects the real clock.
func NewRegistry(clock clockwork.Clock, grace time.Duration, codeLen int, logger *logrus.Logger) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		clock:    clock,
		grace:    grace,
		codeLen:  codeLen,
		log:      logger,
	}
}

// Create builds a new lobby session under a freshly generated code,
// collision-checked against live sessions.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var code string
	for attempt := 0; ; attempt++ {
		if attempt >= maxCodeAttempts {
			return nil, fmt.Errorf("could not generate a unique session code after %d attempts", maxCodeAttempts)
		}
		c, err := generateCode(r.codeLen)
		if err != nil {
			return nil, fmt.Errorf("generate session code: %w", err)
		}
		if _, taken := r.sessions[c]; !taken {
			code = c
			break
		}
	}

	s := &Session{
		Code:        code,
		Status:      StatusLobby,
		JoinVisible: true,
		Conns:       make(map[uuid.UUID]*Conn),
	}
	r.sessions[code] = s
	r.log.Infof("registry: created session %s", code)
	return s, nil
}

// Get looks a session up by code. Codes are case-insensitive.
func (r *Registry) Get(code string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[strings.ToUpper(strings.TrimSpace(code))]
	return s, ok
}

// Count reports how many sessions are live.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes sessions that have had no presenter and no connected
// participant for the full grace window. A session observed empty for the
// first time is only marked; removal happens on a later sweep, so brief
// reconnects survive. Returns the number of sessions removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	now := r.clock.Now()
	var evicted []*Session
	for code, s := range r.sessions {
		s.Mu.Lock()
		if !s.Empty() {
			s.emptySince = time.Time{}
			s.Mu.Unlock()
			continue
		}
		if s.emptySince.IsZero() {
			s.emptySince = now
			s.Mu.Unlock()
			continue
		}
		if now.Sub(s.emptySince) >= r.grace {
			delete(r.sessions, code)
			evicted = append(evicted, s)
		}
		s.Mu.Unlock()
	}
	r.mu.Unlock()

	for _, s := range evicted {
		r.log.Infof("registry: swept empty session %s", s.Code)
		if r.OnEvict != nil {
			r.OnEvict(s)
		}
	}
	return len(evicted)
}

// RunSweeper runs Sweep on a fixed interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}
