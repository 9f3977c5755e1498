// internal/countdown/countdown.go
package countdown

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Timer is a cancellable, resumable countdown. While running it fires
// OnTick once per second with the remaining seconds, and exactly one
// OnComplete when the count reaches zero, after which it stops itself.
//
// Stop before completion suppresses further callbacks and is safe to call
// any number of times. Callbacks run on the timer's own goroutine without
// the timer lock held, so they may call back into Stop or Reset.
//
// Exactly one Timer should be live per owning phase. A phase that creates
// a replacement without stopping its previous Timer will observe stale
// callbacks mutating a superseded state.
type Timer struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	total     int
	remaining int
	running   bool
	stop      chan struct{}

	onTick     func(remaining int)
	onComplete func()
}

// New builds a stopped timer counting down from seconds. A nil clock
// selects the real clock; tests inject clockwork.NewFakeClock.
func New(clock clockwork.Clock, seconds int, onTick func(remaining int), onComplete func()) *Timer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Timer{
		clock:      clock,
		total:      seconds,
		remaining:  seconds,
		onTick:     onTick,
		onComplete: onComplete,
	}
}

// Start begins (or resumes) the countdown. A running or already completed
// timer is left alone; use Reset to rearm a completed one.
func (t *Timer) Start() {
	t.mu.Lock()
	if t.running || t.remaining <= 0 {
		t.mu.Unlock()
		return
	}
	t.running = true
	stop := make(chan struct{})
	t.stop = stop
	t.mu.Unlock()

	go t.run(stop)
}

func (t *Timer) run(stop chan struct{}) {
	ticker := t.clock.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			t.mu.Lock()
			if !t.running {
				t.mu.Unlock()
				return
			}
			t.remaining--
			remaining := t.remaining
			done := remaining <= 0
			if done {
				t.running = false
				t.stop = nil
			}
			onTick, onComplete := t.onTick, t.onComplete
			t.mu.Unlock()

			if onTick != nil {
				onTick(remaining)
			}
			if done {
				if onComplete != nil {
					onComplete()
				}
				return
			}
		}
	}
}

// Stop halts the countdown without firing OnComplete. Remaining time is
// preserved, so a later Start resumes where it left off.
func (t *Timer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	close(t.stop)
	t.stop = nil
}

// Reset stops the countdown and rearms it to the full duration.
func (t *Timer) Reset() {
	t.Stop()
	t.mu.Lock()
	t.remaining = t.total
	t.mu.Unlock()
}

// Remaining reports the seconds left on the countdown.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remaining
}

// IsRunning reports whether the countdown is live.
func (t *Timer) IsRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}
