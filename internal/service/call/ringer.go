package call

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type ringKey struct {
	sessionID uuid.UUID
	userID    uuid.UUID
}

type ringTimer struct {
	timer *time.Timer
}

// Ringer runs one single-shot no-answer timer per ringing participant.
// A fired timer only reports the key; the handler must re-check the
// participant's status under the session lock.
type Ringer struct {
	timeout   time.Duration
	onTimeout func(sessionID, userID uuid.UUID)

	mu     sync.Mutex
	timers map[ringKey]*ringTimer
}

// NewRinger creates a ringer that calls onTimeout when a timer fires
func NewRinger(timeout time.Duration, onTimeout func(sessionID, userID uuid.UUID)) *Ringer {
	return &Ringer{
		timeout:   timeout,
		onTimeout: onTimeout,
		timers:    make(map[ringKey]*ringTimer),
	}
}

// Start arms the timer for userID in sessionID, replacing any earlier one
func (r *Ringer) Start(sessionID, userID uuid.UUID) {
	key := ringKey{sessionID: sessionID, userID: userID}
	rt := &ringTimer{}

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.timers[key]; ok {
		old.timer.Stop()
	}
	r.timers[key] = rt
	rt.timer = time.AfterFunc(r.timeout, func() {
		r.mu.Lock()
		current, ok := r.timers[key]
		if ok && current == rt {
			delete(r.timers, key)
		}
		r.mu.Unlock()

		if ok && current == rt {
			r.onTimeout(sessionID, userID)
		}
	})
}

// Cancel stops the timer for userID in sessionID
func (r *Ringer) Cancel(sessionID, userID uuid.UUID) {
	key := ringKey{sessionID: sessionID, userID: userID}

	r.mu.Lock()
	defer r.mu.Unlock()

	if rt, ok := r.timers[key]; ok {
		rt.timer.Stop()
		delete(r.timers, key)
	}
}

// Pending returns the number of armed timers
func (r *Ringer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Stop cancels every armed timer
func (r *Ringer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, rt := range r.timers {
		rt.timer.Stop()
		delete(r.timers, key)
	}
}
