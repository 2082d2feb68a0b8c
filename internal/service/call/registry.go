package call

import (
	"sync"

	"github.com/google/uuid"

	"schoolportal-backend/internal/domain"
)

// sessionEntry guards one live session. mu serializes state transitions;
// deliverMu is taken before mu is released so events leave in the order
// the transitions were applied, without holding mu during delivery.
type sessionEntry struct {
	mu        sync.Mutex
	deliverMu sync.Mutex
	session   *domain.CallSession
}

// Registry holds every non-terminal session
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionEntry
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*sessionEntry)}
}

func (r *Registry) put(entry *sessionEntry) {
	r.mu.Lock()
	r.sessions[entry.session.ID] = entry
	r.mu.Unlock()
}

func (r *Registry) get(sessionID uuid.UUID) *sessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[sessionID]
}

func (r *Registry) remove(sessionID uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()
}

// entries returns the live sessions at the time of the call
func (r *Registry) entries() []*sessionEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*sessionEntry, 0, len(r.sessions))
	for _, entry := range r.sessions {
		out = append(out, entry)
	}
	return out
}

// Len returns the number of live sessions
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
