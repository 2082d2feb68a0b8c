package call

import (
	"sync"

	"github.com/google/uuid"
)

// Presence tracks which users are members of a non-terminal session.
// It is mutated only by the orchestrator while it holds the session lock.
type Presence struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]map[uuid.UUID]struct{}
}

// NewPresence creates an empty presence tracker
func NewPresence() *Presence {
	return &Presence{sessions: make(map[uuid.UUID]map[uuid.UUID]struct{})}
}

// IsBusy reports whether userID belongs to at least one live session
func (p *Presence) IsBusy(userID uuid.UUID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions[userID]) > 0
}

// Register adds userID to sessionID
func (p *Presence) Register(userID, sessionID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.register(userID, sessionID)
}

func (p *Presence) register(userID, sessionID uuid.UUID) {
	set, ok := p.sessions[userID]
	if !ok {
		set = make(map[uuid.UUID]struct{})
		p.sessions[userID] = set
	}
	set[sessionID] = struct{}{}
}

// Unregister removes userID from sessionID
func (p *Presence) Unregister(userID, sessionID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.sessions[userID]
	if !ok {
		return
	}
	delete(set, sessionID)
	if len(set) == 0 {
		delete(p.sessions, userID)
	}
}

// SessionsFor returns the live sessions userID belongs to
func (p *Presence) SessionsFor(userID uuid.UUID) []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(p.sessions[userID]))
	for id := range p.sessions[userID] {
		ids = append(ids, id)
	}
	return ids
}

// Claim atomically registers a new session. When the caller is already in
// a session nothing is registered and that session's id is returned.
// Otherwise the caller and every idle recipient are registered, and the
// recipients that were busy are returned.
func (p *Presence) Claim(callerID uuid.UUID, recipientIDs []uuid.UUID, sessionID uuid.UUID) (existing uuid.UUID, busy map[uuid.UUID]bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id := range p.sessions[callerID] {
		return id, nil
	}

	busy = make(map[uuid.UUID]bool)
	for _, id := range recipientIDs {
		if len(p.sessions[id]) > 0 {
			busy[id] = true
		}
	}

	p.register(callerID, sessionID)
	for _, id := range recipientIDs {
		if !busy[id] {
			p.register(id, sessionID)
		}
	}
	return uuid.Nil, busy
}
