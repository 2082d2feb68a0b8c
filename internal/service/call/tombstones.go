package call

import (
	"time"

	"github.com/google/uuid"

	"schoolportal-backend/internal/domain"
	"schoolportal-backend/pkg/cache"
)

// tombstones keeps recently finalized sessions so repeated terminal
// operations can answer with the last known state.
type tombstones struct {
	cache *cache.MemoryCache
}

func newTombstones(ttl time.Duration) *tombstones {
	return &tombstones{cache: cache.NewMemoryCache(ttl, 10000)}
}

func (t *tombstones) put(session *domain.CallSession) {
	t.cache.Set(session.ID.String(), session.Clone(), 0)
}

func (t *tombstones) get(sessionID uuid.UUID) (*domain.CallSession, bool) {
	v, ok := t.cache.Get(sessionID.String())
	if !ok {
		return nil, false
	}
	session, ok := v.(*domain.CallSession)
	if !ok {
		return nil, false
	}
	return session.Clone(), true
}
