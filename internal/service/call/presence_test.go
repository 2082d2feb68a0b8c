package call

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestPresence_RegisterUnregister(t *testing.T) {
	p := NewPresence()
	user, s1, s2 := uuid.New(), uuid.New(), uuid.New()

	assert.False(t, p.IsBusy(user))

	p.Register(user, s1)
	p.Register(user, s2)
	assert.True(t, p.IsBusy(user))
	assert.ElementsMatch(t, []uuid.UUID{s1, s2}, p.SessionsFor(user))

	p.Unregister(user, s1)
	assert.True(t, p.IsBusy(user))

	p.Unregister(user, s2)
	assert.False(t, p.IsBusy(user))
	assert.Empty(t, p.SessionsFor(user))
}

func TestPresence_Claim(t *testing.T) {
	p := NewPresence()
	caller, idle, busy, other := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	p.Register(busy, other)

	session := uuid.New()
	existing, busySet := p.Claim(caller, []uuid.UUID{idle, busy}, session)

	assert.Equal(t, uuid.Nil, existing)
	assert.Equal(t, map[uuid.UUID]bool{busy: true}, busySet)
	assert.Equal(t, []uuid.UUID{session}, p.SessionsFor(caller))
	assert.Equal(t, []uuid.UUID{session}, p.SessionsFor(idle))
	assert.Equal(t, []uuid.UUID{other}, p.SessionsFor(busy))

	existing, busySet = p.Claim(caller, []uuid.UUID{uuid.New()}, uuid.New())
	assert.Equal(t, session, existing)
	assert.Nil(t, busySet)
}

func TestPresence_ConcurrentClaimsAreExclusive(t *testing.T) {
	p := NewPresence()
	target := uuid.New()

	var wg sync.WaitGroup
	var claimed int32
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, busy := p.Claim(uuid.New(), []uuid.UUID{target}, uuid.New())
			if !busy[target] {
				atomic.AddInt32(&claimed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed)
}

func TestRinger_FiresOnce(t *testing.T) {
	var fired int32
	r := NewRinger(10*time.Millisecond, func(sessionID, userID uuid.UUID) {
		atomic.AddInt32(&fired, 1)
	})

	r.Start(uuid.New(), uuid.New())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.Equal(t, 0, r.Pending())
}

func TestRinger_CancelPreventsFire(t *testing.T) {
	var fired int32
	r := NewRinger(20*time.Millisecond, func(sessionID, userID uuid.UUID) {
		atomic.AddInt32(&fired, 1)
	})
	session, user := uuid.New(), uuid.New()

	r.Start(session, user)
	r.Cancel(session, user)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
	assert.Equal(t, 0, r.Pending())
}

func TestRinger_RestartReplacesTimer(t *testing.T) {
	var fired int32
	r := NewRinger(20*time.Millisecond, func(sessionID, userID uuid.UUID) {
		atomic.AddInt32(&fired, 1)
	})
	session, user := uuid.New(), uuid.New()

	r.Start(session, user)
	r.Start(session, user)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&fired) == 1 }, time.Second, time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fired))
}
