package signaling

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolportal-backend/internal/domain"
)

type fakeSessions struct {
	sessions map[uuid.UUID]*domain.CallSession
}

func (f *fakeSessions) Snapshot(sessionID uuid.UUID) (*domain.CallSession, bool) {
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

type recordingDeliverer struct {
	mu     sync.Mutex
	events map[uuid.UUID][]*domain.Event
}

func (d *recordingDeliverer) Deliver(userID uuid.UUID, event *domain.Event) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.events == nil {
		d.events = make(map[uuid.UUID][]*domain.Event)
	}
	d.events[userID] = append(d.events[userID], event)
	return 1
}

func (d *recordingDeliverer) total() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, evs := range d.events {
		n += len(evs)
	}
	return n
}

type fixture struct {
	router    *Router
	deliverer *recordingDeliverer
	session   *domain.CallSession
	a, b, c   uuid.UUID
}

func newFixture(t *testing.T, cStatus domain.ParticipantStatus) *fixture {
	t.Helper()
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	session := &domain.CallSession{
		ID:          uuid.New(),
		InitiatorID: a,
		Status:      domain.SessionActive,
		Participants: []*domain.Participant{
			{UserID: a, Status: domain.ParticipantConnected},
			{UserID: b, Status: domain.ParticipantConnected},
			{UserID: c, Status: cStatus},
		},
	}
	deliverer := &recordingDeliverer{}
	sessions := &fakeSessions{sessions: map[uuid.UUID]*domain.CallSession{session.ID: session}}
	return &fixture{
		router:    NewRouter(sessions, deliverer, 64, nil),
		deliverer: deliverer,
		session:   session,
		a:         a,
		b:         b,
		c:         c,
	}
}

var offer = json.RawMessage(`{"sdp":"v=0"}`)

func TestRelay_PointToPoint(t *testing.T) {
	f := newFixture(t, domain.ParticipantRinging)

	n := f.router.Relay(f.a, f.session.ID, &f.b, offer)

	assert.Equal(t, 1, n)
	require.Len(t, f.deliverer.events[f.b], 1)
	ev := f.deliverer.events[f.b][0]
	assert.Equal(t, domain.EventSignal, ev.Type)
	assert.Equal(t, f.a, ev.SenderID)
	assert.Equal(t, f.session.ID, ev.SessionID)
	assert.JSONEq(t, string(offer), string(ev.Payload))
	assert.Empty(t, f.deliverer.events[f.c])
}

func TestRelay_FanOutSkipsSenderAndTerminal(t *testing.T) {
	f := newFixture(t, domain.ParticipantDeclined)

	n := f.router.Relay(f.a, f.session.ID, nil, offer)

	assert.Equal(t, 1, n)
	assert.Len(t, f.deliverer.events[f.b], 1)
	assert.Empty(t, f.deliverer.events[f.a])
	assert.Empty(t, f.deliverer.events[f.c])
}

func TestRelay_RingingSenderAllowed(t *testing.T) {
	f := newFixture(t, domain.ParticipantRinging)

	n := f.router.Relay(f.c, f.session.ID, nil, offer)

	assert.Equal(t, 2, n)
}

func TestRelay_Dropped(t *testing.T) {
	outsider := uuid.New()
	tests := []struct {
		name    string
		build   func(f *fixture) (uuid.UUID, uuid.UUID, *uuid.UUID, json.RawMessage)
		cStatus domain.ParticipantStatus
	}{
		{
			name: "sender not in session",
			build: func(f *fixture) (uuid.UUID, uuid.UUID, *uuid.UUID, json.RawMessage) {
				return outsider, f.session.ID, nil, offer
			},
			cStatus: domain.ParticipantRinging,
		},
		{
			name: "sender already left",
			build: func(f *fixture) (uuid.UUID, uuid.UUID, *uuid.UUID, json.RawMessage) {
				return f.c, f.session.ID, &f.a, offer
			},
			cStatus: domain.ParticipantLeft,
		},
		{
			name: "target outside session",
			build: func(f *fixture) (uuid.UUID, uuid.UUID, *uuid.UUID, json.RawMessage) {
				return f.a, f.session.ID, &outsider, offer
			},
			cStatus: domain.ParticipantRinging,
		},
		{
			name: "unknown session",
			build: func(f *fixture) (uuid.UUID, uuid.UUID, *uuid.UUID, json.RawMessage) {
				return f.a, uuid.New(), nil, offer
			},
			cStatus: domain.ParticipantRinging,
		},
		{
			name: "payload too large",
			build: func(f *fixture) (uuid.UUID, uuid.UUID, *uuid.UUID, json.RawMessage) {
				big := json.RawMessage(`"` + strings.Repeat("x", 100) + `"`)
				return f.a, f.session.ID, &f.b, big
			},
			cStatus: domain.ParticipantRinging,
		},
		{
			name: "empty payload",
			build: func(f *fixture) (uuid.UUID, uuid.UUID, *uuid.UUID, json.RawMessage) {
				return f.a, f.session.ID, &f.b, nil
			},
			cStatus: domain.ParticipantRinging,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.cStatus)
			sender, sessionID, target, payload := tt.build(f)
			before := f.session.Clone()

			n := f.router.Relay(sender, sessionID, target, payload)

			assert.Equal(t, 0, n)
			assert.Equal(t, 0, f.deliverer.total())
			assert.Equal(t, before, f.session)
		})
	}
}
