package signaling

import (
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"schoolportal-backend/internal/domain"
	"schoolportal-backend/pkg/logger"
	"schoolportal-backend/pkg/metrics"
)

// Relay results recorded in metrics
const (
	ResultDelivered = "delivered"
	ResultDropped   = "dropped"
)

// SessionReader returns a consistent copy of a live session
type SessionReader interface {
	Snapshot(sessionID uuid.UUID) (*domain.CallSession, bool)
}

// Deliverer pushes an event to a user's live connections
type Deliverer interface {
	Deliver(userID uuid.UUID, event *domain.Event) int
}

// Router relays opaque negotiation payloads between members of one session.
// It never changes session state and never reports failures to the sender.
type Router struct {
	sessions        SessionReader
	deliverer       Deliverer
	maxPayloadBytes int
	metrics         *metrics.Metrics
}

// NewRouter creates a signaling router
func NewRouter(sessions SessionReader, deliverer Deliverer, maxPayloadBytes int, m *metrics.Metrics) *Router {
	return &Router{
		sessions:        sessions,
		deliverer:       deliverer,
		maxPayloadBytes: maxPayloadBytes,
		metrics:         m,
	}
}

// Relay forwards payload from senderID to targetUserID, or to every other
// active member of the session when targetUserID is nil. It returns the
// number of users the payload was addressed to.
func (r *Router) Relay(senderID, sessionID uuid.UUID, targetUserID *uuid.UUID, payload json.RawMessage) int {
	targets, reason := r.resolve(senderID, sessionID, targetUserID, payload)
	if reason != "" {
		r.metrics.RecordSignalRelay(ResultDropped)
		logger.Debug("Signal dropped",
			zap.String("session_id", sessionID.String()),
			zap.String("user_id", senderID.String()),
			zap.String("reason", reason))
		return 0
	}

	for _, target := range targets {
		event := domain.NewEvent(domain.EventSignal, sessionID)
		event.SenderID = senderID
		event.Payload = payload
		r.deliverer.Deliver(target, event)
	}
	r.metrics.RecordSignalRelay(ResultDelivered)
	return len(targets)
}

// resolve works out the recipients from a membership snapshot. A non-empty
// reason means the relay must be dropped.
func (r *Router) resolve(senderID, sessionID uuid.UUID, targetUserID *uuid.UUID, payload json.RawMessage) ([]uuid.UUID, string) {
	if len(payload) == 0 {
		return nil, "empty payload"
	}
	if r.maxPayloadBytes > 0 && len(payload) > r.maxPayloadBytes {
		return nil, "payload too large"
	}

	session, ok := r.sessions.Snapshot(sessionID)
	if !ok {
		return nil, "session not live"
	}
	sender := session.Participant(senderID)
	if sender == nil || !canSignal(sender.Status) {
		return nil, "sender not active in session"
	}

	if targetUserID != nil {
		if *targetUserID == senderID {
			return nil, "target is sender"
		}
		target := session.Participant(*targetUserID)
		if target == nil || target.Status.IsTerminal() {
			return nil, "target not active in session"
		}
		return []uuid.UUID{target.UserID}, ""
	}

	targets := make([]uuid.UUID, 0, len(session.Participants))
	for _, p := range session.Participants {
		if p.UserID != senderID && canSignal(p.Status) {
			targets = append(targets, p.UserID)
		}
	}
	if len(targets) == 0 {
		return nil, "no other active participants"
	}
	return targets, ""
}

func canSignal(status domain.ParticipantStatus) bool {
	return status == domain.ParticipantConnected || status == domain.ParticipantRinging
}
