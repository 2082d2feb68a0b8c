package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CommandType identifies an inbound client frame
type CommandType string

const (
	CommandInitiate CommandType = "call.initiate"
	CommandAnswer   CommandType = "call.answer"
	CommandDecline  CommandType = "call.decline"
	CommandEnd      CommandType = "call.end"
	CommandBusy     CommandType = "call.busy"
	CommandRelay    CommandType = "signal.relay"
	CommandSync     CommandType = "call.sync"
)

// Command is an inbound frame sent by a client over its duplex connection.
// A nil TargetUserID on a relay fans the payload out to the whole session.
type Command struct {
	Type         CommandType     `json:"type"`
	RequestID    string          `json:"requestId,omitempty"`
	RecipientIDs []uuid.UUID     `json:"recipientIds,omitempty"`
	Kind         CallKind        `json:"kind,omitempty"`
	SessionID    uuid.UUID       `json:"sessionId,omitzero"`
	TargetUserID *uuid.UUID      `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// EventType identifies an outbound frame
type EventType string

const (
	EventIncoming          EventType = "call.incoming"
	EventParticipantJoined EventType = "call.participantJoined"
	EventParticipantLeft   EventType = "call.participantLeft"
	EventDeclined          EventType = "call.declined"
	EventBusy              EventType = "call.busy"
	EventEnded             EventType = "call.ended"
	EventSignal            EventType = "signal.relay"
	EventState             EventType = "call.state"
	EventAck               EventType = "call.ack"
	EventError             EventType = "call.error"
)

// Reasons carried by participantLeft and ended events
const (
	ReasonLeft         = "left"
	ReasonDeclined     = "declined"
	ReasonBusy         = "busy"
	ReasonTimeout      = "timeout"
	ReasonDisconnected = "disconnected"
	ReasonCancelled    = "cancelled"
	ReasonShutdown     = "shutdown"
)

// Event is an outbound frame pushed to a user's connections
type Event struct {
	Type            EventType       `json:"type"`
	RequestID       string          `json:"requestId,omitempty"`
	SessionID       uuid.UUID       `json:"sessionId,omitzero"`
	Session         *CallSession    `json:"session,omitempty"`
	Sessions        []*CallSession  `json:"sessions,omitempty"`
	Participant     *Participant    `json:"participant,omitempty"`
	Reason          string          `json:"reason,omitempty"`
	DurationSeconds *int64          `json:"durationSeconds,omitempty"`
	SenderID        uuid.UUID       `json:"senderId,omitzero"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	Code            string          `json:"code,omitempty"`
	Message         string          `json:"message,omitempty"`
	Timestamp       time.Time       `json:"timestamp"`
}

// NewEvent stamps a new outbound event
func NewEvent(eventType EventType, sessionID uuid.UUID) *Event {
	return &Event{
		Type:      eventType,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}
