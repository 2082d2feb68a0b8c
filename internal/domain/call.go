package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallKind is the media kind requested at initiation
type CallKind string

const (
	CallKindAudio CallKind = "audio"
	CallKindVideo CallKind = "video"
)

// Valid reports whether k is a known call kind
func (k CallKind) Valid() bool {
	return k == CallKindAudio || k == CallKindVideo
}

// SessionStatus is the single authoritative status of a call session
type SessionStatus string

const (
	SessionRinging   SessionStatus = "ringing"
	SessionActive    SessionStatus = "active"
	SessionEnded     SessionStatus = "ended"
	SessionDeclined  SessionStatus = "declined"
	SessionMissed    SessionStatus = "missed"
	SessionBusy      SessionStatus = "busy"
	SessionCancelled SessionStatus = "cancelled"
	SessionFailed    SessionStatus = "failed"
)

// IsTerminal reports whether the session has been finalized
func (s SessionStatus) IsTerminal() bool {
	return s != SessionRinging && s != SessionActive
}

// ParticipantStatus is one user's status within a session
type ParticipantStatus string

const (
	ParticipantInvited   ParticipantStatus = "invited"
	ParticipantRinging   ParticipantStatus = "ringing"
	ParticipantConnected ParticipantStatus = "connected"
	ParticipantDeclined  ParticipantStatus = "declined"
	ParticipantLeft      ParticipantStatus = "left"
	ParticipantBusy      ParticipantStatus = "busy"
	ParticipantMissed    ParticipantStatus = "missed"
	ParticipantFailed    ParticipantStatus = "failed"
)

// IsTerminal reports whether the participant is out of the session.
// Terminal participant statuses do not end the session by themselves.
func (s ParticipantStatus) IsTerminal() bool {
	switch s {
	case ParticipantInvited, ParticipantRinging, ParticipantConnected:
		return false
	}
	return true
}

// IsPending reports whether the participant is still being rung
func (s ParticipantStatus) IsPending() bool {
	return s == ParticipantInvited || s == ParticipantRinging
}

// Profile is a display snapshot of a user, taken when the user enters a session
type Profile struct {
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"` // student, teacher, parent, admin
	Avatar string `json:"avatar,omitempty"`
}

// Participant represents one user's membership in a call session
type Participant struct {
	UserID    uuid.UUID         `json:"userId"`
	Profile   Profile           `json:"profile"`
	Status    ParticipantStatus `json:"status"`
	JoinedAt  *time.Time        `json:"joinedAt,omitempty"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// CallSession is the state of one call from initiation to finalization
type CallSession struct {
	ID               uuid.UUID      `json:"id"`
	InitiatorID      uuid.UUID      `json:"initiatorId"`
	InitiatorProfile Profile        `json:"initiatorProfile"`
	Kind             CallKind       `json:"kind"`
	IsGroup          bool           `json:"isGroup"`
	Participants     []*Participant `json:"participants"`
	Status           SessionStatus  `json:"status"`
	CreatedAt        time.Time      `json:"createdAt"`
	AnsweredAt       *time.Time     `json:"answeredAt,omitempty"`
	EndedAt          *time.Time     `json:"endedAt,omitempty"`
}

// Participant returns the participant record for userID, or nil
func (s *CallSession) Participant(userID uuid.UUID) *Participant {
	for _, p := range s.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// CountStatus returns how many participants are in one of the given statuses
func (s *CallSession) CountStatus(statuses ...ParticipantStatus) int {
	count := 0
	for _, p := range s.Participants {
		for _, status := range statuses {
			if p.Status == status {
				count++
				break
			}
		}
	}
	return count
}

// DurationSeconds returns the answered duration, or nil when the call was
// never answered or has not ended.
func (s *CallSession) DurationSeconds() *int64 {
	if s.AnsweredAt == nil || s.EndedAt == nil {
		return nil
	}
	seconds := int64(s.EndedAt.Sub(*s.AnsweredAt).Seconds())
	return &seconds
}

// Clone returns a deep copy safe to hand out of the session lock
func (s *CallSession) Clone() *CallSession {
	clone := *s
	clone.Participants = make([]*Participant, len(s.Participants))
	for i, p := range s.Participants {
		pc := *p
		if p.JoinedAt != nil {
			joined := *p.JoinedAt
			pc.JoinedAt = &joined
		}
		clone.Participants[i] = &pc
	}
	if s.AnsweredAt != nil {
		answered := *s.AnsweredAt
		clone.AnsweredAt = &answered
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		clone.EndedAt = &ended
	}
	return &clone
}

// ParticipantOutcome is one participant's final status in a call log entry
type ParticipantOutcome struct {
	UserID      uuid.UUID         `json:"userId"`
	FinalStatus ParticipantStatus `json:"finalStatus"`
}

// CallLogEntry is the durable record of a finalized session
type CallLogEntry struct {
	SessionID       uuid.UUID            `json:"sessionId"`
	InitiatorID     uuid.UUID            `json:"initiatorId"`
	Kind            CallKind             `json:"kind"`
	IsGroup         bool                 `json:"isGroup"`
	Participants    []ParticipantOutcome `json:"participants"`
	CreatedAt       time.Time            `json:"createdAt"`
	AnsweredAt      *time.Time           `json:"answeredAt,omitempty"`
	EndedAt         time.Time            `json:"endedAt"`
	DurationSeconds *int64               `json:"durationSeconds,omitempty"`
	Outcome         SessionStatus        `json:"outcome"`
}

// NewCallLogEntry builds the log record for a finalized session
func NewCallLogEntry(s *CallSession) *CallLogEntry {
	entry := &CallLogEntry{
		SessionID:       s.ID,
		InitiatorID:     s.InitiatorID,
		Kind:            s.Kind,
		IsGroup:         s.IsGroup,
		Participants:    make([]ParticipantOutcome, 0, len(s.Participants)),
		CreatedAt:       s.CreatedAt,
		AnsweredAt:      s.AnsweredAt,
		DurationSeconds: s.DurationSeconds(),
		Outcome:         s.Status,
	}
	if s.EndedAt != nil {
		entry.EndedAt = *s.EndedAt
	}
	for _, p := range s.Participants {
		entry.Participants = append(entry.Participants, ParticipantOutcome{
			UserID:      p.UserID,
			FinalStatus: p.Status,
		})
	}
	return entry
}
