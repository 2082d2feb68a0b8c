package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTerminality(t *testing.T) {
	assert.False(t, SessionRinging.IsTerminal())
	assert.False(t, SessionActive.IsTerminal())
	for _, s := range []SessionStatus{SessionEnded, SessionDeclined, SessionMissed, SessionBusy, SessionCancelled, SessionFailed} {
		assert.True(t, s.IsTerminal(), s)
	}

	for _, s := range []ParticipantStatus{ParticipantInvited, ParticipantRinging, ParticipantConnected} {
		assert.False(t, s.IsTerminal(), s)
	}
	for _, s := range []ParticipantStatus{ParticipantDeclined, ParticipantLeft, ParticipantBusy, ParticipantMissed, ParticipantFailed} {
		assert.True(t, s.IsTerminal(), s)
	}
}

func TestCloneIsDeep(t *testing.T) {
	answered := time.Now()
	s := &CallSession{
		ID:           uuid.New(),
		Participants: []*Participant{{UserID: uuid.New(), Status: ParticipantRinging}},
		AnsweredAt:   &answered,
	}

	clone := s.Clone()
	clone.Participants[0].Status = ParticipantConnected
	*clone.AnsweredAt = answered.Add(time.Hour)

	assert.Equal(t, ParticipantRinging, s.Participants[0].Status)
	assert.Equal(t, answered, *s.AnsweredAt)
}

func TestNewCallLogEntry(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	answered := created.Add(5 * time.Second)
	ended := answered.Add(95 * time.Second)
	caller, callee := uuid.New(), uuid.New()

	s := &CallSession{
		ID:          uuid.New(),
		InitiatorID: caller,
		Kind:        CallKindAudio,
		Participants: []*Participant{
			{UserID: caller, Status: ParticipantLeft},
			{UserID: callee, Status: ParticipantLeft},
		},
		Status:     SessionEnded,
		CreatedAt:  created,
		AnsweredAt: &answered,
		EndedAt:    &ended,
	}

	entry := NewCallLogEntry(s)

	require.NotNil(t, entry.DurationSeconds)
	assert.Equal(t, int64(95), *entry.DurationSeconds)
	assert.Equal(t, SessionEnded, entry.Outcome)
	assert.Equal(t, ended, entry.EndedAt)
	assert.Len(t, entry.Participants, 2)
}

func TestCommandDecoding(t *testing.T) {
	target := uuid.New()
	raw := `{"type":"signal.relay","sessionId":"` + uuid.NewString() + `","targetUserId":"` + target.String() + `","payload":{"sdp":"v=0"}}`

	var cmd Command
	require.NoError(t, json.Unmarshal([]byte(raw), &cmd))
	assert.Equal(t, CommandRelay, cmd.Type)
	require.NotNil(t, cmd.TargetUserID)
	assert.Equal(t, target, *cmd.TargetUserID)
	assert.JSONEq(t, `{"sdp":"v=0"}`, string(cmd.Payload))

	var broadcast Command
	require.NoError(t, json.Unmarshal([]byte(`{"type":"signal.relay","targetUserId":null,"payload":"x"}`), &broadcast))
	assert.Nil(t, broadcast.TargetUserID)
}
