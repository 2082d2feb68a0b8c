package cassandra

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"schoolportal-backend/internal/domain"
)

// call_log_by_user is denormalized: each finalized session is written once
// per participant so a user's history is a single partition read.
const callLogTable = `
	CREATE TABLE IF NOT EXISTS call_log_by_user (
		user_id              uuid,
		ended_at             timestamp,
		session_id           uuid,
		initiator_id         uuid,
		kind                 text,
		is_group             boolean,
		outcome              text,
		created_at           timestamp,
		answered_at          timestamp,
		duration_seconds     bigint,
		participant_ids      list<uuid>,
		participant_statuses list<text>,
		PRIMARY KEY ((user_id), ended_at, session_id)
	) WITH CLUSTERING ORDER BY (ended_at DESC, session_id ASC)
`

// CallLogRepository is the append-only call log in Cassandra
type CallLogRepository struct {
	session *gocql.Session
}

// NewCallLogRepository creates a new CallLogRepository
func NewCallLogRepository(session *gocql.Session) *CallLogRepository {
	return &CallLogRepository{session: session}
}

// EnsureSchema creates the call log table when missing
func (r *CallLogRepository) EnsureSchema(ctx context.Context) error {
	if err := r.session.Query(callLogTable).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to create call log table: %w", err)
	}
	return nil
}

// Append records a finalized session. Rows are keyed by session, so a
// repeated append overwrites the same rows.
func (r *CallLogRepository) Append(ctx context.Context, entry *domain.CallLogEntry) error {
	ids := make([]gocql.UUID, len(entry.Participants))
	statuses := make([]string, len(entry.Participants))
	for i, p := range entry.Participants {
		ids[i] = gocql.UUID(p.UserID)
		statuses[i] = string(p.FinalStatus)
	}

	var answeredAt interface{}
	if entry.AnsweredAt != nil {
		answeredAt = *entry.AnsweredAt
	}
	var duration interface{}
	if entry.DurationSeconds != nil {
		duration = *entry.DurationSeconds
	}

	query := `
		INSERT INTO call_log_by_user (
			user_id, ended_at, session_id, initiator_id, kind, is_group, outcome,
			created_at, answered_at, duration_seconds, participant_ids, participant_statuses
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	batch := r.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	for _, p := range entry.Participants {
		batch.Query(query,
			gocql.UUID(p.UserID),
			entry.EndedAt,
			gocql.UUID(entry.SessionID),
			gocql.UUID(entry.InitiatorID),
			string(entry.Kind),
			entry.IsGroup,
			string(entry.Outcome),
			entry.CreatedAt,
			answeredAt,
			duration,
			ids,
			statuses,
		)
	}

	if err := r.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to save call log: %w", err)
	}
	return nil
}

// ListByUser returns the calls userID took part in, newest first. Cassandra
// has no OFFSET so the skipped rows are read and discarded.
func (r *CallLogRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallLogEntry, error) {
	query := `
		SELECT session_id, initiator_id, kind, is_group, outcome,
		       created_at, answered_at, ended_at, duration_seconds,
		       participant_ids, participant_statuses
		FROM call_log_by_user
		WHERE user_id = ?
		LIMIT ?
	`

	iter := r.session.Query(query, gocql.UUID(userID), limit+offset).WithContext(ctx).Iter()

	var (
		sessionID   gocql.UUID
		initiatorID gocql.UUID
		kind        string
		isGroup     bool
		outcome     string
		createdAt   time.Time
		answeredAt  time.Time
		endedAt     time.Time
		duration    int64
		ids         []gocql.UUID
		statuses    []string
	)

	entries := make([]*domain.CallLogEntry, 0, limit)
	skipped := 0
	for iter.Scan(&sessionID, &initiatorID, &kind, &isGroup, &outcome,
		&createdAt, &answeredAt, &endedAt, &duration, &ids, &statuses) {
		if skipped < offset {
			skipped++
			continue
		}

		entry := &domain.CallLogEntry{
			SessionID:    uuid.UUID(sessionID),
			InitiatorID:  uuid.UUID(initiatorID),
			Kind:         domain.CallKind(kind),
			IsGroup:      isGroup,
			Outcome:      domain.SessionStatus(outcome),
			CreatedAt:    createdAt,
			EndedAt:      endedAt,
			Participants: make([]domain.ParticipantOutcome, 0, len(ids)),
		}
		if !answeredAt.IsZero() {
			at := answeredAt
			d := duration
			entry.AnsweredAt = &at
			entry.DurationSeconds = &d
		}
		for i, id := range ids {
			po := domain.ParticipantOutcome{UserID: uuid.UUID(id)}
			if i < len(statuses) {
				po.FinalStatus = domain.ParticipantStatus(statuses[i])
			}
			entry.Participants = append(entry.Participants, po)
		}
		entries = append(entries, entry)

		answeredAt = time.Time{}
		duration = 0
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}
	return entries, nil
}
