package cockroach

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"schoolportal-backend/internal/domain"
)

const callLogSchema = `
	CREATE TABLE IF NOT EXISTS call_logs (
		session_id       UUID PRIMARY KEY,
		initiator_id     UUID NOT NULL,
		kind             STRING NOT NULL,
		is_group         BOOL NOT NULL DEFAULT false,
		outcome          STRING NOT NULL,
		created_at       TIMESTAMPTZ NOT NULL,
		answered_at      TIMESTAMPTZ,
		ended_at         TIMESTAMPTZ NOT NULL,
		duration_seconds INT8
	);
	CREATE TABLE IF NOT EXISTS call_log_participants (
		session_id   UUID NOT NULL REFERENCES call_logs (session_id) ON DELETE CASCADE,
		user_id      UUID NOT NULL,
		position     INT NOT NULL,
		final_status STRING NOT NULL,
		PRIMARY KEY (session_id, user_id),
		INDEX call_log_participants_user_idx (user_id)
	);
`

// CallLogRepository is the append-only call log in CockroachDB
type CallLogRepository struct {
	pool *pgxpool.Pool
}

// NewCallLogRepository creates a new call log repository
func NewCallLogRepository(pool *pgxpool.Pool) *CallLogRepository {
	return &CallLogRepository{pool: pool}
}

// EnsureSchema creates the call log tables when missing
func (r *CallLogRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, callLogSchema); err != nil {
		return fmt.Errorf("failed to create call log schema: %w", err)
	}
	return nil
}

// Append records a finalized session. Appending the same session twice is a no-op.
func (r *CallLogRepository) Append(ctx context.Context, entry *domain.CallLogEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO call_logs (
			session_id, initiator_id, kind, is_group, outcome,
			created_at, answered_at, ended_at, duration_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO NOTHING
	`,
		entry.SessionID,
		entry.InitiatorID,
		string(entry.Kind),
		entry.IsGroup,
		string(entry.Outcome),
		entry.CreatedAt,
		entry.AnsweredAt,
		entry.EndedAt,
		entry.DurationSeconds,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, p := range entry.Participants {
		batch.Queue(`
			INSERT INTO call_log_participants (session_id, user_id, position, final_status)
			VALUES ($1, $2, $3, $4)
		`, entry.SessionID, p.UserID, i, string(p.FinalStatus))
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert call log participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit call log: %w", err)
	}
	return nil
}

// ListByUser returns the calls userID took part in, newest first
func (r *CallLogRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.CallLogEntry, error) {
	query := `
		SELECT c.session_id, c.initiator_id, c.kind, c.is_group, c.outcome,
		       c.created_at, c.answered_at, c.ended_at, c.duration_seconds
		FROM call_logs c
		JOIN call_log_participants p ON c.session_id = p.session_id
		WHERE p.user_id = $1
		ORDER BY c.ended_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get call history: %w", err)
	}
	defer rows.Close()

	entries := make([]*domain.CallLogEntry, 0, limit)
	byID := make(map[uuid.UUID]*domain.CallLogEntry)
	ids := make([]uuid.UUID, 0, limit)
	for rows.Next() {
		var (
			entry   domain.CallLogEntry
			kind    string
			outcome string
		)
		if err := rows.Scan(
			&entry.SessionID,
			&entry.InitiatorID,
			&kind,
			&entry.IsGroup,
			&outcome,
			&entry.CreatedAt,
			&entry.AnsweredAt,
			&entry.EndedAt,
			&entry.DurationSeconds,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call log: %w", err)
		}
		entry.Kind = domain.CallKind(kind)
		entry.Outcome = domain.SessionStatus(outcome)
		entry.Participants = []domain.ParticipantOutcome{}
		entries = append(entries, &entry)
		byID[entry.SessionID] = &entry
		ids = append(ids, entry.SessionID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call history: %w", err)
	}
	if len(ids) == 0 {
		return entries, nil
	}

	pRows, err := r.pool.Query(ctx, `
		SELECT session_id, user_id, final_status
		FROM call_log_participants
		WHERE session_id = ANY($1)
		ORDER BY session_id, position
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get call log participants: %w", err)
	}
	defer pRows.Close()

	for pRows.Next() {
		var (
			sessionID uuid.UUID
			outcome   domain.ParticipantOutcome
			status    string
		)
		if err := pRows.Scan(&sessionID, &outcome.UserID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan call log participant: %w", err)
		}
		outcome.FinalStatus = domain.ParticipantStatus(status)
		if entry, ok := byID[sessionID]; ok {
			entry.Participants = append(entry.Participants, outcome)
		}
	}
	if err := pRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read call log participants: %w", err)
	}

	return entries, nil
}
