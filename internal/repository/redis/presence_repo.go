package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"schoolportal-backend/internal/database"
)

// inCallTTL bounds how long a mirror entry outlives a crashed instance
const inCallTTL = 6 * time.Hour

// PresenceRepository mirrors in-call presence into Redis so other portal
// services can show who is on a call
type PresenceRepository struct {
	client *database.RedisClient
}

// NewPresenceRepository creates a new PresenceRepository
func NewPresenceRepository(client *database.RedisClient) *PresenceRepository {
	return &PresenceRepository{client: client}
}

func inCallKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:incall:%s", userID)
}

// SetInCall records that userID is part of sessionID
func (r *PresenceRepository) SetInCall(ctx context.Context, userID, sessionID uuid.UUID) error {
	key := inCallKey(userID)

	if err := r.client.SafeSAdd(ctx, key, sessionID.String()).Err(); err != nil {
		return fmt.Errorf("failed to set in-call presence: %w", err)
	}
	if err := r.client.SafeExpire(ctx, key, inCallTTL).Err(); err != nil {
		return fmt.Errorf("failed to set in-call presence ttl: %w", err)
	}
	return nil
}

// ClearInCall removes sessionID from userID's in-call set
func (r *PresenceRepository) ClearInCall(ctx context.Context, userID, sessionID uuid.UUID) error {
	if err := r.client.SafeSRem(ctx, inCallKey(userID), sessionID.String()).Err(); err != nil {
		return fmt.Errorf("failed to clear in-call presence: %w", err)
	}
	return nil
}
