package redis

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolportal-backend/internal/database"
)

func TestInCallKey(t *testing.T) {
	id := uuid.MustParse("6f1c1a2e-9a44-4c55-8f0e-1d2b3c4d5e6f")

	assert.Equal(t, "presence:incall:6f1c1a2e-9a44-4c55-8f0e-1d2b3c4d5e6f", inCallKey(id))
}

func TestPresenceRepository_DegradedRedis(t *testing.T) {
	client := database.NewRedisClient(goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}), nil)
	defer client.Close()
	require.Error(t, client.HealthCheck(context.Background()))
	require.True(t, client.IsDegraded())

	repo := NewPresenceRepository(client)
	user, session := uuid.New(), uuid.New()

	err := repo.SetInCall(context.Background(), user, session)
	assert.ErrorIs(t, err, database.ErrRedisDegraded)

	err = repo.ClearInCall(context.Background(), user, session)
	assert.ErrorIs(t, err, database.ErrRedisDegraded)
}
