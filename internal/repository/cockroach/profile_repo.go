package cockroach

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"schoolportal-backend/internal/domain"
	"schoolportal-backend/pkg/cache"
	apperrors "schoolportal-backend/pkg/errors"
)

// ProfileRepository reads the display profile of portal users from the
// users table owned by the user service.
type ProfileRepository struct {
	pool  *pgxpool.Pool
	cache *cache.MemoryCache
}

// NewProfileRepository creates a profile repository that caches lookups for ttl
func NewProfileRepository(pool *pgxpool.Pool, ttl time.Duration) *ProfileRepository {
	return &ProfileRepository{
		pool:  pool,
		cache: cache.NewMemoryCache(ttl, 5000),
	}
}

// GetProfile returns the name, role and avatar of userID
func (r *ProfileRepository) GetProfile(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	if v, ok := r.cache.Get(userID.String()); ok {
		if profile, ok := v.(domain.Profile); ok {
			return &profile, nil
		}
	}

	query := `
		SELECT display_name, role, avatar_url
		FROM users
		WHERE user_id = $1
	`

	var (
		profile domain.Profile
		avatar  *string
	)
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&profile.Name,
		&profile.Role,
		&avatar,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFoundError("User")
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	if avatar != nil {
		profile.Avatar = *avatar
	}

	r.cache.Set(userID.String(), profile, 0)
	return &profile, nil
}
