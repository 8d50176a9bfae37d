package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Carlvebbesen/IntervalInsights/internal/domain"
)

// UserRepository resolves users and persists refreshed platform tokens.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository constructs a UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

const userColumns = `user_id, athlete_id, COALESCE(access_token,''), COALESCE(refresh_token,''),
    COALESCE(token_expires_at, 'epoch'::timestamptz)`

// Get retrieves a user by id.
func (r *UserRepository) Get(ctx context.Context, userID string) (*domain.User, error) {
	return r.get(ctx, `user_id=$1`, userID)
}

// GetByAthleteID retrieves a user by the platform athlete id.
func (r *UserRepository) GetByAthleteID(ctx context.Context, athleteID int64) (*domain.User, error) {
	return r.get(ctx, `athlete_id=$1`, athleteID)
}

func (r *UserRepository) get(ctx context.Context, where string, arg any) (*domain.User, error) {
	var u domain.User
	err := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg).Scan(
		&u.ID, &u.AthleteID, &u.AccessToken, &u.RefreshToken, &u.TokenExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// SaveToken persists a refreshed token pair.
func (r *UserRepository) SaveToken(ctx context.Context, userID, accessToken, refreshToken string, expiresAt time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET access_token=$2, refresh_token=$3, token_expires_at=$4 WHERE user_id=$1`,
		userID, accessToken, refreshToken, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}
