package postgres

import (
	"context"
	"database/sql"

	"github.com/lukelocksmith/vexa/internal/botmanager/db/dberror"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

// GetUser retrieves a user row.
func (s *store) GetUser(ctx context.Context, userID string) (*models.User, apperrors.Error) {
	var u models.User
	err := s.conn().QueryRowContext(ctx, `
		SELECT user_id, max_concurrent_bots, created_at
		FROM users
		WHERE user_id = $1`,
		userID).Scan(&u.UserID, &u.MaxConcurrentBots, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, dberror.ErrNotFound.Msg("user not found")
	}
	if err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

// UpsertUser creates a user or updates its concurrency cap.
func (s *store) UpsertUser(ctx context.Context, user *models.User) apperrors.Error {
	if user.UserID == "" {
		return dberror.ErrInvalidInput.Msg("empty user id")
	}
	if user.MaxConcurrentBots < 0 {
		return dberror.ErrInvalidInput.Msg("negative concurrency cap")
	}
	_, err := s.conn().ExecContext(ctx, `
		INSERT INTO users (user_id, max_concurrent_bots)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET max_concurrent_bots = EXCLUDED.max_concurrent_bots`,
		user.UserID, user.MaxConcurrentBots)
	if err != nil {
		return mapError(err)
	}
	return nil
}
