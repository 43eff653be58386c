// Package postgres implements the state store gateway against PostgreSQL.
// Each operation is a single transaction; concurrency correctness for
// admission and status transitions lives here.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/rs/zerolog/log"

	"github.com/lukelocksmith/vexa/internal/botmanager/db"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/dberror"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/dbmanager"
	"github.com/lukelocksmith/vexa/internal/botmanager/db/models"
	"github.com/lukelocksmith/vexa/internal/common/apperrors"
)

//go:embed schema.sql
var schemaSQL string

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

type store struct {
	pool *dbmanager.Pool
}

// New returns a Store backed by the given pool.
func New(pool *dbmanager.Pool) db.Store {
	return &store{pool: pool}
}

func (s *store) conn() *sql.DB {
	return s.pool.DB()
}

// ApplySchema creates the meetings, meeting_sessions, and users tables and
// their indexes if they do not exist.
func (s *store) ApplySchema(ctx context.Context) apperrors.Error {
	if _, err := s.conn().ExecContext(ctx, schemaSQL); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to apply schema")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// Ping verifies the store is reachable.
func (s *store) Ping(ctx context.Context) apperrors.Error {
	if err := s.conn().PingContext(ctx); err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// mapError translates driver errors into the gateway's error kinds.
func mapError(err error) apperrors.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return dberror.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return dberror.ErrConflict.Err(err)
	}
	return dberror.ErrDatabase.Err(err)
}

func statusStrings(statuses []models.MeetingStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, string(st))
	}
	return out
}
