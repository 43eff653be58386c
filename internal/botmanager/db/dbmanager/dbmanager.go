// Package dbmanager manages the PostgreSQL connection pool for the bot
// manager store.
package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/rs/zerolog/log"
)

// Pool wraps the sql connection pool and tracks checkout statistics.
type Pool struct {
	db           *sql.DB
	connRequests uint64
	connReturns  uint64
}

// NewPostgresqlDb opens a connection pool against the given DSN and verifies
// it with a ping. Statement and lock timeouts are bounded per session so a
// stuck admission lock cannot wedge the pool.
func NewPostgresqlDb(ctx context.Context, dsn string) (*Pool, error) {
	dsn = fmt.Sprintf("%s options='-c lock_timeout=5s -c statement_timeout=5s -c idle_in_transaction_session_timeout=5s'", dsn)

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Error().Err(err).Msg("failed to open db")
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("failed to ping db")
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: sqlDB}, nil
}

// DB returns the underlying pool handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Conn checks out a dedicated connection from the pool.
func (p *Pool) Conn(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to obtain connection")
		return nil, fmt.Errorf("failed to obtain database connection: %w", err)
	}
	atomic.AddUint64(&p.connRequests, 1)
	return conn, nil
}

// Return releases a checked-out connection back to the pool.
func (p *Pool) Return(conn *sql.Conn) {
	if conn == nil {
		return
	}
	conn.Close()
	atomic.AddUint64(&p.connReturns, 1)
}

// Stats returns the number of connection checkouts and returns.
func (p *Pool) Stats() (requests, returns uint64) {
	return atomic.LoadUint64(&p.connRequests), atomic.LoadUint64(&p.connReturns)
}

// OpenConns returns the number of open connections in the pool.
func (p *Pool) OpenConns() int {
	return p.db.Stats().OpenConnections
}

// Close shuts the pool down.
func (p *Pool) Close() error {
	return p.db.Close()
}
