package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/adpilot/pkg/logging"
	"github.com/ekaya-inc/adpilot/pkg/retry"
)

// DB wraps a pgxpool connection pool.
type DB struct {
	*pgxpool.Pool
}

// Config holds database connection configuration.
type Config struct {
	URL             string
	MaxConnections  int32
	MinConnections  int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	// Retry controls connection attempts while the server comes up. Nil uses retry.DefaultConfig.
	Retry *retry.Config
}

// NewConnection creates a new database connection pool and verifies it with a ping.
// Startup races with a database that is still booting are retried.
func NewConnection(ctx context.Context, cfg *Config, logger *zap.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConnections
	if poolConfig.MaxConns == 0 {
		poolConfig.MaxConns = 10
	}
	poolConfig.MinConns = cfg.MinConnections

	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	if poolConfig.MaxConnLifetime == 0 {
		poolConfig.MaxConnLifetime = time.Hour
	}

	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	if poolConfig.MaxConnIdleTime == 0 {
		poolConfig.MaxConnIdleTime = time.Minute * 30
	}

	attempt := 0
	pool, err := retry.DoWithResult(ctx, cfg.Retry, func() (*pgxpool.Pool, error) {
		attempt++
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			logger.Warn("Database not reachable yet",
				zap.Int("attempt", attempt),
				zap.String("error", logging.SanitizeError(err)))
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}

	return &DB{Pool: pool}, nil
}

// SQLDB returns a database/sql handle sharing the pool, for libraries that
// need one (golang-migrate). Closing it does not close the pool.
func (db *DB) SQLDB() *sql.DB {
	return stdlib.OpenDBFromPool(db.Pool)
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
