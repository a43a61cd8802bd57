package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// OpenPostgres opens and verifies a PostgreSQL connection pool
func OpenPostgres(ctx context.Context, config Config) (*sql.DB, error) {
	if config.PostgresURL == "" {
		return nil, fmt.Errorf("postgres URL is required")
	}

	db, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	ConfigurePool(db, config)

	timeout := config.PostgresTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

// ConfigurePool applies the pool limits from config to db. Zero values keep
// the database/sql defaults.
func ConfigurePool(db *sql.DB, config Config) {
	if config.PostgresMaxConns > 0 {
		db.SetMaxOpenConns(config.PostgresMaxConns)
	}
	if config.PostgresMinConns > 0 {
		db.SetMaxIdleConns(config.PostgresMinConns)
	}
	if config.PostgresMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.PostgresMaxLifetime)
	}
	if config.PostgresMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.PostgresMaxIdleTime)
	}
}
