// Package storage provides the shared connection and migration plumbing for
// the gatekeeper persistence backends.
//
// # Overview
//
// The subscription and membership stores each own their schema and queries.
// This package only opens connections and applies versioned migrations so
// that every backend configures PostgreSQL and Redis the same way.
//
// # Connections
//
//	db, err := storage.OpenPostgres(ctx, storage.Config{
//		PostgresURL:      "postgres://localhost/gatekeeper?sslmode=disable",
//		PostgresMaxConns: 20,
//		PostgresTimeout:  5 * time.Second,
//	})
//
//	rdb, err := storage.OpenRedis(ctx, storage.Config{RedisURL: "redis://localhost:6379/0"})
//
// # Migrations
//
// Migrations are applied in version order inside a transaction each and
// recorded in a per-package tracking table:
//
//	err := storage.RunMigrations(ctx, db, "subscription_migrations", migrations, logger)
//
// Already applied versions are skipped, so RunMigrations is safe to call on
// every start.
package storage
