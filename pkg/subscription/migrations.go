package subscription

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// GetMigrations returns all subscription state migrations
func GetMigrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create subscription_states table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscription_states (
					tenant_id VARCHAR(255) PRIMARY KEY,
					plan VARCHAR(64) NOT NULL,
					used_units BIGINT NOT NULL DEFAULT 0 CHECK (used_units >= 0),
					version BIGINT NOT NULL DEFAULT 1,
					cycle_start TIMESTAMPTZ NOT NULL,
					next_reset_at TIMESTAMPTZ NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Index active subscriptions by next reset",
			SQL: `
				CREATE INDEX IF NOT EXISTS idx_subscription_states_next_reset
				ON subscription_states(next_reset_at)
				WHERE is_active;
			`,
		},
		{
			Version:     3,
			Description: "Create usage_reservations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS usage_reservations (
					reservation_id VARCHAR(64) PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL REFERENCES subscription_states(tenant_id) ON DELETE CASCADE,
					version BIGINT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_usage_reservations_tenant
				ON usage_reservations(tenant_id);
			`,
		},
	}
}

// RunMigrations applies pending subscription migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	return storage.RunMigrations(ctx, db, "subscription_migrations", GetMigrations(), logger)
}
