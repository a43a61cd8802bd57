package rbac

import (
	"context"
	"database/sql"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/storage"
)

// GetMigrations returns all membership migrations
func GetMigrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create tenant_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS tenant_members (
					user_id VARCHAR(255) PRIMARY KEY,
					tenant_id VARCHAR(255) NOT NULL,
					role VARCHAR(32) NOT NULL CHECK (role IN ('owner', 'manager', 'staff')),
					permissions TEXT[] NOT NULL DEFAULT '{}',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_tenant_members_tenant_id ON tenant_members(tenant_id);
			`,
		},
	}
}

// RunMigrations applies pending membership migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	return storage.RunMigrations(ctx, db, "rbac_migrations", GetMigrations(), logger)
}
