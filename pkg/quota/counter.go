package quota

import (
	"context"
	"database/sql"
	"fmt"
)

// Resource names a secondary resource whose count is capped per plan
type Resource string

const (
	ResourceStaff Resource = "staff"
)

// Counter counts the active instances of a secondary resource for a tenant
type Counter interface {
	CountActive(ctx context.Context, tenantID string, resource Resource) (int64, error)
}

// CounterFunc adapts a function to the Counter interface
type CounterFunc func(ctx context.Context, tenantID string, resource Resource) (int64, error)

func (f CounterFunc) CountActive(ctx context.Context, tenantID string, resource Resource) (int64, error) {
	return f(ctx, tenantID, resource)
}

// PostgresCounter counts secondary resources from the membership tables
type PostgresCounter struct {
	db *sql.DB
}

// NewPostgresCounter creates a new Postgres-backed counter
func NewPostgresCounter(db *sql.DB) *PostgresCounter {
	return &PostgresCounter{db: db}
}

var countQueries = map[Resource]string{
	ResourceStaff: `
		SELECT COUNT(*)
		FROM tenant_members
		WHERE tenant_id = $1 AND role <> 'owner'
	`,
}

// CountActive counts the active instances of resource for tenantID
func (c *PostgresCounter) CountActive(ctx context.Context, tenantID string, resource Resource) (int64, error) {
	query, ok := countQueries[resource]
	if !ok {
		return 0, fmt.Errorf("unknown resource %q", resource)
	}

	var count int64
	if err := c.db.QueryRowContext(ctx, query, tenantID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", resource, err)
	}
	return count, nil
}
