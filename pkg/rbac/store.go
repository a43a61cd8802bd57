package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
)

// ErrActorNotFound is returned when no membership exists for a user
var ErrActorNotFound = errors.New("actor not found")

// ActorStore persists tenant memberships and their permission sets
type ActorStore interface {
	// LoadActor returns the membership for userID or ErrActorNotFound
	LoadActor(ctx context.Context, userID string) (*Actor, error)
	GrantMembership(ctx context.Context, actor *Actor) error
	SetPermissions(ctx context.Context, userID string, perms Permissions) error
	RemoveMembership(ctx context.Context, userID string) error
}

// PostgresActorStore stores memberships in the tenant_members table
type PostgresActorStore struct {
	db *sql.DB
}

// NewPostgresActorStore creates a new Postgres-backed actor store
func NewPostgresActorStore(db *sql.DB) *PostgresActorStore {
	return &PostgresActorStore{db: db}
}

// LoadActor retrieves a membership by user ID
func (s *PostgresActorStore) LoadActor(ctx context.Context, userID string) (*Actor, error) {
	query := `
		SELECT user_id, tenant_id, role, permissions, created_at, updated_at
		FROM tenant_members
		WHERE user_id = $1
	`

	var actor Actor
	var role string
	var perms []string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&actor.UserID,
		&actor.TenantID,
		&role,
		pq.Array(&perms),
		&actor.CreatedAt,
		&actor.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrActorNotFound, userID)
	}
	if err != nil {
		return nil, entitlement.Unavailable("failed to load actor", err)
	}

	actor.Role = Role(role)
	actor.Permissions = ParsePermissions(perms)
	return &actor, nil
}

// GrantMembership inserts or replaces a membership
func (s *PostgresActorStore) GrantMembership(ctx context.Context, actor *Actor) error {
	query := `
		INSERT INTO tenant_members (user_id, tenant_id, role, permissions, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id,
			role = EXCLUDED.role,
			permissions = EXCLUDED.permissions,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at
	`

	now := time.Now().UTC()
	perms := actor.Permissions.Normalize()
	err := s.db.QueryRowContext(ctx, query,
		actor.UserID,
		actor.TenantID,
		string(actor.Role),
		pq.Array(perms.Strings()),
		now,
	).Scan(&actor.CreatedAt)
	if err != nil {
		return entitlement.Unavailable("failed to grant membership", err)
	}

	actor.Permissions = perms
	actor.UpdatedAt = now
	return nil
}

// SetPermissions replaces the permission set of an existing membership
func (s *PostgresActorStore) SetPermissions(ctx context.Context, userID string, perms Permissions) error {
	query := `
		UPDATE tenant_members
		SET permissions = $2, updated_at = $3
		WHERE user_id = $1
	`

	result, err := s.db.ExecContext(ctx, query, userID, pq.Array(perms.Normalize().Strings()), time.Now().UTC())
	if err != nil {
		return entitlement.Unavailable("failed to set permissions", err)
	}
	return requireRow(result, userID)
}

// RemoveMembership deletes a membership
func (s *PostgresActorStore) RemoveMembership(ctx context.Context, userID string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM tenant_members WHERE user_id = $1", userID)
	if err != nil {
		return entitlement.Unavailable("failed to remove membership", err)
	}
	return requireRow(result, userID)
}

func requireRow(result sql.Result, userID string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return entitlement.Unavailable("failed to read affected rows", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrActorNotFound, userID)
	}
	return nil
}
