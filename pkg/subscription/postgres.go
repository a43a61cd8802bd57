package subscription

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
)

// PostgresStore persists subscription state in the subscription_states table.
// Counter increments are a single conditional UPDATE so the row lock makes
// them linearizable per tenant.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new Postgres-backed store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

const selectState = `
	SELECT tenant_id, plan, used_units, version, cycle_start, next_reset_at, is_active, created_at, updated_at
	FROM subscription_states
	WHERE tenant_id = $1
`

func (s *PostgresStore) Load(ctx context.Context, tenantID string) (*State, error) {
	var state State
	err := s.db.QueryRowContext(ctx, selectState, tenantID).Scan(
		&state.TenantID,
		&state.Plan,
		&state.UsedUnits,
		&state.Version,
		&state.CycleStart,
		&state.NextResetAt,
		&state.Active,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	if err != nil {
		return nil, entitlement.Unavailable("failed to load subscription", err)
	}
	return &state, nil
}

func (s *PostgresStore) Create(ctx context.Context, state *State) (*State, error) {
	query := `
		INSERT INTO subscription_states (tenant_id, plan, used_units, version, cycle_start, next_reset_at, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, 1, $4, $5, $6, $7, $7)
		ON CONFLICT (tenant_id) DO NOTHING
		RETURNING version, created_at, updated_at
	`

	stored := state.Clone()
	now := s.now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}

	err := s.db.QueryRowContext(ctx, query,
		stored.TenantID,
		stored.Plan,
		stored.UsedUnits,
		stored.CycleStart.UTC(),
		stored.NextResetAt.UTC(),
		stored.Active,
		stored.CreatedAt.UTC(),
	).Scan(&stored.Version, &stored.CreatedAt, &stored.UpdatedAt)
	if err == sql.ErrNoRows {
		existing, err := s.Load(ctx, state.TenantID)
		if err != nil {
			return nil, err
		}
		return existing, ErrAlreadyExists
	}
	if err != nil {
		return nil, entitlement.Unavailable("failed to create subscription", err)
	}
	return stored, nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, tenantID string, ceiling, expectedVersion int64, reservationID string) (int64, error) {
	query := `
		WITH incremented AS (
			UPDATE subscription_states
			SET used_units = used_units + 1
			WHERE tenant_id = $1 AND version = $2 AND ($3::bigint < 0 OR used_units < $3::bigint)
			RETURNING tenant_id, used_units, version
		), reserved AS (
			INSERT INTO usage_reservations (reservation_id, tenant_id, version)
			SELECT $4::text, tenant_id, version FROM incremented WHERE $4::text <> ''
		)
		SELECT used_units FROM incremented
	`

	var used int64
	err := s.db.QueryRowContext(ctx, query, tenantID, expectedVersion, ceiling, reservationID).Scan(&used)
	if err == nil {
		return used, nil
	}
	if err != sql.ErrNoRows {
		return 0, entitlement.Unavailable("failed to increment usage", err)
	}

	current, err := s.Load(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if current.Version != expectedVersion {
		return current.UsedUnits, ErrVersionConflict
	}
	if ceiling >= 0 && current.UsedUnits >= ceiling {
		return current.UsedUnits, ErrCeilingReached
	}
	// The row changed between the UPDATE and the read; let the caller retry.
	return current.UsedUnits, ErrVersionConflict
}

func (s *PostgresStore) DecrementUsage(ctx context.Context, tenantID string, expectedVersion int64, reservationID string) (int64, error) {
	query := `
		WITH released AS (
			DELETE FROM usage_reservations
			WHERE reservation_id = $3 AND tenant_id = $1 AND version = $2
			RETURNING tenant_id
		)
		UPDATE subscription_states s
		SET used_units = GREATEST(s.used_units - 1, 0)
		FROM released
		WHERE s.tenant_id = released.tenant_id AND s.version = $2
		RETURNING s.used_units
	`

	var used int64
	err := s.db.QueryRowContext(ctx, query, tenantID, expectedVersion, reservationID).Scan(&used)
	if err == nil {
		return used, nil
	}
	if err != sql.ErrNoRows {
		return 0, entitlement.Unavailable("failed to decrement usage", err)
	}

	current, err := s.Load(ctx, tenantID)
	if err != nil {
		return 0, err
	}
	if current.Version != expectedVersion {
		return current.UsedUnits, ErrVersionConflict
	}
	return current.UsedUnits, ErrReservationNotFound
}

func (s *PostgresStore) Write(ctx context.Context, state *State, expectedVersion int64) (*State, error) {
	query := `
		WITH written AS (
			UPDATE subscription_states
			SET plan = $2,
				used_units = $3,
				cycle_start = $4,
				next_reset_at = $5,
				is_active = $6,
				updated_at = $7,
				version = version + 1
			WHERE tenant_id = $1 AND version = $8
			RETURNING version, created_at, updated_at
		), purged AS (
			DELETE FROM usage_reservations
			WHERE tenant_id = $1 AND EXISTS (SELECT 1 FROM written)
		)
		SELECT version, created_at, updated_at FROM written
	`

	stored := state.Clone()
	err := s.db.QueryRowContext(ctx, query,
		state.TenantID,
		state.Plan,
		state.UsedUnits,
		state.CycleStart.UTC(),
		state.NextResetAt.UTC(),
		state.Active,
		s.now().UTC(),
		expectedVersion,
	).Scan(&stored.Version, &stored.CreatedAt, &stored.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, s.classifyMiss(ctx, state.TenantID)
	}
	if err != nil {
		return nil, entitlement.Unavailable("failed to write subscription", err)
	}
	return stored, nil
}

func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}
	query := `
		SELECT tenant_id
		FROM subscription_states
		WHERE is_active AND next_reset_at <= $1
		ORDER BY next_reset_at, tenant_id
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, now.UTC(), limit)
	if err != nil {
		return nil, entitlement.Unavailable("failed to list due renewals", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var tenantID string
		if err := rows.Scan(&tenantID); err != nil {
			return nil, entitlement.Unavailable("failed to scan due renewal", err)
		}
		tenants = append(tenants, tenantID)
	}
	if err := rows.Err(); err != nil {
		return nil, entitlement.Unavailable("failed to list due renewals", err)
	}
	return tenants, nil
}

// classifyMiss explains why a conditional UPDATE matched no row
func (s *PostgresStore) classifyMiss(ctx context.Context, tenantID string) error {
	if _, err := s.Load(ctx, tenantID); err != nil {
		return err
	}
	return ErrVersionConflict
}
