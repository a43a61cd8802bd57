package subscription

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
)

// Script status codes. Counter values are never negative so they cannot
// collide with a real result.
const (
	scriptCeiling    = -1
	scriptConflict   = -2
	scriptMissing    = -3
	scriptUnreserved = -4
)

// KEYS[1] state hash, KEYS[2] reservation set. ARGV[1] ceiling, ARGV[2]
// expected version, ARGV[3] reservation id (may be empty).
var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -3
end
if tonumber(redis.call('HGET', KEYS[1], 'version')) ~= tonumber(ARGV[2]) then
	return -2
end
local ceiling = tonumber(ARGV[1])
local used = tonumber(redis.call('HGET', KEYS[1], 'used'))
if ceiling >= 0 and used >= ceiling then
	return -1
end
if ARGV[3] ~= '' then
	redis.call('SADD', KEYS[2], ARGV[3])
end
return redis.call('HINCRBY', KEYS[1], 'used', 1)
`)

// KEYS[1] state hash, KEYS[2] reservation set. ARGV[1] expected version,
// ARGV[2] reservation id.
var decrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -3
end
if tonumber(redis.call('HGET', KEYS[1], 'version')) ~= tonumber(ARGV[1]) then
	return -2
end
if redis.call('SREM', KEYS[2], ARGV[2]) == 0 then
	return -4
end
local used = tonumber(redis.call('HGET', KEYS[1], 'used'))
if used <= 0 then
	return 0
end
return redis.call('HINCRBY', KEYS[1], 'used', -1)
`)

// KEYS[1] state hash, KEYS[2] renewal index, KEYS[3] reservation set.
// ARGV: expected version, tenant, plan, used, cycle_start, next_reset_at,
// active, updated_at, renewal score.
var writeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return -3
end
local version = tonumber(redis.call('HGET', KEYS[1], 'version'))
if version ~= tonumber(ARGV[1]) then
	return -2
end
version = version + 1
redis.call('HSET', KEYS[1],
	'plan', ARGV[3],
	'used', ARGV[4],
	'cycle_start', ARGV[5],
	'next_reset_at', ARGV[6],
	'active', ARGV[7],
	'updated_at', ARGV[8],
	'version', version)
redis.call('DEL', KEYS[3])
if ARGV[7] == '1' then
	redis.call('ZADD', KEYS[2], ARGV[9], ARGV[2])
else
	redis.call('ZREM', KEYS[2], ARGV[2])
end
return version
`)

// KEYS[1] state hash, KEYS[2] renewal index.
// ARGV: tenant, plan, used, cycle_start, next_reset_at, active, created_at,
// updated_at, renewal score.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'plan', ARGV[2],
	'used', ARGV[3],
	'version', 1,
	'cycle_start', ARGV[4],
	'next_reset_at', ARGV[5],
	'active', ARGV[6],
	'created_at', ARGV[7],
	'updated_at', ARGV[8])
if ARGV[6] == '1' then
	redis.call('ZADD', KEYS[2], ARGV[9], ARGV[1])
end
return 1
`)

// RedisStore keeps each tenant in a hash and indexes active tenants by their
// next reset time in a sorted set. Counter and state mutations run as Lua
// scripts so each one is atomic on the server.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed store. Keys are namespaced by prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gatekeeper"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) stateKey(tenantID string) string {
	return fmt.Sprintf("%s:sub:%s", s.prefix, tenantID)
}

func (s *RedisStore) reservationsKey(tenantID string) string {
	return fmt.Sprintf("%s:res:%s", s.prefix, tenantID)
}

func (s *RedisStore) renewalsKey() string {
	return s.prefix + ":renewals"
}

func (s *RedisStore) Load(ctx context.Context, tenantID string) (*State, error) {
	fields, err := s.client.HGetAll(ctx, s.stateKey(tenantID)).Result()
	if err != nil {
		return nil, entitlement.Unavailable("failed to load subscription", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	}
	state, err := decodeState(tenantID, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to decode subscription %s: %w", tenantID, err)
	}
	return state, nil
}

func (s *RedisStore) Create(ctx context.Context, state *State) (*State, error) {
	now := s.now().UTC()
	stored := state.Clone()
	stored.Version = 1
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	created, err := createScript.Run(ctx, s.client,
		[]string{s.stateKey(state.TenantID), s.renewalsKey()},
		stored.TenantID,
		stored.Plan,
		stored.UsedUnits,
		formatTime(stored.CycleStart),
		formatTime(stored.NextResetAt),
		formatBool(stored.Active),
		formatTime(stored.CreatedAt),
		formatTime(stored.UpdatedAt),
		renewalScore(stored.NextResetAt),
	).Int64()
	if err != nil {
		return nil, entitlement.Unavailable("failed to create subscription", err)
	}

	if created == 0 {
		existing, err := s.Load(ctx, state.TenantID)
		if err != nil {
			return nil, err
		}
		return existing, ErrAlreadyExists
	}
	return stored, nil
}

func (s *RedisStore) IncrementUsage(ctx context.Context, tenantID string, ceiling, expectedVersion int64, reservationID string) (int64, error) {
	result, err := incrementScript.Run(ctx, s.client,
		[]string{s.stateKey(tenantID), s.reservationsKey(tenantID)},
		ceiling, expectedVersion, reservationID,
	).Int64()
	if err != nil {
		return 0, entitlement.Unavailable("failed to increment usage", err)
	}
	return result, scriptError(result, tenantID)
}

func (s *RedisStore) DecrementUsage(ctx context.Context, tenantID string, expectedVersion int64, reservationID string) (int64, error) {
	result, err := decrementScript.Run(ctx, s.client,
		[]string{s.stateKey(tenantID), s.reservationsKey(tenantID)},
		expectedVersion, reservationID,
	).Int64()
	if err != nil {
		return 0, entitlement.Unavailable("failed to decrement usage", err)
	}
	return result, scriptError(result, tenantID)
}

func (s *RedisStore) Write(ctx context.Context, state *State, expectedVersion int64) (*State, error) {
	now := s.now().UTC()

	version, err := writeScript.Run(ctx, s.client,
		[]string{s.stateKey(state.TenantID), s.renewalsKey(), s.reservationsKey(state.TenantID)},
		expectedVersion,
		state.TenantID,
		state.Plan,
		state.UsedUnits,
		formatTime(state.CycleStart),
		formatTime(state.NextResetAt),
		formatBool(state.Active),
		formatTime(now),
		renewalScore(state.NextResetAt),
	).Int64()
	if err != nil {
		return nil, entitlement.Unavailable("failed to write subscription", err)
	}
	if err := scriptError(version, state.TenantID); err != nil {
		return nil, err
	}

	stored := state.Clone()
	stored.Version = version
	stored.UpdatedAt = now
	return stored, nil
}

func (s *RedisStore) ListDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.Unix(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}

	tenants, err := s.client.ZRangeByScore(ctx, s.renewalsKey(), opt).Result()
	if err != nil {
		return nil, entitlement.Unavailable("failed to list due renewals", err)
	}
	return tenants, nil
}

func scriptError(result int64, tenantID string) error {
	switch result {
	case scriptCeiling:
		return ErrCeilingReached
	case scriptConflict:
		return ErrVersionConflict
	case scriptMissing:
		return fmt.Errorf("%w: %s", ErrNotFound, tenantID)
	case scriptUnreserved:
		return ErrReservationNotFound
	}
	return nil
}

func decodeState(tenantID string, fields map[string]string) (*State, error) {
	state := &State{TenantID: tenantID, Plan: fields["plan"]}

	var err error
	if state.UsedUnits, err = strconv.ParseInt(fields["used"], 10, 64); err != nil {
		return nil, fmt.Errorf("invalid used: %w", err)
	}
	if state.Version, err = strconv.ParseInt(fields["version"], 10, 64); err != nil {
		return nil, fmt.Errorf("invalid version: %w", err)
	}
	if state.CycleStart, err = parseTime(fields["cycle_start"]); err != nil {
		return nil, fmt.Errorf("invalid cycle_start: %w", err)
	}
	if state.NextResetAt, err = parseTime(fields["next_reset_at"]); err != nil {
		return nil, fmt.Errorf("invalid next_reset_at: %w", err)
	}
	if state.CreatedAt, err = parseTime(fields["created_at"]); err != nil {
		return nil, fmt.Errorf("invalid created_at: %w", err)
	}
	if state.UpdatedAt, err = parseTime(fields["updated_at"]); err != nil {
		return nil, fmt.Errorf("invalid updated_at: %w", err)
	}
	state.Active = fields["active"] == "1"
	return state, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, v)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func renewalScore(t time.Time) float64 {
	return float64(t.Unix())
}
