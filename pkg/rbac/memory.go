package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryActorStore is an in-process ActorStore for tests and single-node use
type MemoryActorStore struct {
	mu     sync.RWMutex
	actors map[string]*Actor
}

// NewMemoryActorStore creates an empty in-memory actor store
func NewMemoryActorStore() *MemoryActorStore {
	return &MemoryActorStore{actors: make(map[string]*Actor)}
}

func (s *MemoryActorStore) LoadActor(ctx context.Context, userID string) (*Actor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	actor, ok := s.actors[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrActorNotFound, userID)
	}
	return actor.Clone(), nil
}

func (s *MemoryActorStore) GrantMembership(ctx context.Context, actor *Actor) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	stored := actor.Clone()
	stored.Permissions = stored.Permissions.Normalize()
	stored.UpdatedAt = now
	if existing, ok := s.actors[actor.UserID]; ok {
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.CreatedAt = now
	}
	s.actors[actor.UserID] = stored

	actor.Permissions = stored.Permissions
	actor.CreatedAt = stored.CreatedAt
	actor.UpdatedAt = now
	return nil
}

func (s *MemoryActorStore) SetPermissions(ctx context.Context, userID string, perms Permissions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	actor, ok := s.actors[userID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrActorNotFound, userID)
	}
	actor.Permissions = append(Permissions(nil), perms...).Normalize()
	actor.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryActorStore) RemoveMembership(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.actors[userID]; !ok {
		return fmt.Errorf("%w: %s", ErrActorNotFound, userID)
	}
	delete(s.actors, userID)
	return nil
}

// CountStaff counts the non-owner members of a tenant
func (s *MemoryActorStore) CountStaff(ctx context.Context, tenantID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, a := range s.actors {
		if a.TenantID == tenantID && a.Role != RoleOwner {
			n++
		}
	}
	return n, nil
}
