package rbac

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedActorStore fronts another ActorStore with a TTL-bounded LRU.
// Entries are dropped on every mutation made through this store; changes made
// by other processes become visible once the TTL expires.
type CachedActorStore struct {
	next  ActorStore
	cache *expirable.LRU[string, *Actor]
}

// NewCachedActorStore wraps next with a cache of at most size entries
func NewCachedActorStore(next ActorStore, size int, ttl time.Duration) *CachedActorStore {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedActorStore{
		next:  next,
		cache: expirable.NewLRU[string, *Actor](size, nil, ttl),
	}
}

func (s *CachedActorStore) LoadActor(ctx context.Context, userID string) (*Actor, error) {
	if actor, ok := s.cache.Get(userID); ok {
		return actor.Clone(), nil
	}

	actor, err := s.next.LoadActor(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(userID, actor.Clone())
	return actor, nil
}

func (s *CachedActorStore) GrantMembership(ctx context.Context, actor *Actor) error {
	defer s.cache.Remove(actor.UserID)
	return s.next.GrantMembership(ctx, actor)
}

func (s *CachedActorStore) SetPermissions(ctx context.Context, userID string, perms Permissions) error {
	defer s.cache.Remove(userID)
	return s.next.SetPermissions(ctx, userID, perms)
}

func (s *CachedActorStore) RemoveMembership(ctx context.Context, userID string) error {
	defer s.cache.Remove(userID)
	return s.next.RemoveMembership(ctx, userID)
}

// Len returns the number of cached memberships
func (s *CachedActorStore) Len() int {
	return s.cache.Len()
}
