package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/gatekeeper/pkg/entitlement"
)

// ErrInvalidPermissions is returned when a permission set or role cannot be
// granted in the target tenant.
var ErrInvalidPermissions = errors.New("invalid permissions")

// Service applies membership changes on behalf of an acting user
type Service struct {
	store  ActorStore
	model  *Model
	logger *logrus.Logger
}

// NewService creates a new membership service
func NewService(store ActorStore, model *Model, logger *logrus.Logger) *Service {
	if model == nil {
		model = NewModel("")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{store: store, model: model, logger: logger}
}

// Model returns the permission model used by the service
func (s *Service) Model() *Model {
	return s.model
}

// LoadActor resolves a user to its membership
func (s *Service) LoadActor(ctx context.Context, userID string) (*Actor, error) {
	return s.store.LoadActor(ctx, userID)
}

// UpdatePermissions replaces the permission set of userID
func (s *Service) UpdatePermissions(ctx context.Context, by *Actor, userID string, perms Permissions) (*Actor, error) {
	target, err := s.authorizeChange(ctx, by, userID)
	if err != nil {
		return nil, err
	}
	if err := s.validatePermissions(target.TenantID, perms); err != nil {
		return nil, err
	}

	normalized := perms.Normalize()
	if err := s.store.SetPermissions(ctx, userID, normalized); err != nil {
		return nil, fmt.Errorf("failed to update permissions: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":   target.TenantID,
		"user_id":     userID,
		"changed_by":  by.UserID,
		"permissions": normalized.Strings(),
	}).Info("Permissions updated")

	target.Permissions = normalized
	return target, nil
}

// GrantMembership adds a user to the acting user's tenant. A nil permission
// set receives the role defaults.
func (s *Service) GrantMembership(ctx context.Context, by *Actor, member *Actor) (*Actor, error) {
	if !s.model.CanManageAccess(by) {
		return nil, entitlement.ErrPermissionDenied
	}
	if member == nil || member.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidPermissions)
	}
	if member.TenantID == "" {
		member.TenantID = by.TenantID
	}
	if member.TenantID != by.TenantID {
		return nil, entitlement.ErrPermissionDenied
	}
	if !member.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidPermissions, member.Role)
	}
	if member.Role == RoleOwner && by.Role != RoleOwner {
		return nil, entitlement.ErrPermissionDenied
	}

	existing, err := s.store.LoadActor(ctx, member.UserID)
	switch {
	case err == nil:
		if existing.TenantID != by.TenantID {
			return nil, entitlement.ErrPermissionDenied
		}
	case !errors.Is(err, ErrActorNotFound):
		return nil, err
	}

	if member.Permissions == nil {
		member.Permissions = DefaultPermissions(member.Role)
	}
	if err := s.validatePermissions(member.TenantID, member.Permissions); err != nil {
		return nil, err
	}

	if err := s.store.GrantMembership(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to grant membership: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":  member.TenantID,
		"user_id":    member.UserID,
		"role":       member.Role,
		"changed_by": by.UserID,
	}).Info("Membership granted")

	return member, nil
}

// RemoveMembership removes userID from the acting user's tenant
func (s *Service) RemoveMembership(ctx context.Context, by *Actor, userID string) error {
	target, err := s.authorizeChange(ctx, by, userID)
	if err != nil {
		return err
	}
	if target.UserID == by.UserID {
		return fmt.Errorf("%w: cannot remove own membership", ErrInvalidPermissions)
	}

	if err := s.store.RemoveMembership(ctx, userID); err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"tenant_id":  target.TenantID,
		"user_id":    userID,
		"changed_by": by.UserID,
	}).Info("Membership removed")
	return nil
}

// authorizeChange checks that by may modify the membership of userID and
// returns the current membership.
func (s *Service) authorizeChange(ctx context.Context, by *Actor, userID string) (*Actor, error) {
	if !s.model.CanManageAccess(by) {
		return nil, entitlement.ErrPermissionDenied
	}

	target, err := s.store.LoadActor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if target.TenantID != by.TenantID {
		return nil, entitlement.ErrPermissionDenied
	}
	if target.Role == RoleOwner && by.Role != RoleOwner {
		return nil, entitlement.ErrPermissionDenied
	}
	return target, nil
}

func (s *Service) validatePermissions(tenantID string, perms Permissions) error {
	for _, m := range perms {
		if !m.Valid() {
			return fmt.Errorf("%w: unknown module %q", ErrInvalidPermissions, m)
		}
		if m == ModuleSubOperators && !s.model.IsPlatformTenant(tenantID) {
			return fmt.Errorf("%w: %s is only available to the platform tenant", ErrInvalidPermissions, m)
		}
	}
	return nil
}
