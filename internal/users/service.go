package users

import (
	"context"

	"github.com/xbcsmith/xzepr/internal/authz"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"go.uber.org/zap"
)

// GroupMembership is the slice of the groups service that users manage
// membership through, so group versions and invalidation stay in one place.
type GroupMembership interface {
	AddMember(ctx context.Context, groupID, userID, addedBy string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
}

type RoleValidator interface {
	IsRole(name string) bool
}

type Service struct {
	store       Store
	roles       RoleValidator
	groups      GroupMembership
	invalidator authz.InvalidationPublisher
	logger      *zap.Logger
}

func NewService(store Store, roles RoleValidator, groups GroupMembership, invalidator authz.InvalidationPublisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		roles:       roles,
		groups:      groups,
		invalidator: invalidator,
		logger:      logger,
	}
}

func (s *Service) Permissions(ctx context.Context, userID string) (*Permissions, error) {
	if userID == "" {
		return nil, errors.BadRequest("user id is required")
	}
	return s.store.Permissions(ctx, userID)
}

func (s *Service) AssignRole(ctx context.Context, userID, role, grantedBy string) error {
	if !s.roles.IsRole(role) {
		return errors.BadRequest("unknown role " + role)
	}
	if err := s.store.AssignRole(ctx, userID, role, grantedBy); err != nil {
		return err
	}

	s.logger.Info("role assigned",
		zap.String("user_id", userID),
		zap.String("role", role),
		zap.String("granted_by", grantedBy),
	)
	s.changed(ctx, userID)
	return nil
}

func (s *Service) RemoveRole(ctx context.Context, userID, role string) error {
	if err := s.store.RemoveRole(ctx, userID, role); err != nil {
		return err
	}

	s.logger.Info("role removed",
		zap.String("user_id", userID),
		zap.String("role", role),
	)
	s.changed(ctx, userID)
	return nil
}

// AddToGroup and RemoveFromGroup delegate to the groups service, which
// emits the permission change.
func (s *Service) AddToGroup(ctx context.Context, userID, groupID, addedBy string) error {
	return s.groups.AddMember(ctx, groupID, userID, addedBy)
}

func (s *Service) RemoveFromGroup(ctx context.Context, userID, groupID string) error {
	return s.groups.RemoveMember(ctx, groupID, userID)
}

func (s *Service) changed(ctx context.Context, userID string) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Publish(ctx, opa.PermissionsChanged(userID)); err != nil {
		s.logger.Warn("failed to broadcast authorization invalidation",
			zap.String("user_id", userID),
			zap.Error(err),
		)
	}
}

type forgettingPublisher struct {
	next  authz.InvalidationPublisher
	store Store
}

// ForgetOnChange wraps next so every UserPermissionsChanged event also drops
// the user's cached permissions, whichever service raised it.
func ForgetOnChange(next authz.InvalidationPublisher, store Store) authz.InvalidationPublisher {
	return &forgettingPublisher{next: next, store: store}
}

func (p *forgettingPublisher) Publish(ctx context.Context, event opa.ResourceUpdatedEvent) error {
	if event.Kind == opa.UserPermissionsChanged {
		p.store.Forget(ctx, event.UserID)
	}
	return p.next.Publish(ctx, event)
}

// StoredPermissions returns the roles and groups held in storage. It backs
// token enrichment in the auth middleware.
func (s *Service) StoredPermissions(ctx context.Context, userID string) ([]string, []string, error) {
	perms, err := s.store.Permissions(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return perms.Roles, perms.Groups, nil
}
