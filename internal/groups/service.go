package groups

import (
	"context"

	"github.com/google/uuid"
	"github.com/xbcsmith/xzepr/internal/authz"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/messaging"
	"go.uber.org/zap"
)

type Service struct {
	store       Store
	invalidator authz.InvalidationPublisher
	publisher   messaging.Publisher
	logger      *zap.Logger
}

func NewService(store Store, invalidator authz.InvalidationPublisher, publisher messaging.Publisher, logger *zap.Logger) *Service {
	if publisher == nil {
		publisher = messaging.NoopPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:       store,
		invalidator: invalidator,
		publisher:   publisher,
		logger:      logger,
	}
}

func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*EventReceiverGroup, error) {
	if ownerID == "" {
		return nil, errors.Unauthorized("user not authenticated")
	}
	if err := req.Validate(); err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	receiverIDs := req.EventReceiverIDs
	if receiverIDs == nil {
		receiverIDs = []string{}
	}

	g := &EventReceiverGroup{
		ID:               uuid.New().String(),
		Name:             req.Name,
		Type:             req.Type,
		Version:          req.Version,
		Description:      req.Description,
		Enabled:          enabled,
		OwnerID:          ownerID,
		EventReceiverIDs: receiverIDs,
	}
	if err := s.store.Create(ctx, g); err != nil {
		return nil, err
	}

	s.logger.Info("event receiver group created",
		zap.String("group_id", g.ID),
		zap.Int("receivers", len(g.EventReceiverIDs)),
	)
	for _, receiverID := range g.EventReceiverIDs {
		s.invalidate(ctx, opa.ReceiverUpdated(receiverID, 0))
	}
	messaging.Emit(ctx, s.publisher, s.logger, messaging.TypeReceiverGroupCreated, g.ID, g)
	return g, nil
}

func (s *Service) Get(ctx context.Context, id string) (*EventReceiverGroup, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*EventReceiverGroup, error) {
	return s.store.List(ctx, filter)
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*EventReceiverGroup, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	g, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(g)

	if err := s.store.Update(ctx, g); err != nil {
		return nil, err
	}

	s.invalidate(ctx, opa.GroupUpdated(g.ID, g.ResourceVersion))
	messaging.Emit(ctx, s.publisher, s.logger, messaging.TypeReceiverGroupUpdated, g.ID, g)
	return g, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	receiverIDs, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}

	s.invalidate(ctx, opa.GroupUpdated(id, 0))
	for _, receiverID := range receiverIDs {
		s.invalidate(ctx, opa.ReceiverUpdated(receiverID, 0))
	}
	messaging.Emit(ctx, s.publisher, s.logger, messaging.TypeReceiverGroupDeleted, id, map[string]string{"id": id})
	return nil
}

func (s *Service) AddReceiver(ctx context.Context, groupID, receiverID string) error {
	version, err := s.store.AddReceiver(ctx, groupID, receiverID)
	if err != nil {
		return err
	}
	s.invalidate(ctx, opa.GroupUpdated(groupID, version))
	s.invalidate(ctx, opa.ReceiverUpdated(receiverID, 0))
	s.emitMembership(ctx, groupID, "receiver_added", receiverID)
	return nil
}

func (s *Service) RemoveReceiver(ctx context.Context, groupID, receiverID string) error {
	version, err := s.store.RemoveReceiver(ctx, groupID, receiverID)
	if err != nil {
		return err
	}
	s.invalidate(ctx, opa.GroupUpdated(groupID, version))
	s.invalidate(ctx, opa.ReceiverUpdated(receiverID, 0))
	s.emitMembership(ctx, groupID, "receiver_removed", receiverID)
	return nil
}

// AddMember grants userID group access. The user's cached decisions are
// dropped everywhere, since membership feeds every receiver and event in
// the group.
func (s *Service) AddMember(ctx context.Context, groupID, userID, addedBy string) error {
	version, err := s.store.AddMember(ctx, groupID, userID, addedBy)
	if err != nil {
		return err
	}
	s.logger.Info("group member added",
		zap.String("group_id", groupID),
		zap.String("user_id", userID),
		zap.String("added_by", addedBy),
	)
	s.invalidate(ctx, opa.GroupUpdated(groupID, version))
	s.invalidate(ctx, opa.PermissionsChanged(userID))
	s.emitMembership(ctx, groupID, "member_added", userID)
	return nil
}

func (s *Service) RemoveMember(ctx context.Context, groupID, userID string) error {
	version, err := s.store.RemoveMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	s.logger.Info("group member removed",
		zap.String("group_id", groupID),
		zap.String("user_id", userID),
	)
	s.invalidate(ctx, opa.GroupUpdated(groupID, version))
	s.invalidate(ctx, opa.PermissionsChanged(userID))
	s.emitMembership(ctx, groupID, "member_removed", userID)
	return nil
}

func (s *Service) Members(ctx context.Context, groupID string) ([]Member, error) {
	return s.store.Members(ctx, groupID)
}

func (s *Service) emitMembership(ctx context.Context, groupID, change, subjectID string) {
	messaging.Emit(ctx, s.publisher, s.logger, messaging.TypeReceiverGroupUpdated, groupID, map[string]string{
		"id":     groupID,
		"change": change,
		"target": subjectID,
	})
}

func (s *Service) invalidate(ctx context.Context, event opa.ResourceUpdatedEvent) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to broadcast authorization invalidation",
			zap.String("kind", string(event.Kind)),
			zap.String("resource_id", event.ResourceID),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
	}
}
