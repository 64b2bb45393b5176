package receivers

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

func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*EventReceiver, error) {
	if ownerID == "" {
		return nil, errors.Unauthorized("user not authenticated")
	}
	if err := req.Validate(); err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	rec := &EventReceiver{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Type:        req.Type,
		Version:     req.Version,
		Description: req.Description,
		Schema:      schemaOrEmpty(req.Schema),
		OwnerID:     ownerID,
	}
	rec.Fingerprint = Fingerprint(rec.Name, rec.Type, rec.Version, rec.Schema)

	if err := s.store.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("event receiver created",
		zap.String("receiver_id", rec.ID),
		zap.String("owner_id", ownerID),
	)
	messaging.Emit(ctx, s.publisher, s.logger, messaging.TypeReceiverCreated, rec.ID, rec)
	return rec, nil
}

func (s *Service) Get(ctx context.Context, id string) (*EventReceiver, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]*EventReceiver, error) {
	return s.store.List(ctx, filter)
}

func (s *Service) Update(ctx context.Context, id string, req UpdateRequest) (*EventReceiver, error) {
	if err := req.Validate(); err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	req.apply(rec)

	if err := s.store.Update(ctx, rec); err != nil {
		return nil, err
	}

	s.invalidate(ctx, opa.ReceiverUpdated(rec.ID, rec.ResourceVersion))
	messaging.Emit(ctx, s.publisher, s.logger, messaging.TypeReceiverUpdated, rec.ID, rec)
	return rec, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, opa.ReceiverUpdated(id, rec.ResourceVersion+1))
	messaging.Emit(ctx, s.publisher, s.logger, messaging.TypeReceiverDeleted, id, map[string]string{"id": id})
	return nil
}

func (s *Service) invalidate(ctx context.Context, event opa.ResourceUpdatedEvent) {
	if s.invalidator == nil {
		return
	}
	if err := s.invalidator.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to broadcast authorization invalidation",
			zap.String("kind", string(event.Kind)),
			zap.String("resource_id", event.ResourceID),
			zap.Error(err),
		)
	}
}
