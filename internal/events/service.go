package events

import (
	"context"

	"github.com/google/uuid"
	"github.com/xbcsmith/xzepr/internal/authz"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/common/pagination"
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

// Create stores the event and publishes it as a CloudEvent. A publish
// failure is logged and does not undo the event.
func (s *Service) Create(ctx context.Context, ownerID string, req CreateRequest) (*Event, error) {
	if ownerID == "" {
		return nil, errors.Unauthorized("user not authenticated")
	}
	if err := req.Validate(); err != nil {
		return nil, errors.BadRequest(err.Error())
	}

	success := true
	if req.Success != nil {
		success = *req.Success
	}

	e := &Event{
		ID:              uuid.New().String(),
		Name:            req.Name,
		Version:         req.Version,
		Release:         req.Release,
		PlatformID:      req.PlatformID,
		Package:         req.Package,
		Description:     req.Description,
		Payload:         payloadOrEmpty(req.Payload),
		Success:         success,
		EventReceiverID: req.EventReceiverID,
		OwnerID:         ownerID,
	}
	if err := s.store.Create(ctx, e); err != nil {
		return nil, err
	}

	s.logger.Debug("event created",
		zap.String("event_id", e.ID),
		zap.String("receiver_id", e.EventReceiverID),
	)
	s.invalidate(ctx, opa.EventChanged(e.ID, e.ResourceVersion))
	messaging.Emit(ctx, s.publisher, s.logger, messaging.TypeEventCreated, e.ID, e)
	return e, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Event, error) {
	return s.store.Get(ctx, id)
}

// ListByReceiver pages through a receiver's events newest first.
func (s *Service) ListByReceiver(ctx context.Context, receiverID, cursor string, limit int) (pagination.Page[*Event], error) {
	var after *pagination.Cursor
	if cursor != "" {
		decoded, err := pagination.DecodeCursor(cursor)
		if err != nil {
			return pagination.Page[*Event]{}, errors.BadRequest("invalid cursor")
		}
		after = decoded
	}

	items, err := s.store.ListByReceiver(ctx, receiverID, after, limit+1)
	if err != nil {
		return pagination.Page[*Event]{}, err
	}

	page := pagination.Page[*Event]{Items: items, PageSize: limit}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		page.NextCursor = pagination.NewCursor(last.ID, last.CreatedAt).Encode()
	}
	if page.Items == nil {
		page.Items = []*Event{}
	}
	return page, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}

	s.invalidate(ctx, opa.EventChanged(id, e.ResourceVersion+1))
	messaging.Emit(ctx, s.publisher, s.logger, messaging.TypeEventDeleted, id, map[string]string{
		"id":                id,
		"event_receiver_id": e.EventReceiverID,
	})
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
