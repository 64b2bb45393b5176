package authz

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"go.uber.org/zap"
)

const InvalidationChannel = "xzepr:authz:invalidate"

// Bus carries invalidation messages between replicas.
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

type invalidationMessage struct {
	Sender string                   `json:"sender"`
	Event  opa.ResourceUpdatedEvent `json:"event"`
}

// Invalidator drops affected decisions from the local cache and tells the
// other replicas to do the same.
type Invalidator struct {
	cache    *opa.AuthorizationCache
	bus      Bus
	senderID string
	logger   *zap.Logger
}

// NewInvalidator accepts a nil cache (policy evaluation disabled) and a nil
// bus (single replica).
func NewInvalidator(cache *opa.AuthorizationCache, bus Bus, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{
		cache:    cache,
		bus:      bus,
		senderID: uuid.New().String(),
		logger:   logger,
	}
}

func (i *Invalidator) SenderID() string {
	return i.senderID
}

func (i *Invalidator) Publish(ctx context.Context, event opa.ResourceUpdatedEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid invalidation event: %w", err)
	}

	removed := i.apply(event)
	i.logger.Debug("authorization cache invalidated",
		zap.String("kind", string(event.Kind)),
		zap.String("resource_id", event.ResourceID),
		zap.String("user_id", event.UserID),
		zap.Int("removed", removed),
	)

	if i.bus == nil {
		return nil
	}

	payload, err := json.Marshal(invalidationMessage{Sender: i.senderID, Event: event})
	if err != nil {
		return fmt.Errorf("encode invalidation: %w", err)
	}
	if err := i.bus.Publish(ctx, InvalidationChannel, payload); err != nil {
		return fmt.Errorf("broadcast invalidation: %w", err)
	}
	return nil
}

// Run applies invalidations broadcast by other replicas until ctx is done.
func (i *Invalidator) Run(ctx context.Context) error {
	if i.bus == nil {
		<-ctx.Done()
		return nil
	}

	messages, err := i.bus.Subscribe(ctx, InvalidationChannel)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", InvalidationChannel, err)
	}

	i.logger.Info("listening for authorization invalidations", zap.String("channel", InvalidationChannel))

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-messages:
			if !ok {
				return nil
			}
			i.handle(payload)
		}
	}
}

func (i *Invalidator) handle(payload []byte) {
	var msg invalidationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		i.logger.Warn("dropping malformed invalidation", zap.Error(err))
		return
	}
	if msg.Sender == i.senderID {
		return
	}
	if err := msg.Event.Validate(); err != nil {
		i.logger.Warn("dropping invalid invalidation", zap.Error(err))
		return
	}

	removed := i.apply(msg.Event)
	i.logger.Debug("applied remote invalidation",
		zap.String("sender", msg.Sender),
		zap.String("kind", string(msg.Event.Kind)),
		zap.Int("removed", removed),
	)
}

func (i *Invalidator) apply(event opa.ResourceUpdatedEvent) int {
	if i.cache == nil {
		return 0
	}
	return event.Apply(i.cache)
}
