package events

import (
	"context"

	"github.com/xbcsmith/xzepr/internal/authz/opa"
)

type ContextBuilder struct {
	store Store
}

func NewContextBuilder(store Store) *ContextBuilder {
	return &ContextBuilder{store: store}
}

// Build describes an existing event. Owner is the event's poster; group and
// members are inherited from its receiver.
func (b *ContextBuilder) Build(ctx context.Context, id string) (opa.ResourceContext, error) {
	info, err := b.store.AuthzInfo(ctx, id)
	if err != nil {
		return opa.ResourceContext{}, err
	}
	return resourceContext(id, info), nil
}

// ForReceiver describes the events of one receiver, for create and list.
// The receiver id stands in as the resource id so decisions for different
// receivers never share a cache key.
func (b *ContextBuilder) ForReceiver(ctx context.Context, receiverID string) (opa.ResourceContext, error) {
	info, err := b.store.ReceiverInfo(ctx, receiverID)
	if err != nil {
		return opa.ResourceContext{}, err
	}
	return resourceContext(receiverID, info), nil
}

func resourceContext(id string, info AuthzInfo) opa.ResourceContext {
	members := info.Members
	if members == nil {
		members = []string{}
	}
	return opa.ResourceContext{
		ResourceType:    opa.ResourceTypeEvent,
		ResourceID:      id,
		OwnerID:         info.OwnerID,
		GroupID:         info.GroupID,
		Members:         members,
		ResourceVersion: info.ResourceVersion,
	}
}
