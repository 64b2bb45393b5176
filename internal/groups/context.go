package groups

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

func (b *ContextBuilder) Build(ctx context.Context, id string) (opa.ResourceContext, error) {
	info, err := b.store.AuthzInfo(ctx, id)
	if err != nil {
		return opa.ResourceContext{}, err
	}
	members := info.Members
	if members == nil {
		members = []string{}
	}
	return opa.ResourceContext{
		ResourceType:    opa.ResourceTypeEventReceiverGroup,
		ResourceID:      id,
		OwnerID:         info.OwnerID,
		GroupID:         id,
		Members:         members,
		ResourceVersion: info.ResourceVersion,
	}, nil
}
