package authz

import (
	"context"

	"github.com/xbcsmith/xzepr/internal/authz/opa"
)

// ResourceContextBuilder loads the authorization attributes of one resource
// kind (owner, group, members, version) from storage.
type ResourceContextBuilder interface {
	Build(ctx context.Context, resourceID string) (opa.ResourceContext, error)
}

// BuilderFunc adapts a function to ResourceContextBuilder.
type BuilderFunc func(ctx context.Context, resourceID string) (opa.ResourceContext, error)

func (f BuilderFunc) Build(ctx context.Context, resourceID string) (opa.ResourceContext, error) {
	return f(ctx, resourceID)
}

// CollectionContext describes checks that target a resource type rather
// than an instance, such as create and list.
func CollectionContext(resourceType string) opa.ResourceContext {
	return opa.ResourceContext{ResourceType: resourceType, Members: []string{}}
}

// Enforcer is the slice of Authorizer that request handlers depend on.
type Enforcer interface {
	Require(ctx context.Context, user opa.UserContext, action string, res opa.ResourceContext) error
}

// InvalidationPublisher is the slice of Invalidator that domain services
// call after a committed change.
type InvalidationPublisher interface {
	Publish(ctx context.Context, event opa.ResourceUpdatedEvent) error
}

var (
	_ Enforcer              = (*Authorizer)(nil)
	_ InvalidationPublisher = (*Invalidator)(nil)
)
