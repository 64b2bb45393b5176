package authz

import (
	"github.com/gin-gonic/gin"
	"github.com/xbcsmith/xzepr/internal/auth"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/errors"
)

// RequireResource authorizes the caller for action on one resource and
// returns the context the decision was made on.
func RequireResource(c *gin.Context, enforcer Enforcer, builder ResourceContextBuilder, action, resourceID string) (opa.ResourceContext, error) {
	ctx := c.Request.Context()
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return opa.ResourceContext{}, errors.Unauthorized("authentication required")
	}

	res, err := builder.Build(ctx, resourceID)
	if err != nil {
		return opa.ResourceContext{}, err
	}
	if err := enforcer.Require(ctx, user, action, res); err != nil {
		return opa.ResourceContext{}, err
	}
	return res, nil
}

// RequireCollection authorizes the caller for action on a resource type.
func RequireCollection(c *gin.Context, enforcer Enforcer, resourceType, action string) (opa.UserContext, error) {
	ctx := c.Request.Context()
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return opa.UserContext{}, errors.Unauthorized("authentication required")
	}
	if err := enforcer.Require(ctx, user, action, CollectionContext(resourceType)); err != nil {
		return opa.UserContext{}, err
	}
	return user, nil
}
