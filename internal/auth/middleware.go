package auth

import (
	"context"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/xbcsmith/xzepr/internal/auth/jwt"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/common/logging"
	"go.uber.org/zap"
)

type contextKey string

const (
	userKey   contextKey = "user"
	claimsKey contextKey = "claims"
)

// PermissionSource supplies roles and groups granted after a token was
// issued.
type PermissionSource interface {
	StoredPermissions(ctx context.Context, userID string) (roles, groups []string, err error)
}

type Middleware struct {
	jwtManager  *jwt.Manager
	permissions PermissionSource
}

func NewMiddleware(jwtManager *jwt.Manager) *Middleware {
	return &Middleware{jwtManager: jwtManager}
}

// WithPermissionSource merges stored roles and groups into every
// authenticated caller's token claims.
func (m *Middleware) WithPermissionSource(src PermissionSource) *Middleware {
	m.permissions = src
	return m
}

// Authenticate requires a valid bearer token and stores the caller's
// identity in the request context.
func (m *Middleware) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		logger := logging.FromContext(ctx)

		claims, err := m.authenticate(c.GetHeader("Authorization"))
		if err != nil {
			logger.Warn("authentication failed",
				zap.String("path", c.Request.URL.Path),
				zap.Error(err),
			)
			errors.Respond(c, err)
			return
		}

		if m.permissions != nil {
			claims = m.enrich(ctx, logger, claims)
		}

		ctx = ContextWithClaims(ctx, claims)
		ctx = logging.WithLogger(ctx, logger.With(
			zap.String("user_id", claims.UserID),
			zap.String("username", claims.Username),
		))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (m *Middleware) authenticate(header string) (*jwt.Claims, error) {
	if header == "" {
		return nil, errors.Unauthorized("missing authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, errors.Unauthorized("invalid authorization header format")
	}

	claims, err := m.jwtManager.ValidateAccessToken(token)
	if err != nil {
		return nil, errors.Unauthorized("invalid token")
	}
	return claims, nil
}

func (m *Middleware) enrich(ctx context.Context, logger *zap.Logger, claims *jwt.Claims) *jwt.Claims {
	roles, groups, err := m.permissions.StoredPermissions(ctx, claims.UserID)
	if err != nil {
		logger.Warn("failed to load stored permissions, using token claims",
			zap.String("user_id", claims.UserID),
			zap.Error(err),
		)
		return claims
	}

	enriched := *claims
	enriched.Roles = union(claims.Roles, roles)
	enriched.Groups = union(claims.Groups, groups)
	return &enriched
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}

// RequireRole rejects authenticated callers that hold none of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := UserFromContext(c.Request.Context())
		if !ok {
			errors.Respond(c, errors.Unauthorized("authentication required"))
			return
		}
		for _, r := range roles {
			if slices.Contains(user.Roles, r) {
				c.Next()
				return
			}
		}
		errors.Respond(c, errors.Forbidden("insufficient role"))
	}
}

func ContextWithClaims(ctx context.Context, claims *jwt.Claims) context.Context {
	user := opa.UserContext{
		UserID:   claims.UserID,
		Username: claims.Username,
		Roles:    nonNil(claims.Roles),
		Groups:   nonNil(claims.Groups),
	}
	ctx = context.WithValue(ctx, userKey, user)
	return context.WithValue(ctx, claimsKey, claims)
}

// UserFromContext returns the caller as the policy engine sees it.
func UserFromContext(ctx context.Context) (opa.UserContext, bool) {
	user, ok := ctx.Value(userKey).(opa.UserContext)
	return user, ok
}

func GetUserID(ctx context.Context) string {
	user, _ := UserFromContext(ctx)
	return user.UserID
}

func GetClaims(ctx context.Context) *jwt.Claims {
	if claims, ok := ctx.Value(claimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}

// UserID is a gin-facing accessor used to key per-user middleware.
func UserID(c *gin.Context) string {
	return GetUserID(c.Request.Context())
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
