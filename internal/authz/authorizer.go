package authz

import (
	"context"
	"errors"
	"time"

	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/circuitbreaker"
	apperrors "github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/common/logging"
	"github.com/xbcsmith/xzepr/internal/observability"
	"go.uber.org/zap"
)

type Source string

const (
	SourceOPA      Source = "opa"
	SourceCache    Source = "cache"
	SourceRBAC     Source = "rbac"
	SourceFallback Source = "fallback"
)

type Result struct {
	Allowed bool
	Source  Source
	Reason  string
}

// Authorizer decides requests with the policy service when it is enabled and
// with the RBAC table otherwise. When the policy service is unavailable the
// RBAC table answers instead.
type Authorizer struct {
	client  *opa.Client
	rbac    *RBAC
	metrics *observability.AuthzMetrics
	logger  *zap.Logger
}

// NewAuthorizer accepts a nil client, which disables policy evaluation.
func NewAuthorizer(client *opa.Client, rbac *RBAC, metrics *observability.AuthzMetrics, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authorizer{
		client:  client,
		rbac:    rbac,
		metrics: metrics,
		logger:  logger,
	}

	if client != nil {
		breaker := client.CircuitBreaker()
		metrics.SetCircuitState(int(breaker.State()))
		breaker.OnStateChange(func(from, to circuitbreaker.State) {
			metrics.SetCircuitState(int(to))
			logger.Info("policy circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		})
	}

	return a
}

func (a *Authorizer) PolicyEnabled() bool {
	return a.client != nil
}

func (a *Authorizer) Authorize(ctx context.Context, user opa.UserContext, action string, res opa.ResourceContext) (Result, error) {
	start := time.Now()
	result, err := a.decide(ctx, user, action, res)
	if err != nil {
		return Result{}, err
	}

	a.metrics.RecordDecision(res.ResourceType, action, result.Allowed, string(result.Source), time.Since(start))
	logging.FromContext(ctx).Debug("authorization decision",
		zap.String("user_id", user.UserID),
		zap.String("action", action),
		zap.String("resource_type", res.ResourceType),
		zap.String("resource_id", res.ResourceID),
		zap.Bool("allowed", result.Allowed),
		zap.String("source", string(result.Source)),
	)
	return result, nil
}

func (a *Authorizer) decide(ctx context.Context, user opa.UserContext, action string, res opa.ResourceContext) (Result, error) {
	if a.client == nil {
		allowed, reason := a.rbac.Decide(user, action, res)
		return Result{Allowed: allowed, Source: SourceRBAC, Reason: reason}, nil
	}

	input := opa.PolicyInput{User: user, Action: action, Resource: res}
	decision, err := a.client.EvaluateWithCircuitBreaker(ctx, input, res.ResourceVersion)
	a.metrics.SetCacheEntries(a.client.Cache().Len())

	if err != nil {
		// Any admitted call missed the cache before it failed.
		if !errors.Is(err, opa.ErrCircuitOpen) {
			a.metrics.RecordCache(res.ResourceType, action, false)
		}
		if !opa.IsUnavailable(err) {
			return Result{}, err
		}
		kind, _ := opa.KindOf(err)
		a.metrics.RecordFallback(res.ResourceType, action, kind.String())
		logging.FromContext(ctx).Warn("policy service unavailable, using rbac fallback",
			zap.String("action", action),
			zap.String("resource_type", res.ResourceType),
			zap.Error(err),
		)
		allowed, reason := a.rbac.Decide(user, action, res)
		return Result{Allowed: allowed, Source: SourceFallback, Reason: reason}, nil
	}

	a.metrics.RecordCache(res.ResourceType, action, decision.Cached)
	source := SourceOPA
	if decision.Cached {
		source = SourceCache
	}
	return Result{Allowed: decision.Allow, Source: source, Reason: decision.Reason}, nil
}

// Require is Authorize mapped onto HTTP-facing errors: 403 on deny and 503
// when no decision could be reached.
func (a *Authorizer) Require(ctx context.Context, user opa.UserContext, action string, res opa.ResourceContext) error {
	result, err := a.Authorize(ctx, user, action, res)
	if err != nil {
		return apperrors.Unavailable("authorization unavailable", err)
	}
	if !result.Allowed {
		return apperrors.Forbidden("access denied")
	}
	return nil
}

type Status struct {
	PolicyEnabled   bool   `json:"policy_enabled"`
	Endpoint        string `json:"endpoint,omitempty"`
	CircuitState    string `json:"circuit_state,omitempty"`
	Failures        int    `json:"circuit_failures"`
	CacheEntries    int    `json:"cache_entries"`
	CacheTTLSeconds int    `json:"cache_ttl_seconds,omitempty"`
}

func (a *Authorizer) Status() Status {
	if a.client == nil {
		return Status{}
	}
	breaker := a.client.CircuitBreaker()
	cache := a.client.Cache()
	return Status{
		PolicyEnabled:   true,
		Endpoint:        a.client.Endpoint(),
		CircuitState:    breaker.State().String(),
		Failures:        breaker.Failures(),
		CacheEntries:    cache.Len(),
		CacheTTLSeconds: int(cache.TTL().Seconds()),
	}
}

// Reset closes the breaker and drops every cached decision.
func (a *Authorizer) Reset() {
	if a.client == nil {
		return
	}
	a.client.CircuitBreaker().Reset()
	a.client.Cache().Clear()
	a.metrics.SetCacheEntries(0)
}

// HealthCheck reports degraded while the policy breaker is not closed.
func (a *Authorizer) HealthCheck(context.Context) (observability.HealthStatus, string, error) {
	if a.client == nil {
		return observability.StatusHealthy, "policy evaluation disabled", nil
	}
	state := a.client.CircuitBreaker().State()
	if state != circuitbreaker.StateClosed {
		return observability.StatusDegraded, "circuit " + state.String(), nil
	}
	return observability.StatusHealthy, "", nil
}
