package admin

import (
	"context"

	"github.com/xbcsmith/xzepr/internal/audit"
	"github.com/xbcsmith/xzepr/internal/authz"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/ratelimit"
	"go.uber.org/zap"
)

// PolicyController is the operational surface of the authorizer.
type PolicyController interface {
	Status() authz.Status
	Reset()
}

// RateLimitClearer drops stored rate limit windows.
type RateLimitClearer interface {
	Reset(ctx context.Context, class, key string) error
	ClearAll(ctx context.Context) (int, error)
}

// Auditor records administrative actions.
type Auditor interface {
	Log(ctx context.Context, event audit.Event) error
}

type Service struct {
	policy      PolicyController
	invalidator authz.InvalidationPublisher
	limiter     RateLimitClearer
	auditor     Auditor
	logger      *zap.Logger
}

func NewService(policy PolicyController, invalidator authz.InvalidationPublisher, limiter RateLimitClearer, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		policy:      policy,
		invalidator: invalidator,
		limiter:     limiter,
		logger:      logger,
	}
}

func (s *Service) WithAuditor(a Auditor) *Service {
	s.auditor = a
	return s
}

func (s *Service) record(ctx context.Context, event audit.Event) {
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Log(ctx, event); err != nil {
		s.logger.Warn("failed to record audit event",
			zap.String("action", event.Action),
			zap.Error(err),
		)
	}
}

func (s *Service) AuthzStatus() authz.Status {
	return s.policy.Status()
}

func (s *Service) ResetAuthz(ctx context.Context, callerID string) authz.Status {
	s.policy.Reset()
	s.logger.Warn("authorization breaker reset and cache cleared", zap.String("caller_id", callerID))
	s.record(ctx, audit.Event{ActorID: callerID, Action: audit.ActionAuthzReset})
	return s.policy.Status()
}

// Invalidate publishes an invalidation as if the resource had changed.
func (s *Service) Invalidate(ctx context.Context, callerID string, event opa.ResourceUpdatedEvent) error {
	if err := event.Validate(); err != nil {
		return errors.BadRequest(err.Error())
	}
	if err := s.invalidator.Publish(ctx, event); err != nil {
		return errors.Unavailable("invalidation broadcast failed", err)
	}
	target := event.ResourceID
	if target == "" {
		target = event.UserID
	}
	s.record(ctx, audit.Event{
		ActorID:      callerID,
		Action:       audit.ActionAuthzInvalidate,
		ResourceType: string(event.Kind),
		ResourceID:   target,
		Metadata:     map[string]any{"version": event.Version},
	})
	return nil
}

// ClearRateLimits clears one key in every class, or everything when key is
// empty. It returns how many windows or classes were cleared.
func (s *Service) ClearRateLimits(ctx context.Context, callerID, key string) (int, error) {
	if s.limiter == nil {
		return 0, errors.BadRequest("rate limiting is disabled")
	}

	cleared, err := s.clearRateLimits(ctx, key)
	if err != nil {
		return 0, errors.Unavailable("clear rate limits", err)
	}
	s.record(ctx, audit.Event{
		ActorID:      callerID,
		Action:       audit.ActionRateLimitClear,
		ResourceType: "rate_limit",
		ResourceID:   key,
		Metadata:     map[string]any{"cleared": cleared},
	})
	return cleared, nil
}

func (s *Service) clearRateLimits(ctx context.Context, key string) (int, error) {
	if key == "" {
		return s.limiter.ClearAll(ctx)
	}
	classes := []string{ratelimit.ClassDefault, ratelimit.ClassWrite, ratelimit.ClassAdmin}
	for _, class := range classes {
		if err := s.limiter.Reset(ctx, class, key); err != nil {
			return 0, err
		}
	}
	return len(classes), nil
}
