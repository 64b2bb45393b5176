package opa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/xbcsmith/xzepr/internal/circuitbreaker"
	"github.com/xbcsmith/xzepr/internal/common/config"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

type Client struct {
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	cache      *AuthorizationCache
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithCache(cache *AuthorizationCache) Option {
	return func(c *Client) { c.cache = cache }
}

func WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient validates cfg and builds a client owning its cache and breaker.
// Invalid configuration returns a KindConfiguration error; callers should
// refuse to start.
func NewClient(cfg config.OPAConfig, opts ...Option) (*Client, error) {
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		return nil, newError(KindConfiguration, "invalid opa config", err)
	}

	threshold := cfg.CircuitFailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cbTimeout := cfg.CircuitTimeout()
	if cbTimeout <= 0 {
		cbTimeout = 30 * time.Second
	}

	c := &Client{
		endpoint: strings.TrimRight(cfg.URL, "/") + "/" + strings.TrimLeft(cfg.PolicyPath, "/"),
		timeout:  cfg.Timeout(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: c.timeout}
	}
	if c.cache == nil {
		c.cache = NewAuthorizationCache(cfg.CacheTTL())
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.New(threshold, cbTimeout)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	return c, nil
}

func (c *Client) Cache() *AuthorizationCache {
	return c.cache
}

func (c *Client) CircuitBreaker() *circuitbreaker.CircuitBreaker {
	return c.breaker
}

func (c *Client) Endpoint() string {
	return c.endpoint
}

// Evaluate posts input to the policy endpoint. It never touches the cache or
// the circuit breaker.
func (c *Client) Evaluate(ctx context.Context, input PolicyInput) (*Decision, error) {
	body, err := json.Marshal(evaluateRequest{Input: input})
	if err != nil {
		return nil, newError(KindRequestFailed, "encode policy input", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, newError(KindRequestFailed, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, newError(KindTimeout, fmt.Sprintf("no response within %s", c.timeout), err)
		}
		return nil, newError(KindRequestFailed, "post policy query", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, newError(KindInvalidResponse, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, newError(KindTimeout, "reading response", err)
		}
		return nil, newError(KindRequestFailed, "read response", err)
	}

	var out evaluateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, newError(KindInvalidResponse, "decode response", err)
	}
	if out.Result == nil {
		return nil, newError(KindEvaluation, "response carried no decision", nil)
	}

	return out.Result, nil
}

// EvaluateWithCache answers from the cache when possible. Only successful
// evaluations are cached; errors propagate so the next call retries.
func (c *Client) EvaluateWithCache(ctx context.Context, input PolicyInput, resourceVersion int64) (*Decision, error) {
	key := NewCacheKey(input, resourceVersion)

	if allow, ok := c.cache.Get(key); ok {
		c.logger.Debug("authorization cache hit",
			zap.String("user_id", key.UserID),
			zap.String("action", key.Action),
			zap.String("resource_type", key.ResourceType),
			zap.String("resource_id", key.ResourceID),
			zap.Int64("resource_version", key.ResourceVersion),
		)
		return &Decision{Allow: allow, Reason: cachedDecisionReason, Cached: true}, nil
	}

	decision, err := c.Evaluate(ctx, input)
	if err != nil {
		return nil, err
	}

	c.cache.Set(key, decision.Allow)
	return decision, nil
}

// EvaluateWithCircuitBreaker runs EvaluateWithCache behind the breaker. When
// the breaker rejects the call the result is a KindCircuitOpen error.
func (c *Client) EvaluateWithCircuitBreaker(ctx context.Context, input PolicyInput, resourceVersion int64) (*Decision, error) {
	decision, err := circuitbreaker.Execute(ctx, c.breaker, func(ctx context.Context) (*Decision, error) {
		return c.EvaluateWithCache(ctx, input, resourceVersion)
	})
	if err == nil {
		return decision, nil
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return nil, newError(KindCircuitOpen, "policy evaluation skipped", err)
	}

	var callErr *circuitbreaker.CallFailedError
	if errors.As(err, &callErr) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, callErr.Err
		}
		c.logger.Warn("policy evaluation failed",
			zap.String("action", input.Action),
			zap.String("resource_type", input.Resource.ResourceType),
			zap.String("breaker_state", c.breaker.State().String()),
			zap.Error(callErr.Err),
		)
		return nil, callErr.Err
	}
	return nil, err
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
