package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/xbcsmith/xzepr/internal/common/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const keyPrefix = "ratelimit:"

// Counter is a shared fixed-window counter store, normally Redis.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

type LimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

const (
	ClassDefault = "default"
	ClassWrite   = "write"
	ClassAdmin   = "admin"
)

type Limiter struct {
	mu          sync.Mutex
	counter     Counter
	enabled     bool
	limits      map[string]LimitConfig
	local       map[string]*rate.Limiter
	logger      *zap.Logger
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewLimiter uses counter when non-nil and falls back to per-process token
// buckets otherwise, or when the counter errors.
func NewLimiter(counter Counter, cfg config.RateLimitConfig, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	write := cfg.RequestsPerMinute / 4
	if write < 1 {
		write = 1
	}
	l := &Limiter{
		counter: counter,
		enabled: cfg.Enabled,
		limits: map[string]LimitConfig{
			ClassDefault: {RequestsPerMinute: cfg.RequestsPerMinute, Burst: cfg.Burst},
			ClassWrite:   {RequestsPerMinute: write, Burst: max(cfg.Burst/4, 1)},
			ClassAdmin:   {RequestsPerMinute: 30, Burst: 5},
		},
		local:       make(map[string]*rate.Limiter),
		logger:      logger,
		cleanupDone: make(chan struct{}),
	}

	if l.enabled {
		go l.cleanup()
	}
	return l
}

func (l *Limiter) limitFor(class string) LimitConfig {
	if cfg, ok := l.limits[class]; ok {
		return cfg
	}
	return l.limits[ClassDefault]
}

func (l *Limiter) Allow(ctx context.Context, class, key string) bool {
	if !l.enabled {
		return true
	}

	cfg := l.limitFor(class)
	fullKey := keyPrefix + class + ":" + key

	if l.counter != nil {
		count, err := l.counter.IncrWindow(ctx, fullKey, time.Minute)
		if err == nil {
			return count <= int64(cfg.RequestsPerMinute)
		}
		l.logger.Warn("rate limit counter unavailable, using local limiter", zap.Error(err))
	}

	return l.allowLocal(fullKey, cfg)
}

func (l *Limiter) allowLocal(key string, cfg LimitConfig) bool {
	l.mu.Lock()
	limiter, ok := l.local[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.Burst)
		l.local[key] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}

func (l *Limiter) Reset(ctx context.Context, class, key string) error {
	fullKey := keyPrefix + class + ":" + key

	l.mu.Lock()
	delete(l.local, fullKey)
	l.mu.Unlock()

	if l.counter != nil {
		return l.counter.Delete(ctx, fullKey)
	}
	return nil
}

// ClearAll drops every local bucket and every shared counter.
func (l *Limiter) ClearAll(ctx context.Context) (int, error) {
	l.mu.Lock()
	removed := len(l.local)
	l.local = make(map[string]*rate.Limiter)
	l.mu.Unlock()

	if l.counter != nil {
		n, err := l.counter.DeletePattern(ctx, keyPrefix+"*")
		return removed + n, err
	}
	return removed, nil
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			l.local = make(map[string]*rate.Limiter)
			l.mu.Unlock()
		case <-l.cleanupDone:
			return
		}
	}
}

func (l *Limiter) Close() {
	l.closeOnce.Do(func() { close(l.cleanupDone) })
}
