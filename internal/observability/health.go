package observability

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
}

// HealthCheck reports a component's status. A non-nil error marks the
// component unhealthy regardless of the returned status.
type HealthCheck func(context.Context) (HealthStatus, string, error)

type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]HealthCheck
	logger    *zap.Logger
	startTime time.Time
	version   string
}

func NewHealthChecker(logger *zap.Logger, version string) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		checks:    make(map[string]HealthCheck),
		logger:    logger,
		startTime: time.Now(),
		version:   version,
	}
}

func (h *HealthChecker) RegisterCheck(name string, check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// PingCheck adapts a plain ping function, such as a database or redis
// health probe, into a HealthCheck.
func PingCheck(ping func(context.Context) error) HealthCheck {
	return func(ctx context.Context) (HealthStatus, string, error) {
		if err := ping(ctx); err != nil {
			return StatusUnhealthy, "", err
		}
		return StatusHealthy, "", nil
	}
}

func (h *HealthChecker) Register(r gin.IRoutes) {
	r.GET("/health", h.handleHealth)
	r.GET("/health/ready", h.handleReadiness)
	r.GET("/health/live", h.handleLiveness)
}

func (h *HealthChecker) snapshot() map[string]HealthCheck {
	h.mu.RLock()
	defer h.mu.RUnlock()
	checks := make(map[string]HealthCheck, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	return checks
}

func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	checks := h.snapshot()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]ComponentHealth, len(checks))
	overall := StatusHealthy

	for _, name := range names {
		start := time.Now()
		status, message, err := checks[name](ctx)

		component := ComponentHealth{
			Status:  status,
			Message: message,
			Latency: time.Since(start).String(),
		}
		if err != nil {
			component.Status = StatusUnhealthy
			component.Message = err.Error()
		}
		components[name] = component

		switch component.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall != StatusUnhealthy {
				overall = StatusDegraded
			}
		}
	}

	return HealthResponse{
		Status:     overall,
		Timestamp:  time.Now(),
		Components: components,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
	}
}

func (h *HealthChecker) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := h.Check(ctx)
	status := http.StatusOK
	if resp.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
		h.logger.Warn("health check failed", zap.Any("components", resp.Components))
	}
	c.JSON(status, resp)
}

func (h *HealthChecker) handleReadiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	for _, check := range h.snapshot() {
		status, _, err := check(ctx)
		if err != nil || status == StatusUnhealthy {
			c.String(http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	c.String(http.StatusOK, "ready")
}

func (h *HealthChecker) handleLiveness(c *gin.Context) {
	c.String(http.StatusOK, "alive")
}
