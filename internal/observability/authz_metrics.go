package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AuthzMetrics exposes authorization outcomes keyed by resource type and action.
type AuthzMetrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	cacheHits    *prometheus.CounterVec
	cacheMisses  *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	breakerState prometheus.Gauge
	cacheEntries prometheus.Gauge
}

func NewAuthzMetrics(reg prometheus.Registerer) *AuthzMetrics {
	m := &AuthzMetrics{
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authorization_requests_total",
				Help: "Authorization decisions by outcome and decision source",
			},
			[]string{"resource_type", "action", "decision", "source"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authorization_duration_seconds",
				Help:    "Time spent reaching an authorization decision",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
			[]string{"resource_type", "action"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authorization_cache_hits_total",
				Help: "Authorization decisions served from cache",
			},
			[]string{"resource_type", "action"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authorization_cache_misses_total",
				Help: "Authorization decisions that required policy evaluation",
			},
			[]string{"resource_type", "action"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authorization_fallback_total",
				Help: "Authorization decisions made by legacy RBAC because the policy service was unavailable",
			},
			[]string{"resource_type", "action", "reason"},
		),
		breakerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authorization_circuit_breaker_state",
				Help: "Policy client circuit breaker state (0 closed, 1 open, 2 half-open)",
			},
		),
		cacheEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "authorization_cache_entries",
				Help: "Decisions currently held in the authorization cache",
			},
		),
	}

	reg.MustRegister(
		m.requests,
		m.duration,
		m.cacheHits,
		m.cacheMisses,
		m.fallbacks,
		m.breakerState,
		m.cacheEntries,
	)

	return m
}

func (m *AuthzMetrics) RecordDecision(resourceType, action string, allowed bool, source string, duration time.Duration) {
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.requests.WithLabelValues(resourceType, action, decision, source).Inc()
	m.duration.WithLabelValues(resourceType, action).Observe(duration.Seconds())
}

func (m *AuthzMetrics) RecordCache(resourceType, action string, hit bool) {
	if hit {
		m.cacheHits.WithLabelValues(resourceType, action).Inc()
		return
	}
	m.cacheMisses.WithLabelValues(resourceType, action).Inc()
}

func (m *AuthzMetrics) RecordFallback(resourceType, action, reason string) {
	m.fallbacks.WithLabelValues(resourceType, action, reason).Inc()
}

// SetCircuitState takes the breaker's numeric state (closed=0, open=1, half-open=2).
func (m *AuthzMetrics) SetCircuitState(state int) {
	m.breakerState.Set(float64(state))
}

func (m *AuthzMetrics) SetCacheEntries(n int) {
	m.cacheEntries.Set(float64(n))
}
