package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"github.com/xbcsmith/xzepr/internal/circuitbreaker"
	"github.com/xbcsmith/xzepr/internal/common/config"
	apperrors "github.com/xbcsmith/xzepr/internal/common/errors"
	"github.com/xbcsmith/xzepr/internal/observability"
	"go.uber.org/zap"
)

const testPolicyPath = "/v1/data/xzepr/rbac/allow"

type fakeOPA struct {
	*httptest.Server
	calls atomic.Int32
}

func newFakeOPA(t *testing.T, status int, body string) *fakeOPA {
	t.Helper()
	f := &fakeOPA{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.Close)
	return f
}

func newOPAClient(t *testing.T, url string, threshold int) *opa.Client {
	t.Helper()
	client, err := opa.NewClient(config.OPAConfig{
		Enabled:         true,
		URL:             url,
		TimeoutSeconds:  2,
		PolicyPath:      testPolicyPath,
		CacheTTLSeconds: 300,
	},
		opa.WithCircuitBreaker(circuitbreaker.New(threshold, time.Minute)),
		opa.WithLogger(zap.NewNop()),
	)
	require.NoError(t, err)
	return client
}

func assertSeries(t *testing.T, reg *prometheus.Registry, name string, want int) {
	t.Helper()
	got, err := testutil.GatherAndCount(reg, name)
	require.NoError(t, err)
	assert.Equal(t, want, got, name)
}

func newTestAuthorizer(t *testing.T, client *opa.Client) (*Authorizer, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewAuthorizer(client, NewRBAC(), observability.NewAuthzMetrics(reg), zap.NewNop()), reg
}

var (
	viewer = opa.UserContext{UserID: "u-viewer", Username: "viewer", Roles: []string{RoleNameEventViewer}, Groups: []string{}}
	recv   = opa.ResourceContext{
		ResourceType:    opa.ResourceTypeEventReceiver,
		ResourceID:      "recv-1",
		OwnerID:         "u-owner",
		Members:         []string{},
		ResourceVersion: 3,
	}
)

func TestAuthorizeWithoutPolicyService(t *testing.T) {
	a, _ := newTestAuthorizer(t, nil)
	ctx := context.Background()

	result, err := a.Authorize(ctx, viewer, ActionRead, recv)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, SourceRBAC, result.Source)

	result, err = a.Authorize(ctx, viewer, ActionDelete, recv)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	assert.False(t, a.PolicyEnabled())
	assert.Equal(t, Status{}, a.Status())
}

func TestAuthorizeUsesPolicyThenCache(t *testing.T) {
	server := newFakeOPA(t, http.StatusOK, `{"result":{"allow":true,"reason":"policy says yes"}}`)
	a, reg := newTestAuthorizer(t, newOPAClient(t, server.URL, 3))
	ctx := context.Background()

	// The viewer cannot delete under RBAC, so an allow here comes from the policy.
	result, err := a.Authorize(ctx, viewer, ActionDelete, recv)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, SourceOPA, result.Source)
	assert.Equal(t, "policy says yes", result.Reason)

	result, err = a.Authorize(ctx, viewer, ActionDelete, recv)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, SourceCache, result.Source)
	assert.Equal(t, int32(1), server.calls.Load())

	assertSeries(t, reg, "authorization_cache_hits_total", 1)
	assertSeries(t, reg, "authorization_cache_misses_total", 1)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP authorization_cache_entries Decisions currently held in the authorization cache
# TYPE authorization_cache_entries gauge
authorization_cache_entries 1
`), "authorization_cache_entries"))

	status := a.Status()
	assert.True(t, status.PolicyEnabled)
	assert.Equal(t, "closed", status.CircuitState)
	assert.Equal(t, 1, status.CacheEntries)
	assert.Equal(t, 300, status.CacheTTLSeconds)
}

func TestAuthorizeFallsBackWhenPolicyUnreachable(t *testing.T) {
	server := newFakeOPA(t, http.StatusOK, `{}`)
	url := server.URL
	server.Close()

	a, reg := newTestAuthorizer(t, newOPAClient(t, url, 2))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := a.Authorize(ctx, viewer, ActionRead, recv)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, SourceFallback, result.Source)
	}

	// Two request failures open the breaker, the third call is rejected by it.
	assertSeries(t, reg, "authorization_fallback_total", 2)
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP authorization_cache_misses_total Authorization decisions that required policy evaluation
# TYPE authorization_cache_misses_total counter
authorization_cache_misses_total{action="read",resource_type="event_receiver"} 2
`), "authorization_cache_misses_total"))
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP authorization_circuit_breaker_state Policy client circuit breaker state (0 closed, 1 open, 2 half-open)
# TYPE authorization_circuit_breaker_state gauge
authorization_circuit_breaker_state 1
`), "authorization_circuit_breaker_state"))

	status, msg, err := a.HealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, observability.StatusDegraded, status)
	assert.Equal(t, "circuit open", msg)

	result, err := a.Authorize(ctx, viewer, ActionDelete, recv)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	a.Reset()
	assert.Equal(t, "closed", a.Status().CircuitState)
	status, _, _ = a.HealthCheck(ctx)
	assert.Equal(t, observability.StatusHealthy, status)
}

func TestAuthorizeSurfacesInvalidResponses(t *testing.T) {
	server := newFakeOPA(t, http.StatusInternalServerError, `oops`)
	a, reg := newTestAuthorizer(t, newOPAClient(t, server.URL, 5))
	ctx := context.Background()

	_, err := a.Authorize(ctx, viewer, ActionRead, recv)
	require.Error(t, err)
	assert.ErrorIs(t, err, opa.ErrInvalidResponse)
	assertSeries(t, reg, "authorization_fallback_total", 0)
	assertSeries(t, reg, "authorization_cache_misses_total", 1)

	err = a.Require(ctx, viewer, ActionRead, recv)
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, apperrors.StatusOf(err))
}

func TestRequire(t *testing.T) {
	server := newFakeOPA(t, http.StatusOK, `{"result":{"allow":false}}`)
	a, _ := newTestAuthorizer(t, newOPAClient(t, server.URL, 5))

	err := a.Require(context.Background(), viewer, ActionRead, recv)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, apperrors.StatusOf(err))

	local, _ := newTestAuthorizer(t, nil)
	assert.NoError(t, local.Require(context.Background(), viewer, ActionRead, recv))
}
