package authz

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
	"go.uber.org/zap"
)

type memoryBus struct {
	mu          sync.Mutex
	subscribers []chan []byte
	published   int
	failWith    error
}

func (b *memoryBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return b.failWith
	}
	b.published++
	for _, sub := range b.subscribers {
		sub <- payload
	}
	return nil
}

func (b *memoryBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 16)
	b.subscribers = append(b.subscribers, ch)
	return ch, nil
}

func (b *memoryBus) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func seed(cache *opa.AuthorizationCache) {
	for _, in := range []opa.PolicyInput{
		{User: opa.UserContext{UserID: "alice"}, Action: ActionRead, Resource: opa.ResourceContext{ResourceType: opa.ResourceTypeEventReceiver, ResourceID: "recv-1"}},
		{User: opa.UserContext{UserID: "bob"}, Action: ActionRead, Resource: opa.ResourceContext{ResourceType: opa.ResourceTypeEventReceiver, ResourceID: "recv-1"}},
		{User: opa.UserContext{UserID: "alice"}, Action: ActionRead, Resource: opa.ResourceContext{ResourceType: opa.ResourceTypeEventReceiverGroup, ResourceID: "grp-1"}},
	} {
		cache.Set(opa.NewCacheKey(in, 1), true)
	}
}

func TestInvalidatorPublishAppliesLocally(t *testing.T) {
	cache := opa.NewAuthorizationCache(time.Minute)
	seed(cache)

	inv := NewInvalidator(cache, nil, zap.NewNop())
	require.NoError(t, inv.Publish(context.Background(), opa.ReceiverUpdated("recv-1", 2)))
	assert.Equal(t, 1, cache.Len())

	require.NoError(t, inv.Publish(context.Background(), opa.PermissionsChanged("alice")))
	assert.True(t, cache.IsEmpty())

	err := inv.Publish(context.Background(), opa.ResourceUpdatedEvent{Kind: opa.EventReceiverUpdated})
	assert.Error(t, err)
}

func TestInvalidatorBroadcastsToOtherReplicas(t *testing.T) {
	bus := &memoryBus{}
	localCache := opa.NewAuthorizationCache(time.Minute)
	remoteCache := opa.NewAuthorizationCache(time.Minute)
	seed(localCache)
	seed(remoteCache)

	local := NewInvalidator(localCache, bus, zap.NewNop())
	remote := NewInvalidator(remoteCache, bus, zap.NewNop())
	assert.NotEqual(t, local.SenderID(), remote.SenderID())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	go func() { done <- local.Run(ctx) }()
	go func() { done <- remote.Run(ctx) }()

	require.Eventually(t, func() bool { return bus.subscriberCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, local.Publish(ctx, opa.GroupUpdated("grp-1", 4)))
	assert.Equal(t, 2, localCache.Len())
	assert.Equal(t, 1, bus.published)

	require.Eventually(t, func() bool { return remoteCache.Len() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("invalidator did not stop")
		}
	}
}

func TestInvalidatorIgnoresOwnAndMalformedMessages(t *testing.T) {
	cache := opa.NewAuthorizationCache(time.Minute)
	seed(cache)
	inv := NewInvalidator(cache, nil, zap.NewNop())

	inv.handle([]byte(`not json`))
	inv.handle([]byte(`{"sender":"` + inv.SenderID() + `","event":{"kind":"user_permissions_changed","user_id":"alice"}}`))
	inv.handle([]byte(`{"sender":"other","event":{"kind":"user_permissions_changed"}}`))
	assert.Equal(t, 3, cache.Len())

	inv.handle([]byte(`{"sender":"other","event":{"kind":"user_permissions_changed","user_id":"bob"}}`))
	assert.Equal(t, 2, cache.Len())
}

func TestInvalidatorBroadcastFailure(t *testing.T) {
	cache := opa.NewAuthorizationCache(time.Minute)
	seed(cache)
	inv := NewInvalidator(cache, &memoryBus{failWith: errors.New("redis down")}, zap.NewNop())

	err := inv.Publish(context.Background(), opa.ReceiverUpdated("recv-1", 2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Equal(t, 1, cache.Len(), "local invalidation still applied")
}

func TestInvalidatorWithoutCacheOrBus(t *testing.T) {
	inv := NewInvalidator(nil, nil, nil)
	require.NoError(t, inv.Publish(context.Background(), opa.EventChanged("evt-1", 1)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, inv.Run(ctx))
}
