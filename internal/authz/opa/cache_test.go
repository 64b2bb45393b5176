package opa

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(user, action, resourceType, resourceID string, version int64) CacheKey {
	return CacheKey{
		UserID:          user,
		Action:          action,
		ResourceType:    resourceType,
		ResourceID:      resourceID,
		ResourceVersion: version,
	}
}

func TestCacheMissForUnknownKey(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)

	_, ok := c.Get(key("userA", "read", "receiver", "R1", 1))
	assert.False(t, ok)
	assert.True(t, c.IsEmpty())
}

func TestCacheSetThenGet(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)
	k := key("userA", "read", "receiver", "R1", 1)

	c.Set(k, true)
	allow, ok := c.Get(k)
	require.True(t, ok)
	assert.True(t, allow)

	c.Set(k, false)
	allow, ok = c.Get(k)
	require.True(t, ok)
	assert.False(t, allow)
	assert.Equal(t, 1, c.Len())
}

func TestCacheKeyIncludesVersion(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)
	c.Set(key("userA", "read", "receiver", "R1", 1), true)

	_, ok := c.Get(key("userA", "read", "receiver", "R1", 2))
	assert.False(t, ok)
}

func TestCacheExpiry(t *testing.T) {
	c := NewAuthorizationCache(100 * time.Millisecond)
	k := key("userA", "read", "receiver", "R1", 1)
	c.Set(k, true)

	time.Sleep(150 * time.Millisecond)

	_, ok := c.Get(k)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len(), "get must not evict")

	assert.Equal(t, 1, c.EvictExpired())
	assert.Equal(t, 0, c.Len())
}

func TestEvictExpiredKeepsLiveEntries(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(key("userA", "read", "receiver", "R1", 1), true)
	now = now.Add(30 * time.Second)
	c.Set(key("userB", "read", "receiver", "R1", 1), true)
	now = now.Add(31 * time.Second)

	assert.Equal(t, 1, c.EvictExpired())
	_, ok := c.Get(key("userB", "read", "receiver", "R1", 1))
	assert.True(t, ok)
}

func TestInvalidateResourceScope(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)
	a1 := key("userA", "read", "receiver", "R1", 1)
	b1 := key("userB", "read", "receiver", "R1", 1)
	a2 := key("userA", "read", "receiver", "R2", 1)
	c.Set(a1, true)
	c.Set(b1, true)
	c.Set(a2, true)

	removed := c.InvalidateResource("receiver", "R1")

	assert.Equal(t, 2, removed)
	_, ok := c.Get(a1)
	assert.False(t, ok)
	_, ok = c.Get(b1)
	assert.False(t, ok)
	_, ok = c.Get(a2)
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestInvalidateResourceIgnoresVersionAndAction(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)
	c.Set(key("userA", "read", "receiver", "R1", 1), true)
	c.Set(key("userA", "write", "receiver", "R1", 2), false)
	c.Set(key("userA", "read", "group", "R1", 1), true)

	assert.Equal(t, 2, c.InvalidateResource("receiver", "R1"))
	assert.Equal(t, 1, c.Len())
}

func TestInvalidateUserScope(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)
	c.Set(key("userA", "read", "receiver", "R1", 1), true)
	c.Set(key("userA", "write", "receiver", "R1", 1), false)
	c.Set(key("userB", "read", "receiver", "R1", 1), true)

	assert.Equal(t, 2, c.InvalidateUser("userA"))

	_, ok := c.Get(key("userB", "read", "receiver", "R1", 1))
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 0, c.InvalidateUser("nobody"))
}

func TestIndexesStayConsistent(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)
	k := key("userA", "read", "receiver", "R1", 1)
	c.Set(k, true)

	c.InvalidateUser("userA")
	assert.Equal(t, 0, c.InvalidateResource("receiver", "R1"))
	assert.Empty(t, c.byResource)
	assert.Empty(t, c.byUser)
}

func TestClear(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)
	c.Set(key("userA", "read", "receiver", "R1", 1), true)
	c.Set(key("userB", "read", "receiver", "R2", 1), true)

	c.Clear()

	assert.True(t, c.IsEmpty())
	_, ok := c.Get(key("userA", "read", "receiver", "R1", 1))
	assert.False(t, ok)
}

func TestDefaultTTL(t *testing.T) {
	assert.Equal(t, DefaultCacheTTL, NewAuthorizationCache(0).TTL())
}

func TestEvictionLoop(t *testing.T) {
	c := NewAuthorizationCache(20 * time.Millisecond)
	c.Set(key("userA", "read", "receiver", "R1", 1), true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.StartEvictionLoop(ctx, 10*time.Millisecond, nil)

	assert.Eventually(t, c.IsEmpty, time.Second, 10*time.Millisecond)
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				resourceID := fmt.Sprintf("R%d", j%10)
				k := key(fmt.Sprintf("user%d", worker), "read", "receiver", resourceID, int64(j))
				c.Set(k, j%2 == 0)
				c.Get(k)
				if j%50 == 0 {
					c.InvalidateResource("receiver", resourceID)
				}
			}
		}(i)
	}
	wg.Wait()

	c.Clear()
	assert.True(t, c.IsEmpty())
}
