package opa

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultCacheTTL = 5 * time.Minute

type CacheKey struct {
	UserID          string
	Action          string
	ResourceType    string
	ResourceID      string
	ResourceVersion int64
}

func NewCacheKey(input PolicyInput, resourceVersion int64) CacheKey {
	return CacheKey{
		UserID:          input.User.UserID,
		Action:          input.Action,
		ResourceType:    input.Resource.ResourceType,
		ResourceID:      input.Resource.ResourceID,
		ResourceVersion: resourceVersion,
	}
}

type CacheEntry struct {
	Decision  bool
	CachedAt  time.Time
	ExpiresAt time.Time
}

func (e CacheEntry) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

type resourceRef struct {
	resourceType string
	resourceID   string
}

type keySet map[CacheKey]struct{}

// AuthorizationCache maps authorization questions to decisions for a TTL.
// Entries are indexed by resource and by user so invalidation only touches
// the affected keys.
//
// A Set that started before an invalidation for the same resource may land
// after it and re-insert a stale decision; that window is bounded by the TTL.
type AuthorizationCache struct {
	ttl time.Duration

	mu         sync.RWMutex
	entries    map[CacheKey]CacheEntry
	byResource map[resourceRef]keySet
	byUser     map[string]keySet

	now func() time.Time
}

func NewAuthorizationCache(ttl time.Duration) *AuthorizationCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &AuthorizationCache{
		ttl:        ttl,
		entries:    make(map[CacheKey]CacheEntry),
		byResource: make(map[resourceRef]keySet),
		byUser:     make(map[string]keySet),
		now:        time.Now,
	}
}

func (c *AuthorizationCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the decision for key if present and unexpired. It never mutates.
func (c *AuthorizationCache) Get(key CacheKey) (bool, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || entry.expired(c.now()) {
		return false, false
	}
	return entry.Decision, true
}

func (c *AuthorizationCache) Set(key CacheKey, decision bool) {
	now := c.now()
	entry := CacheEntry{
		Decision:  decision,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry

	ref := resourceRef{resourceType: key.ResourceType, resourceID: key.ResourceID}
	if c.byResource[ref] == nil {
		c.byResource[ref] = make(keySet)
	}
	c.byResource[ref][key] = struct{}{}

	if c.byUser[key.UserID] == nil {
		c.byUser[key.UserID] = make(keySet)
	}
	c.byUser[key.UserID][key] = struct{}{}
}

// InvalidateResource drops every entry for the resource regardless of user,
// action or version.
func (c *AuthorizationCache) InvalidateResource(resourceType, resourceID string) int {
	ref := resourceRef{resourceType: resourceType, resourceID: resourceID}

	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byResource[ref]
	n := len(keys)
	for key := range keys {
		c.removeLocked(key)
	}
	return n
}

func (c *AuthorizationCache) InvalidateUser(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.byUser[userID]
	n := len(keys)
	for key := range keys {
		c.removeLocked(key)
	}
	return n
}

func (c *AuthorizationCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[CacheKey]CacheEntry)
	c.byResource = make(map[resourceRef]keySet)
	c.byUser = make(map[string]keySet)
}

func (c *AuthorizationCache) EvictExpired() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, entry := range c.entries {
		if entry.expired(now) {
			c.removeLocked(key)
			evicted++
		}
	}
	return evicted
}

func (c *AuthorizationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *AuthorizationCache) IsEmpty() bool {
	return c.Len() == 0
}

// StartEvictionLoop runs EvictExpired every interval until ctx is done.
func (c *AuthorizationCache) StartEvictionLoop(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if n := c.EvictExpired(); n > 0 {
					logger.Debug("evicted expired authorization decisions",
						zap.Int("evicted", n),
						zap.Int("remaining", c.Len()),
					)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// removeLocked must be called with mu held for writing.
func (c *AuthorizationCache) removeLocked(key CacheKey) {
	delete(c.entries, key)

	ref := resourceRef{resourceType: key.ResourceType, resourceID: key.ResourceID}
	if keys, ok := c.byResource[ref]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byResource, ref)
		}
	}

	if keys, ok := c.byUser[key.UserID]; ok {
		delete(keys, key)
		if len(keys) == 0 {
			delete(c.byUser, key.UserID)
		}
	}
}
