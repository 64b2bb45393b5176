package opa

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceUpdatedEventApply(t *testing.T) {
	tests := []struct {
		name      string
		event     ResourceUpdatedEvent
		wantLeft  []CacheKey
		wantCount int
	}{
		{
			name:      "receiver updated",
			event:     ReceiverUpdated("r1", 2),
			wantCount: 2,
			wantLeft: []CacheKey{
				key("u1", "read", ResourceTypeEventReceiverGroup, "r1", 1),
				key("u1", "read", ResourceTypeEvent, "e1", 1),
			},
		},
		{
			name:      "group updated",
			event:     GroupUpdated("r1", 4),
			wantCount: 1,
			wantLeft: []CacheKey{
				key("u1", "read", ResourceTypeEventReceiver, "r1", 1),
				key("u2", "write", ResourceTypeEventReceiver, "r1", 1),
				key("u1", "read", ResourceTypeEvent, "e1", 1),
			},
		},
		{
			name:      "event updated",
			event:     EventChanged("e1", 1),
			wantCount: 1,
			wantLeft: []CacheKey{
				key("u1", "read", ResourceTypeEventReceiver, "r1", 1),
				key("u2", "write", ResourceTypeEventReceiver, "r1", 1),
				key("u1", "read", ResourceTypeEventReceiverGroup, "r1", 1),
			},
		},
		{
			name:      "user permissions changed",
			event:     PermissionsChanged("u1"),
			wantCount: 3,
			wantLeft: []CacheKey{
				key("u2", "write", ResourceTypeEventReceiver, "r1", 1),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAuthorizationCache(time.Minute)
			c.Set(key("u1", "read", ResourceTypeEventReceiver, "r1", 1), true)
			c.Set(key("u2", "write", ResourceTypeEventReceiver, "r1", 1), false)
			c.Set(key("u1", "read", ResourceTypeEventReceiverGroup, "r1", 1), true)
			c.Set(key("u1", "read", ResourceTypeEvent, "e1", 1), true)

			assert.Equal(t, tt.wantCount, tt.event.Apply(c))
			assert.Equal(t, len(tt.wantLeft), c.Len())
			for _, k := range tt.wantLeft {
				_, ok := c.Get(k)
				assert.True(t, ok, "expected %+v to survive", k)
			}
		})
	}
}

func TestReceiverUpdatedPurgesReceiverScopedEventKeys(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)
	c.Set(key("u1", "create", ResourceTypeEvent, "r1", 1), true)
	c.Set(key("u2", "list", ResourceTypeEvent, "r1", 1), true)
	c.Set(key("u1", "read", ResourceTypeEventReceiver, "r1", 1), true)
	c.Set(key("u1", "create", ResourceTypeEvent, "r2", 1), true)

	assert.Equal(t, 3, ReceiverUpdated("r1", 2).Apply(c))
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get(key("u1", "create", ResourceTypeEvent, "r2", 1))
	assert.True(t, ok)
}

func TestUnknownKindIsNoop(t *testing.T) {
	c := NewAuthorizationCache(time.Minute)
	c.Set(key("u1", "read", ResourceTypeEventReceiver, "r1", 1), true)

	assert.Equal(t, 0, ResourceUpdatedEvent{Kind: "bogus", ResourceID: "r1"}.Apply(c))
	assert.Equal(t, 1, c.Len())
}

func TestParseResourceUpdatedEvent(t *testing.T) {
	data, err := json.Marshal(ReceiverUpdated("r1", 3))
	require.NoError(t, err)

	e, err := ParseResourceUpdatedEvent(data)
	require.NoError(t, err)
	assert.Equal(t, EventReceiverUpdated, e.Kind)
	assert.Equal(t, "r1", e.ResourceID)
	assert.Equal(t, int64(3), e.Version)

	_, err = ParseResourceUpdatedEvent([]byte(`{"kind":"event_updated"}`))
	assert.Error(t, err)

	_, err = ParseResourceUpdatedEvent([]byte(`{"kind":"user_permissions_changed"}`))
	assert.Error(t, err)

	_, err = ParseResourceUpdatedEvent([]byte(`{"kind":"nope","resource_id":"x"}`))
	assert.Error(t, err)

	_, err = ParseResourceUpdatedEvent([]byte(`not json`))
	assert.Error(t, err)
}
