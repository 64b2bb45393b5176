package opa

import (
	"encoding/json"
	"fmt"
)

const (
	ResourceTypeEventReceiver      = "event_receiver"
	ResourceTypeEventReceiverGroup = "event_receiver_group"
	ResourceTypeEvent              = "event"
)

type UpdateKind string

const (
	EventReceiverUpdated      UpdateKind = "event_receiver_updated"
	EventReceiverGroupUpdated UpdateKind = "event_receiver_group_updated"
	EventUpdated              UpdateKind = "event_updated"
	UserPermissionsChanged    UpdateKind = "user_permissions_changed"
)

// ResourceUpdatedEvent is emitted after a receiver, group, event or a user's
// roles/groups change. Version is informational; invalidation is by identity.
type ResourceUpdatedEvent struct {
	Kind       UpdateKind `json:"kind"`
	ResourceID string     `json:"resource_id,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	Version    int64      `json:"version,omitempty"`
}

func ReceiverUpdated(id string, version int64) ResourceUpdatedEvent {
	return ResourceUpdatedEvent{Kind: EventReceiverUpdated, ResourceID: id, Version: version}
}

func GroupUpdated(id string, version int64) ResourceUpdatedEvent {
	return ResourceUpdatedEvent{Kind: EventReceiverGroupUpdated, ResourceID: id, Version: version}
}

func EventChanged(id string, version int64) ResourceUpdatedEvent {
	return ResourceUpdatedEvent{Kind: EventUpdated, ResourceID: id, Version: version}
}

func PermissionsChanged(userID string) ResourceUpdatedEvent {
	return ResourceUpdatedEvent{Kind: UserPermissionsChanged, UserID: userID}
}

// Apply invalidates the cache entries affected by the event and returns how
// many were removed.
func (e ResourceUpdatedEvent) Apply(cache *AuthorizationCache) int {
	switch e.Kind {
	case EventReceiverUpdated:
		// Event create and list checks are keyed on the receiver id.
		return cache.InvalidateResource(ResourceTypeEventReceiver, e.ResourceID) +
			cache.InvalidateResource(ResourceTypeEvent, e.ResourceID)
	case EventReceiverGroupUpdated:
		return cache.InvalidateResource(ResourceTypeEventReceiverGroup, e.ResourceID)
	case EventUpdated:
		return cache.InvalidateResource(ResourceTypeEvent, e.ResourceID)
	case UserPermissionsChanged:
		return cache.InvalidateUser(e.UserID)
	default:
		return 0
	}
}

func (e ResourceUpdatedEvent) Validate() error {
	switch e.Kind {
	case EventReceiverUpdated, EventReceiverGroupUpdated, EventUpdated:
		if e.ResourceID == "" {
			return fmt.Errorf("%s: resource id is required", e.Kind)
		}
	case UserPermissionsChanged:
		if e.UserID == "" {
			return fmt.Errorf("%s: user id is required", e.Kind)
		}
	default:
		return fmt.Errorf("unknown update kind %q", e.Kind)
	}
	return nil
}

func ParseResourceUpdatedEvent(data []byte) (ResourceUpdatedEvent, error) {
	var e ResourceUpdatedEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return e, fmt.Errorf("decode resource updated event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return e, err
	}
	return e, nil
}
