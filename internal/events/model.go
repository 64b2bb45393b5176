package events

import (
	"encoding/json"
	"errors"
	"time"
)

type Event struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	Release         string          `json:"release"`
	PlatformID      string          `json:"platform_id"`
	Package         string          `json:"package"`
	Description     string          `json:"description"`
	Payload         json.RawMessage `json:"payload"`
	Success         bool            `json:"success"`
	EventReceiverID string          `json:"event_receiver_id"`
	OwnerID         string          `json:"owner_id"`
	ResourceVersion int64           `json:"resource_version"`
	CreatedAt       time.Time       `json:"created_at"`
}

// AuthzInfo describes an event, or the receiver an event is posted to, for
// policy evaluation. Group and members come from the receiver's group.
type AuthzInfo struct {
	OwnerID         string
	ReceiverID      string
	GroupID         string
	Members         []string
	ResourceVersion int64
}

type CreateRequest struct {
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	Release         string          `json:"release"`
	PlatformID      string          `json:"platform_id"`
	Package         string          `json:"package"`
	Description     string          `json:"description"`
	Payload         json.RawMessage `json:"payload"`
	Success         *bool           `json:"success"`
	EventReceiverID string          `json:"event_receiver_id"`
}

func (r *CreateRequest) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if r.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	if r.EventReceiverID == "" {
		errs = append(errs, errors.New("event_receiver_id is required"))
	}
	if len(r.Payload) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(r.Payload, &obj); err != nil {
			errs = append(errs, errors.New("payload must be a JSON object"))
		}
	}
	return errors.Join(errs...)
}
