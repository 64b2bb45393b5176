package groups

import (
	"errors"
	"time"
)

type EventReceiverGroup struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Type             string    `json:"type"`
	Version          string    `json:"version"`
	Description      string    `json:"description"`
	Enabled          bool      `json:"enabled"`
	OwnerID          string    `json:"owner_id"`
	EventReceiverIDs []string  `json:"event_receiver_ids"`
	ResourceVersion  int64     `json:"resource_version"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Member struct {
	UserID  string    `json:"user_id"`
	AddedBy string    `json:"added_by"`
	AddedAt time.Time `json:"added_at"`
}

// AuthzInfo is what the policy engine needs to know about a group.
type AuthzInfo struct {
	OwnerID         string
	Members         []string
	ResourceVersion int64
}

type ListFilter struct {
	Name   string
	Type   string
	Limit  int
	Offset int
}

type CreateRequest struct {
	Name             string   `json:"name"`
	Type             string   `json:"type"`
	Version          string   `json:"version"`
	Description      string   `json:"description"`
	Enabled          *bool    `json:"enabled"`
	EventReceiverIDs []string `json:"event_receiver_ids"`
}

func (r *CreateRequest) Validate() error {
	var errs []error
	if r.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if r.Type == "" {
		errs = append(errs, errors.New("type is required"))
	}
	if r.Version == "" {
		errs = append(errs, errors.New("version is required"))
	}
	seen := make(map[string]bool, len(r.EventReceiverIDs))
	for _, id := range r.EventReceiverIDs {
		if id == "" {
			errs = append(errs, errors.New("event receiver id cannot be empty"))
			break
		}
		if seen[id] {
			errs = append(errs, errors.New("duplicate event receiver id "+id))
			break
		}
		seen[id] = true
	}
	return errors.Join(errs...)
}

type UpdateRequest struct {
	Name        *string `json:"name"`
	Type        *string `json:"type"`
	Version     *string `json:"version"`
	Description *string `json:"description"`
	Enabled     *bool   `json:"enabled"`
}

func (r *UpdateRequest) Validate() error {
	if r.Name == nil && r.Type == nil && r.Version == nil && r.Description == nil && r.Enabled == nil {
		return errors.New("nothing to update")
	}
	for field, v := range map[string]*string{"name": r.Name, "type": r.Type, "version": r.Version} {
		if v != nil && *v == "" {
			return errors.New(field + " cannot be empty")
		}
	}
	return nil
}

func (r *UpdateRequest) apply(g *EventReceiverGroup) {
	if r.Name != nil {
		g.Name = *r.Name
	}
	if r.Type != nil {
		g.Type = *r.Type
	}
	if r.Version != nil {
		g.Version = *r.Version
	}
	if r.Description != nil {
		g.Description = *r.Description
	}
	if r.Enabled != nil {
		g.Enabled = *r.Enabled
	}
}

type ReceiverRequest struct {
	EventReceiverID string `json:"event_receiver_id"`
}

func (r *ReceiverRequest) Validate() error {
	if r.EventReceiverID == "" {
		return errors.New("event_receiver_id is required")
	}
	return nil
}

type MemberRequest struct {
	UserID string `json:"user_id"`
}

func (r *MemberRequest) Validate() error {
	if r.UserID == "" {
		return errors.New("user_id is required")
	}
	return nil
}
