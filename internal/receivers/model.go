package receivers

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

type EventReceiver struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Type            string          `json:"type"`
	Version         string          `json:"version"`
	Description     string          `json:"description"`
	Schema          json.RawMessage `json:"schema"`
	Fingerprint     string          `json:"fingerprint"`
	OwnerID         string          `json:"owner_id"`
	GroupID         string          `json:"group_id,omitempty"`
	ResourceVersion int64           `json:"resource_version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// AuthzInfo is what the policy engine needs to know about a receiver.
type AuthzInfo struct {
	OwnerID         string
	GroupID         string
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
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Version     string          `json:"version"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
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
	if err := validateSchema(r.Schema); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

type UpdateRequest struct {
	Name        *string         `json:"name"`
	Type        *string         `json:"type"`
	Version     *string         `json:"version"`
	Description *string         `json:"description"`
	Schema      json.RawMessage `json:"schema"`
}

func (r *UpdateRequest) Validate() error {
	if r.Name == nil && r.Type == nil && r.Version == nil && r.Description == nil && len(r.Schema) == 0 {
		return errors.New("nothing to update")
	}
	for field, v := range map[string]*string{"name": r.Name, "type": r.Type, "version": r.Version} {
		if v != nil && *v == "" {
			return errors.New(field + " cannot be empty")
		}
	}
	return validateSchema(r.Schema)
}

func (r *UpdateRequest) apply(rec *EventReceiver) {
	if r.Name != nil {
		rec.Name = *r.Name
	}
	if r.Type != nil {
		rec.Type = *r.Type
	}
	if r.Version != nil {
		rec.Version = *r.Version
	}
	if r.Description != nil {
		rec.Description = *r.Description
	}
	if len(r.Schema) > 0 {
		rec.Schema = r.Schema
	}
	rec.Fingerprint = Fingerprint(rec.Name, rec.Type, rec.Version, rec.Schema)
}

func validateSchema(schema json.RawMessage) error {
	if len(schema) == 0 {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal(schema, &obj); err != nil {
		return errors.New("schema must be a JSON object")
	}
	return nil
}

// Fingerprint identifies a receiver definition independent of its id.
func Fingerprint(name, typ, version string, schema json.RawMessage) string {
	h := sha256.New()
	for _, part := range [][]byte{[]byte(name), []byte(typ), []byte(version), schema} {
		h.Write(part)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
