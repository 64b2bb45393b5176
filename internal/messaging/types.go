package messaging

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	SpecVersion = "1.0"
	Source      = "xzepr"

	TypeEventCreated         = "xzepr.event.created"
	TypeEventDeleted         = "xzepr.event.deleted"
	TypeReceiverCreated      = "xzepr.event.receiver.created"
	TypeReceiverUpdated      = "xzepr.event.receiver.updated"
	TypeReceiverDeleted      = "xzepr.event.receiver.deleted"
	TypeReceiverGroupCreated = "xzepr.event.receiver.group.created"
	TypeReceiverGroupUpdated = "xzepr.event.receiver.group.updated"
	TypeReceiverGroupDeleted = "xzepr.event.receiver.group.deleted"
)

// CloudEvent is the structured-mode JSON envelope written to the broker.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Source          string          `json:"source"`
	Type            string          `json:"type"`
	Subject         string          `json:"subject,omitempty"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

func NewCloudEvent(eventType, subject string, data any) (CloudEvent, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return CloudEvent{}, err
	}
	return CloudEvent{
		SpecVersion:     SpecVersion,
		ID:              uuid.New().String(),
		Source:          Source,
		Type:            eventType,
		Subject:         subject,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            raw,
	}, nil
}

func (e CloudEvent) Validate() error {
	switch {
	case e.SpecVersion != SpecVersion:
		return errors.New("unsupported specversion")
	case e.ID == "":
		return errors.New("id is required")
	case e.Source == "":
		return errors.New("source is required")
	case e.Type == "":
		return errors.New("type is required")
	}
	return nil
}
