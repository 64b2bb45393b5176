package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xbcsmith/xzepr/internal/authz/opa"
)

func TestInvalidationEvent(t *testing.T) {
	tests := []struct {
		kind string
		want opa.ResourceUpdatedEvent
	}{
		{"receiver", opa.ReceiverUpdated("x", 0)},
		{"event_receiver_updated", opa.ReceiverUpdated("x", 0)},
		{"group", opa.GroupUpdated("x", 0)},
		{"event", opa.EventChanged("x", 0)},
		{"user", opa.PermissionsChanged("x")},
	}

	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			got, err := invalidationEvent(tt.kind, "x")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, got.Validate())
		})
	}

	_, err := invalidationEvent("room", "x")
	assert.Error(t, err)
	_, err = invalidationEvent("user", "")
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"admin", "user"}, splitList(" admin, user ,,"))
	assert.Nil(t, splitList(""))
}
