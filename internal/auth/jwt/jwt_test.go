package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager("test-secret", "")

	token, err := m.GenerateAccessToken("u-1", "alice", []string{"event_manager"}, []string{"grp-1"}, time.Minute)
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.Equal(t, []string{"event_manager"}, claims.Roles)
	assert.Equal(t, []string{"grp-1"}, claims.Groups)
	assert.Equal(t, "xzepr-api", claims.Issuer)
}

func TestValidateRejects(t *testing.T) {
	m := NewManager("test-secret", "xzepr-api")

	expired, err := m.GenerateAccessToken("u-1", "alice", nil, nil, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewManager("other-secret", "xzepr-api").GenerateAccessToken("u-1", "alice", nil, nil, time.Minute)
	require.NoError(t, err)

	otherIssuer, err := NewManager("test-secret", "someone-else").GenerateAccessToken("u-1", "alice", nil, nil, time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"expired", expired},
		{"wrong key", otherKey},
		{"wrong issuer", otherIssuer},
		{"garbage", "not.a.token"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateAccessToken(tt.token)
			assert.Error(t, err)
		})
	}
}

func TestGenerateRequiresUser(t *testing.T) {
	_, err := NewManager("s", "").GenerateAccessToken("", "alice", nil, nil, time.Minute)
	assert.Error(t, err)
}

func TestNilSlicesBecomeEmpty(t *testing.T) {
	m := NewManager("test-secret", "")
	token, err := m.GenerateAccessToken("u-1", "alice", nil, nil, time.Minute)
	require.NoError(t, err)

	claims, err := m.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, []string{}, claims.Roles)
	assert.Equal(t, []string{}, claims.Groups)
}
