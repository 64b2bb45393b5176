package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 123000, time.UTC)
	c := NewCursor("evt-1", at)

	decoded, err := DecodeCursor(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, "evt-1", decoded.ID)
	assert.True(t, at.Equal(decoded.Time()))

	_, err = DecodeCursor("%%%")
	assert.Error(t, err)
}

func TestParseOffsetRequest(t *testing.T) {
	intp := func(n int) *int { return &n }

	tests := []struct {
		name       string
		page, size *int
		want       OffsetPagination
	}{
		{"defaults", nil, nil, OffsetPagination{Page: 1, PageSize: 50, Offset: 0}},
		{"third page", intp(3), intp(20), OffsetPagination{Page: 3, PageSize: 20, Offset: 40}},
		{"size over max", intp(1), intp(1000), OffsetPagination{Page: 1, PageSize: 50, Offset: 0}},
		{"negative page", intp(-2), intp(10), OffsetPagination{Page: 1, PageSize: 10, Offset: 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOffsetRequest(tt.page, tt.size))
		})
	}
}

func TestFromQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/?page=2&page_size=10&limit=abc", nil)

	assert.Equal(t, OffsetPagination{Page: 2, PageSize: 10, Offset: 10}, FromQuery(c))
	assert.Equal(t, DefaultPageSize, Limit(c))
}
