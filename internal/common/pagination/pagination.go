package pagination

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Cursor marks a position in a (timestamp, id) ordered listing.
type Cursor struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

func NewCursor(id string, t time.Time) Cursor {
	return Cursor{ID: id, Timestamp: t.UnixMicro()}
}

func (c Cursor) Time() time.Time {
	return time.UnixMicro(c.Timestamp).UTC()
}

func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func DecodeCursor(encoded string) (*Cursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, err
	}
	return &cursor, nil
}

type OffsetPagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Offset   int `json:"-"`
}

func ParseOffsetRequest(page, pageSize *int) OffsetPagination {
	p := 1
	if page != nil && *page > 0 {
		p = *page
	}

	ps := DefaultPageSize
	if pageSize != nil && *pageSize > 0 && *pageSize <= MaxPageSize {
		ps = *pageSize
	}

	return OffsetPagination{
		Page:     p,
		PageSize: ps,
		Offset:   (p - 1) * ps,
	}
}

// FromQuery reads ?page= and ?page_size=. Unparseable values fall back to
// the defaults.
func FromQuery(c *gin.Context) OffsetPagination {
	return ParseOffsetRequest(queryInt(c, "page"), queryInt(c, "page_size"))
}

// Limit reads ?limit= bounded to MaxPageSize.
func Limit(c *gin.Context) int {
	if n := queryInt(c, "limit"); n != nil && *n > 0 && *n <= MaxPageSize {
		return *n
	}
	return DefaultPageSize
}

func queryInt(c *gin.Context, name string) *int {
	raw := c.Query(name)
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &n
}

type Page[T any] struct {
	Items      []T    `json:"items"`
	Page       int    `json:"page,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
	NextCursor string `json:"next_cursor,omitempty"`
}
