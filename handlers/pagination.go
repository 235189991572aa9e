package handlers

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// Cursor identifies one series row. Pages run newest first, ordered by
// date, route and train type, all descending.
type Cursor struct {
	Date      time.Time
	Route     string
	TrainType string
}

func (c Cursor) String() string {
	return strings.Join([]string{c.Date.Format(time.DateOnly), c.Route, c.TrainType}, "|")
}

// After reports whether c sorts after other in page order.
func (c Cursor) After(other Cursor) bool {
	if d := c.Date.Compare(other.Date); d != 0 {
		return d < 0
	}
	if c.Route != other.Route {
		return c.Route < other.Route
	}
	return c.TrainType < other.TrainType
}

func parseCursor(s string) (*Cursor, bool) {
	parts := strings.SplitN(s, "|", 3)
	if len(parts) != 3 {
		return nil, false
	}
	date, err := time.Parse(time.DateOnly, parts[0])
	if err != nil {
		return nil, false
	}
	return &Cursor{Date: date, Route: parts[1], TrainType: parts[2]}, true
}

type PaginationParams struct {
	Limit  int
	Before *Cursor
}

type CursorResponse struct {
	Data       interface{} `json:"data"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
}

// ParsePagination reads limit and before; malformed values fall back to
// the defaults.
func ParsePagination(c *gin.Context) PaginationParams {
	p := PaginationParams{Limit: DefaultLimit}

	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			p.Limit = l
		}
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}

	if beforeStr := c.Query("before"); beforeStr != "" {
		if cur, ok := parseCursor(beforeStr); ok {
			p.Before = cur
		}
	}

	return p
}
