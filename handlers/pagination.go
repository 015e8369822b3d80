package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// PaginationParams is a keyset page request: at most Limit rows strictly
// older than Before.
type PaginationParams struct {
	Limit  int
	Before *time.Time
}

type CursorResponse struct {
	Data       interface{} `json:"data"`
	NextCursor string      `json:"next_cursor,omitempty"`
	HasMore    bool        `json:"has_more"`
}

// ParsePagination reads ?limit= and the ?before= cursor. Limits above
// MaxLimit are capped; malformed values are rejected.
func ParsePagination(c *gin.Context) (PaginationParams, error) {
	p := PaginationParams{Limit: DefaultLimit}

	if raw := c.Query("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 {
			return p, fmt.Errorf("invalid limit %q, must be a positive integer", raw)
		}
		p.Limit = min(l, MaxLimit)
	}

	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return p, fmt.Errorf("invalid before cursor %q, must be RFC3339", raw)
		}
		p.Before = &t
	}
	return p, nil
}

// FetchLimit is the row count to request so that HasMore can be decided.
func (p PaginationParams) FetchLimit() int {
	return p.Limit + 1
}

// page trims rows fetched with FetchLimit to the requested size, converts
// them and points the cursor at the last row kept.
func page[T, D any](p PaginationParams, rows []T, at func(T) time.Time, convert func(T) D) CursorResponse {
	hasMore := len(rows) > p.Limit
	if hasMore {
		rows = rows[:p.Limit]
	}

	data := make([]D, 0, len(rows))
	for _, r := range rows {
		data = append(data, convert(r))
	}

	resp := CursorResponse{Data: data, HasMore: hasMore}
	if hasMore && len(rows) > 0 {
		resp.NextCursor = at(rows[len(rows)-1]).UTC().Format(time.RFC3339Nano)
	}
	return resp
}
