// Package pagination implements offset paging for list endpoints. Limits are
// clamped rather than rejected so sloppy clients still get a valid page.
package pagination

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds the limit and offset extracted from a list request.
type Params struct {
	Limit  int
	Offset int
}

// FromContext reads the limit and offset query parameters, applying defaults
// and clamping out-of-range values.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if offset < 0 {
		offset = 0
	}

	return Params{Limit: limit, Offset: offset}
}

// HasNext reports whether another page exists after this one.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Response is the envelope list endpoints return: one page of results plus
// the paging state a client needs to fetch the next one.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
}

// NewResponse wraps one page of results with its paging metadata.
func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}
