package pagination

import (
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// New clamps limit and offset into the accepted range. A non-positive limit
// becomes DefaultLimit.
func New(limit, offset int) Params {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// FromContext extracts pagination parameters from the echo context.
func FromContext(c echo.Context) Params {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return New(limit, offset)
}

// Response wraps a paginated API response.
type Response struct {
	Data    interface{} `json:"data"`
	Total   int         `json:"total"`
	Limit   int         `json:"limit"`
	Offset  int         `json:"offset"`
	HasMore bool        `json:"has_more"`
	Next    string      `json:"next,omitempty"`
}

func NewResponse(data interface{}, total int, p Params) *Response {
	return &Response{
		Data:    data,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.HasNext(total),
	}
}

// WithNext sets the link to the following page, if there is one.
func (r *Response) WithNext(basePath string) *Response {
	if r.HasMore {
		r.Next = Params{Limit: r.Limit, Offset: r.Offset + r.Limit}.Link(basePath)
	}
	return r
}

// Link renders the query string for this page against basePath.
func (p Params) Link(basePath string) string {
	return fmt.Sprintf("%s?limit=%d&offset=%d", basePath, p.Limit, p.Offset)
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// Window returns the half-open index range of this page within n items,
// for callers paging an in-memory slice.
func (p Params) Window(n int) (from, to int) {
	from = p.Offset
	if from > n {
		from = n
	}
	to = from + p.Limit
	if to > n {
		to = n
	}
	return from, to
}
