// Package pagination reads page/limit/sort query parameters for history
// listings and turns them into offsets for the store.
package pagination

import (
	"net/url"
	"strconv"
)

// Params holds the parsed pagination parameters. Page is 1-based.
type Params struct {
	Page   int32
	Limit  int32
	Offset int32
	Sort   string
}

const (
	MaxLimit     int32 = 100
	DefaultPage  int32 = 1
	DefaultLimit int32 = 20
	DefaultSort        = "newest"
)

func calculateOffset(page, limit int32) int32 {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

func isValidSort(sort string) bool {
	switch sort {
	case "newest", "oldest":
		return true
	default:
		return false
	}
}

type Option func(*Params)

// WithDefaultLimit overrides DefaultLimit when limit is positive.
func WithDefaultLimit(limit int32) Option {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

func WithDefaultSort(sort string) Option {
	if !isValidSort(sort) {
		return func(p *Params) {}
	}
	return func(p *Params) {
		p.Sort = sort
	}
}

// Parse reads page, limit and sort from q. Invalid or non-positive values
// fall back to the defaults and limit is capped at MaxLimit.
func Parse(q url.Values, opts ...Option) Params {
	params := Params{
		Page:  DefaultPage,
		Limit: DefaultLimit,
		Sort:  DefaultSort,
	}
	for _, opt := range opts {
		opt(&params)
	}

	if val, ok := positive(q.Get("page")); ok {
		params.Page = val
	}
	if val, ok := positive(q.Get("limit")); ok {
		params.Limit = val
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	params.Offset = calculateOffset(params.Page, params.Limit)

	if sort := q.Get("sort"); isValidSort(sort) {
		params.Sort = sort
	}
	return params
}

func (p Params) OldestFirst() bool {
	return p.Sort == "oldest"
}

// HasNext reports whether items remain after this page.
func (p Params) HasNext(total int32) bool {
	return p.Offset+p.Limit < total
}

func positive(s string) (int32, bool) {
	if s == "" {
		return 0, false
	}
	val, err := strconv.ParseInt(s, 10, 32)
	if err != nil || val <= 0 {
		return 0, false
	}
	return int32(val), true
}
