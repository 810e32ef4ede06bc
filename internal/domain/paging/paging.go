// Package paging normalizes page/limit parameters for list operations.
package paging

const (
	DefaultLimit = 20
	MaxLimit     = 100
	// MaxPage keeps Offset well inside int64 and the stores' skip range.
	MaxPage = 10_000_000
)

// Request is a 1-based page request.
type Request struct {
	Page  int
	Limit int
}

// Normalize applies defaults: page 1, limit 20, limit capped at 100 and
// page capped at MaxPage.
func (r Request) Normalize() Request {
	if r.Page < 1 {
		r.Page = 1
	}
	if r.Page > MaxPage {
		r.Page = MaxPage
	}
	if r.Limit < 1 {
		r.Limit = DefaultLimit
	}
	if r.Limit > MaxLimit {
		r.Limit = MaxLimit
	}
	return r
}

// Offset is the number of records to skip for a normalized page.
func (r Request) Offset() int64 {
	return int64(r.Page-1) * int64(r.Limit)
}

// Info describes a returned page.
type Info struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"totalPages"`
}

// NewInfo computes page metadata for a normalized request.
func NewInfo(r Request, total int64) Info {
	pages := 0
	if total > 0 {
		pages = int((total + int64(r.Limit) - 1) / int64(r.Limit))
	}
	return Info{Page: r.Page, Limit: r.Limit, Total: total, TotalPages: pages}
}
