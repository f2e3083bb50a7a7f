package crud

import (
	"github.com/drblury/cidflow/internal/runtime/config"
	"github.com/drblury/cidflow/internal/runtime/jsoncodec"
)

var marshal = jsoncodec.Marshal

// PageRequest is the page asked for by a caller. Zero values mean "default".
type PageRequest struct {
	Page     int
	PageSize int
}

// Normalize applies the configured defaults and cap. Pages below one are
// treated as the first page.
func (r PageRequest) Normalize(p config.Pagination) PageRequest {
	def := p.PageSize
	if def <= 0 {
		def = config.DefaultPageSize
	}
	limit := p.MaxPageSize
	if limit <= 0 {
		limit = config.DefaultMaxPageSize
	}

	out := r
	if out.Page < 1 {
		out.Page = 1
	}
	if out.PageSize <= 0 {
		out.PageSize = def
	}
	if out.PageSize > limit {
		out.PageSize = limit
	}
	return out
}

// Offset returns the index of the first item of the page.
func (r PageRequest) Offset() int {
	return (r.Page - 1) * r.PageSize
}

// Meta describes a page within the full result set.
type Meta struct {
	TotalResults int `json:"total_results"`
	TotalPages   int `json:"total_pages"`
	Page         int `json:"page"`
	PageSize     int `json:"page_size"`
}

// Page is the pagination envelope.
type Page struct {
	Results []map[string]any `json:"results"`
	Meta    Meta             `json:"meta"`
}

// NewMeta computes the page metadata for total results.
func NewMeta(req PageRequest, total int) Meta {
	pages := 1
	if total > 0 && req.PageSize > 0 {
		pages = (total + req.PageSize - 1) / req.PageSize
	}
	return Meta{
		TotalResults: total,
		TotalPages:   pages,
		Page:         req.Page,
		PageSize:     req.PageSize,
	}
}
