package models

// PageParams carries validated pagination input.
type PageParams struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// MaxPageSize caps page_size; larger requests are clamped, not rejected.
const MaxPageSize = 100

// DefaultPageSize is used when page_size is absent or invalid.
const DefaultPageSize = 20

// Normalize clamps the parameters into their valid ranges.
func (p PageParams) Normalize() PageParams {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 {
		p.PageSize = DefaultPageSize
	}
	if p.PageSize > MaxPageSize {
		p.PageSize = MaxPageSize
	}
	return p
}

// Offset returns the SQL offset for the normalized page.
func (p PageParams) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Paginated wraps a page of results with the totals clients need for
// paging controls.
type Paginated[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

// NewPaginated assembles a Paginated page from items and the overall total.
func NewPaginated[T any](items []T, total int64, params PageParams) Paginated[T] {
	if items == nil {
		items = []T{}
	}
	pages := int(total) / params.PageSize
	if int(total)%params.PageSize != 0 {
		pages++
	}
	return Paginated[T]{
		Items:      items,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: pages,
	}
}

// Message is a minimal acknowledgement payload for endpoints that have
// nothing else to return.
type Message struct {
	Message string `json:"message"`
}
