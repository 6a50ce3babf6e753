package models

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRequest is wrapped by request validation errors.
var ErrInvalidRequest = errors.New("invalid request")

const (
	DefaultTopK = 10
	MaxTopK     = 100
)

// SearchRequest is a nearest-chunk query over the manifold.
type SearchRequest struct {
	Query     string  `json:"query"`
	TopK      int     `json:"top_k,omitempty"`
	TagFilter *string `json:"tag_filter,omitempty"`
}

// Validate rejects a blank query or negative top_k, fills in the default
// top_k when unset, and caps it at maxTopK. Zero defaults select DefaultTopK and MaxTopK.
func (r *SearchRequest) Validate(defaultTopK, maxTopK int) error {
	if defaultTopK <= 0 {
		defaultTopK = DefaultTopK
	}
	if maxTopK <= 0 {
		maxTopK = MaxTopK
	}
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidRequest)
	}
	if r.TopK < 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidRequest, r.TopK)
	}
	if r.TopK == 0 {
		r.TopK = defaultTopK
	}
	if r.TopK > maxTopK {
		r.TopK = maxTopK
	}
	if r.TagFilter != nil && strings.TrimSpace(*r.TagFilter) == "" {
		r.TagFilter = nil
	}
	return nil
}

// LookupRequest is a lexical lookup over chunk text.
type LookupRequest struct {
	Query string `json:"query"`
	Tag   string `json:"tag,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// Validate ensures the lookup has a query and a bounded limit.
func (r *LookupRequest) Validate() error {
	if strings.TrimSpace(r.Query) == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidRequest)
	}
	if r.Limit <= 0 {
		r.Limit = DefaultTopK
	}
	if r.Limit > MaxTopK {
		r.Limit = MaxTopK
	}
	return nil
}
