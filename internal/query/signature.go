package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Pagination bounds applied before a signature is computed.
const (
	DefaultLimit = 10
	MaxLimit     = 240
)

// Params are the filter, sort and pagination parameters of a list query.
// The zero value asks for page 1 with the default limit.
type Params struct {
	Page      int
	Limit     int
	Search    string
	SortBy    string
	SortOrder string
	Status    string
	Author    string
	Category  string
	Tags      []string

	IsFeatured *bool
	IsActive   *bool

	// Extra carries endpoint-specific parameters (e.g. "period" for trending).
	Extra map[string]string
}

// Bool returns a pointer for the optional flag filters.
func Bool(b bool) *bool { return &b }

// Normalize returns a copy with defaults applied and bounds clamped so that
// logically identical parameter sets compare equal.
func (p Params) Normalize() Params {
	out := Params{
		Page:      p.Page,
		Limit:     p.Limit,
		Search:    strings.TrimSpace(p.Search),
		SortBy:    strings.TrimSpace(p.SortBy),
		SortOrder: strings.ToLower(strings.TrimSpace(p.SortOrder)),
		Status:    strings.ToLower(strings.TrimSpace(p.Status)),
		Author:    strings.TrimSpace(p.Author),
		Category:  strings.TrimSpace(p.Category),
	}

	if out.Page < 1 {
		out.Page = 1
	}
	switch {
	case out.Limit == 0:
		out.Limit = DefaultLimit
	case out.Limit < 1:
		out.Limit = 1
	case out.Limit > MaxLimit:
		out.Limit = MaxLimit
	}
	if out.SortOrder != "asc" && out.SortOrder != "desc" {
		out.SortOrder = ""
	}
	if out.SortBy == "" {
		out.SortOrder = ""
	}

	if len(p.Tags) > 0 {
		seen := make(map[string]struct{}, len(p.Tags))
		for _, t := range p.Tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			out.Tags = append(out.Tags, t)
		}
		sort.Strings(out.Tags)
	}

	if p.IsFeatured != nil {
		out.IsFeatured = Bool(*p.IsFeatured)
	}
	if p.IsActive != nil {
		out.IsActive = Bool(*p.IsActive)
	}

	for k, v := range p.Extra {
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]string)
		}
		out.Extra[k] = v
	}
	return out
}

// Public drops the filters the public endpoints do not accept.
func (p Params) Public() Params {
	out := p.Normalize()
	out.Status = ""
	out.IsActive = nil
	return out
}

// Values renders the normalized parameters as request query parameters.
// Empty values are omitted.
func (p Params) Values() url.Values {
	n := p.Normalize()
	v := url.Values{}
	v.Set("page", strconv.Itoa(n.Page))
	v.Set("limit", strconv.Itoa(n.Limit))

	set := func(key, value string) {
		if value != "" {
			v.Set(key, value)
		}
	}
	set("search", n.Search)
	set("sortBy", n.SortBy)
	set("sortOrder", n.SortOrder)
	set("status", n.Status)
	set("author", n.Author)
	set("category", n.Category)
	if len(n.Tags) > 0 {
		v.Set("tags", strings.Join(n.Tags, ","))
	}
	if n.IsFeatured != nil {
		v.Set("isFeatured", strconv.FormatBool(*n.IsFeatured))
	}
	if n.IsActive != nil {
		v.Set("isActive", strconv.FormatBool(*n.IsActive))
	}
	for k, val := range n.Extra {
		if v.Has(k) {
			continue
		}
		v.Set(k, val)
	}
	return v
}

// Signature is the canonical identity of the parameter set: the encoded
// query string with keys sorted.
func (p Params) Signature() string {
	return p.Values().Encode()
}
