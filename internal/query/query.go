// Package query reads CMS resources through the session cache. It collapses
// concurrent fetches, guards against superseded responses and refetches
// watched queries in the background.
package query

import (
	"net/url"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/store"
)

// Shape is the canonical form a response is normalized into.
type Shape int

const (
	// ShapeList is a paginated result.
	ShapeList Shape = iota
	// ShapeEntity is a single resource.
	ShapeEntity
	// ShapeRaw is any other derived payload, kept as decoded JSON.
	ShapeRaw
)

func (s Shape) String() string {
	switch s {
	case ShapeList:
		return "list"
	case ShapeEntity:
		return "entity"
	default:
		return "raw"
	}
}

// Query describes one cacheable read.
type Query struct {
	Kind resource.Kind
	// Path defaults to the kind's base path.
	Path string
	// Params is nil for endpoints addressed by id or slug.
	Params *Params
	Shape  Shape
}

// List queries the kind's main list endpoint.
func List(k resource.Kind, p Params) Query {
	return Query{Kind: k, Path: k.BasePath, Params: &p, Shape: ShapeList}
}

// PublicList queries the publicly visible list.
func PublicList(k resource.Kind, p Params) Query {
	pub := p.Public()
	return Query{Kind: k, Path: k.Path("/public"), Params: &pub, Shape: ShapeList}
}

// ListAt queries a derived list endpoint under the kind ("/trending").
func ListAt(k resource.Kind, sub string, p Params) Query {
	return Query{Kind: k, Path: k.Path(sub), Params: &p, Shape: ShapeList}
}

// Detail queries one entity by id.
func Detail(k resource.Kind, id string) Query {
	return Query{Kind: k, Path: k.ItemPath(id), Shape: ShapeEntity}
}

// BySlug queries one entity by slug.
func BySlug(k resource.Kind, slug string) Query {
	return Query{Kind: k, Path: k.Path("/slug/" + slug), Shape: ShapeEntity}
}

// PublicBySlug queries one publicly visible entity by slug.
func PublicBySlug(k resource.Kind, slug string) Query {
	return Query{Kind: k, Path: k.Path("/public/slug/" + slug), Shape: ShapeEntity}
}

// Raw queries a derived payload that is neither a list nor an entity.
func Raw(k resource.Kind, sub string, p *Params) Query {
	return Query{Kind: k, Path: k.Path(sub), Params: p, Shape: ShapeRaw}
}

func (q Query) path() string {
	if q.Path == "" {
		return q.Kind.BasePath
	}
	return q.Path
}

// Key is the cache key of the query: its endpoint plus the signature of its
// normalized parameters.
func (q Query) Key() store.Key {
	k := store.Key{Endpoint: q.path()}
	if q.Params != nil {
		k.Signature = q.Params.Signature()
	}
	return k
}

// Values are the request query parameters.
func (q Query) Values() url.Values {
	if q.Params == nil {
		return nil
	}
	return q.Params.Values()
}

func (q Query) limits() (page, limit int) {
	if q.Params == nil {
		return 1, DefaultLimit
	}
	n := q.Params.Normalize()
	return n.Page, n.Limit
}
