// Package resource describes the CMS resource kinds, their JSON entities and
// the paginated results and invalidation tags built from them.
package resource

import (
	"fmt"
	"strings"
)

// ListTagID is the tag ID shared by every list-shaped entry of a kind.
const ListTagID = "LIST"

// Kind is the metadata that parameterizes the generic query and mutation
// engines for one resource type.
type Kind struct {
	// Name is the human/CLI name ("posts").
	Name string
	// BasePath is the API path prefix ("/posts").
	BasePath string
	// TagType namespaces invalidation tags ("Post").
	TagType string
	// AltIDField is consulted when an entity has no "id" field.
	AltIDField string
	// PublishPath is true when the API exposes POST {base}/{id}/publish.
	PublishPath bool
	// Parent is invalidated after every committed write, e.g. the post a
	// comment belongs to.
	Parent *Tag
}

var (
	Posts = Kind{
		Name:        "posts",
		BasePath:    "/posts",
		TagType:     "Post",
		AltIDField:  "_id",
		PublishPath: true,
	}
	Pages = Kind{
		Name:       "pages",
		BasePath:   "/pages",
		TagType:    "Page",
		AltIDField: "_id",
	}
	Categories = Kind{
		Name:       "categories",
		BasePath:   "/categories",
		TagType:    "Category",
		AltIDField: "_id",
	}
)

// CommentsOf returns the comment kind nested under a post.
func CommentsOf(postID string) Kind {
	parent := Posts.EntityTag(postID)
	return Kind{
		Name:       "comments",
		BasePath:   fmt.Sprintf("%s/%s/comments", Posts.BasePath, postID),
		TagType:    "Comment",
		AltIDField: "_id",
		Parent:     &parent,
	}
}

// ByName resolves a top-level kind from its CLI name.
func ByName(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case Posts.Name, "post":
		return Posts, nil
	case Pages.Name, "page":
		return Pages, nil
	case Categories.Name, "category":
		return Categories, nil
	default:
		return Kind{}, fmt.Errorf("unknown resource kind %q", name)
	}
}

// Path joins the kind's base path with a sub path ("", "/public", "/{id}").
func (k Kind) Path(sub string) string {
	if sub == "" || sub == "/" {
		return k.BasePath
	}
	if !strings.HasPrefix(sub, "/") {
		sub = "/" + sub
	}
	return k.BasePath + sub
}

// ItemPath is the path of a single entity.
func (k Kind) ItemPath(id string) string {
	return k.Path("/" + id)
}

// ListTag is the tag carried by every list entry of this kind.
func (k Kind) ListTag() Tag {
	return Tag{Type: k.TagType, ID: ListTagID}
}

// EntityTag is the tag carried by every entry containing the entity.
func (k Kind) EntityTag(id string) Tag {
	return Tag{Type: k.TagType, ID: id}
}

// Tag is a coarse invalidation label: a kind's LIST or one entity id.
type Tag struct {
	Type string
	ID   string
}

func (t Tag) String() string {
	return t.Type + ":" + t.ID
}

// IsList reports whether the tag is a kind's LIST tag.
func (t Tag) IsList() bool {
	return t.ID == ListTagID
}

// ParseTag parses the "Type:ID" form produced by Tag.String.
func ParseTag(s string) (Tag, error) {
	typ, id, ok := strings.Cut(s, ":")
	if !ok || typ == "" || id == "" {
		return Tag{}, fmt.Errorf("invalid tag %q", s)
	}
	return Tag{Type: typ, ID: id}, nil
}

// TagStrings renders tags for logging and for the shared cache tier.
func TagStrings(tags []Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

// TagsFor computes the tag set of a cached value of the given kind:
// LIST plus every row id for pages, the id for a single entity, and LIST for
// any other derived payload.
func TagsFor(k Kind, value any) []Tag {
	switch v := value.(type) {
	case *Page:
		tags := make([]Tag, 0, len(v.Data)+1)
		tags = append(tags, k.ListTag())
		seen := make(map[string]struct{}, len(v.Data))
		for _, e := range v.Data {
			id := e.ID()
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			tags = append(tags, k.EntityTag(id))
		}
		return tags
	case Entity:
		if id := v.ID(); id != "" {
			return []Tag{k.EntityTag(id)}
		}
		return nil
	case nil:
		return nil
	default:
		return []Tag{k.ListTag()}
	}
}
