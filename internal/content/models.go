package content

import (
	"encoding/json"
	"fmt"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

// BlogPost is the typed view of a post entity.
type BlogPost struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Slug          string          `json:"slug,omitempty"`
	Excerpt       string          `json:"excerpt,omitempty"`
	Content       string          `json:"content,omitempty"`
	FeaturedImage string          `json:"featuredImage,omitempty"`
	Author        json.RawMessage `json:"author,omitempty"`
	Categories    []string        `json:"categories,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	Status        string          `json:"status,omitempty"`
	IsActive      bool            `json:"isActive"`
	IsFeatured    bool            `json:"isFeatured"`
	AllowComments bool            `json:"allowComments"`
	Views         int             `json:"views,omitempty"`
	Likes         int             `json:"likes,omitempty"`
	ReadingTime   int             `json:"readingTime,omitempty"`
	PublishedAt   string          `json:"publishedAt,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
}

// Published reports whether the post is publicly visible.
func (p BlogPost) Published() bool {
	return p.Status == resource.StatusPublished && p.IsActive
}

// BlogPage is the typed view of a static page.
type BlogPage struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug,omitempty"`
	Content     string `json:"content,omitempty"`
	Template    string `json:"template,omitempty"`
	Order       int    `json:"order,omitempty"`
	Status      string `json:"status,omitempty"`
	IsActive    bool   `json:"isActive"`
	PublishedAt string `json:"publishedAt,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

// Category is the typed view of a category.
type Category struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Slug        string `json:"slug,omitempty"`
	Description string `json:"description,omitempty"`
	Parent      string `json:"parent,omitempty"`
	PostCount   int    `json:"postCount,omitempty"`
	IsActive    bool   `json:"isActive"`
	IsFeatured  bool   `json:"isFeatured"`
}

// Comment is the typed view of a comment on a post.
type Comment struct {
	ID        string          `json:"id"`
	Post      string          `json:"post,omitempty"`
	Author    json.RawMessage `json:"author,omitempty"`
	Content   string          `json:"content"`
	Parent    string          `json:"parentComment,omitempty"`
	Status    string          `json:"status,omitempty"`
	IsActive  bool            `json:"isActive"`
	CreatedAt string          `json:"createdAt,omitempty"`
}

// AuthorStat is one row of the top-authors ranking.
type AuthorStat struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Image      string `json:"image,omitempty"`
	PostCount  int    `json:"postCount"`
	TotalViews int    `json:"totalViews"`
	TotalLikes int    `json:"totalLikes,omitempty"`
}

// Paged is a typed paginated result.
type Paged[T any] struct {
	Data       []T `json:"data"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Decode converts a cached value (an entity, a row list or a raw payload)
// into T through its JSON form.
func Decode[T any](v any) (T, error) {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("failed to encode value: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("failed to decode %T: %w", out, err)
	}
	return out, nil
}

// DecodePage converts a paginated result into typed rows.
func DecodePage[T any](p *resource.Page) (Paged[T], error) {
	if p == nil {
		return Paged[T]{Data: []T{}}, nil
	}
	rows := make([]T, 0, len(p.Data))
	for i, e := range p.Data {
		row, err := Decode[T](e)
		if err != nil {
			return Paged[T]{}, fmt.Errorf("row %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	return Paged[T]{
		Data:       rows,
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      p.Total,
		TotalPages: p.TotalPages,
	}, nil
}
