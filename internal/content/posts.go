package content

import (
	"context"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/query"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

// PostService adds the post-only endpoints to the generic service.
type PostService struct {
	*Service
}

// Trending returns the trending posts.
func (s *PostService) Trending(ctx context.Context, p query.Params) (*resource.Page, error) {
	return s.page(ctx, query.ListAt(s.kind, "/trending", p))
}

// Featured returns the featured posts.
func (s *PostService) Featured(ctx context.Context, p query.Params) (*resource.Page, error) {
	return s.page(ctx, query.ListAt(s.kind, "/featured", p))
}

// ByCategory returns the posts of one category.
func (s *PostService) ByCategory(ctx context.Context, categoryID string, p query.Params) (*resource.Page, error) {
	return s.page(ctx, query.ListAt(s.kind, "/category/"+categoryID, p))
}

// TopAuthors returns the authors ranked by their posts.
func (s *PostService) TopAuthors(ctx context.Context, limit int) ([]AuthorStat, error) {
	q := query.Raw(s.kind, "/authors/top", &query.Params{Limit: limit})
	res, err := s.exec.Fetch(ctx, q)
	if err != nil && res.Value == nil {
		return nil, err
	}
	stats, derr := Decode[[]AuthorStat](unwrapData(res.Value))
	if derr != nil {
		return nil, derr
	}
	return stats, err
}

// CategoryIndex returns the per-category post summary as decoded JSON.
func (s *PostService) CategoryIndex(ctx context.Context) (any, error) {
	res, err := s.exec.Fetch(ctx, query.Raw(s.kind, "/category", nil))
	return unwrapData(res.Value), err
}

// Comments returns the comment service of one post. Comment writes also
// invalidate the post.
func (s *PostService) Comments(postID string) *Service {
	return newService(resource.CommentsOf(postID), s.exec, s.engine)
}

// unwrapData returns v["data"] for {data: ...} envelopes and v otherwise.
func unwrapData(v any) any {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["data"]; ok {
			return inner
		}
	}
	return v
}
