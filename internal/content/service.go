package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/mutation"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/query"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

// ErrNotFound is returned when an entity read yields no entity.
var ErrNotFound = errors.New("content: entity not found")

// Service reads and writes one resource kind through the session cache.
// Reads may return a stale value together with an error when a refetch
// failed.
type Service struct {
	kind   resource.Kind
	exec   *query.Executor
	engine *mutation.Engine
}

func newService(kind resource.Kind, exec *query.Executor, engine *mutation.Engine) *Service {
	return &Service{kind: kind, exec: exec, engine: engine}
}

// Kind returns the resource kind served.
func (s *Service) Kind() resource.Kind {
	return s.kind
}

// List returns one page of the kind's main list.
func (s *Service) List(ctx context.Context, p query.Params) (*resource.Page, error) {
	return s.page(ctx, query.List(s.kind, p))
}

// ListPublic returns one page of publicly visible entities.
func (s *Service) ListPublic(ctx context.Context, p query.Params) (*resource.Page, error) {
	return s.page(ctx, query.PublicList(s.kind, p))
}

// Get returns one entity by id.
func (s *Service) Get(ctx context.Context, id string) (resource.Entity, error) {
	return s.entity(ctx, query.Detail(s.kind, id))
}

// GetBySlug returns one entity by slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (resource.Entity, error) {
	return s.entity(ctx, query.BySlug(s.kind, slug))
}

// GetPublicBySlug returns one publicly visible entity by slug.
func (s *Service) GetPublicBySlug(ctx context.Context, slug string) (resource.Entity, error) {
	return s.entity(ctx, query.PublicBySlug(s.kind, slug))
}

// Create creates an entity and returns the server's copy, or nil when the
// server answered without one.
func (s *Service) Create(ctx context.Context, payload map[string]any) (resource.Entity, error) {
	m, err := s.engine.Create(ctx, s.kind, payload)
	if err != nil {
		return nil, err
	}
	return m.Result, nil
}

// Update applies a partial update.
func (s *Service) Update(ctx context.Context, id string, patch map[string]any) (resource.Entity, error) {
	m, err := s.engine.Update(ctx, s.kind, id, patch)
	if err != nil {
		return nil, err
	}
	return m.Result, nil
}

// Delete deletes an entity.
func (s *Service) Delete(ctx context.Context, id string) error {
	_, err := s.engine.Delete(ctx, s.kind, id)
	return err
}

// Publish publishes an entity.
func (s *Service) Publish(ctx context.Context, id string) (resource.Entity, error) {
	m, err := s.engine.Publish(ctx, s.kind, id)
	if err != nil {
		return nil, err
	}
	return m.Result, nil
}

// Bulk applies op to every id as one batch.
func (s *Service) Bulk(ctx context.Context, ids []string, op mutation.BulkOperation) (*mutation.BulkActionResponse, error) {
	return s.engine.BulkApply(ctx, s.kind, ids, op)
}

// Watch subscribes fn to one page of the main list.
func (s *Service) Watch(ctx context.Context, p query.Params, fn func(query.Update)) *query.Subscription {
	return s.exec.Watch(ctx, query.List(s.kind, p), fn)
}

// Refresh marks every cached list of the kind stale.
func (s *Service) Refresh(ctx context.Context) {
	s.exec.Invalidate(ctx, s.kind.ListTag())
}

// Name identifies the service to the cache warmer.
func (s *Service) Name() string {
	return s.kind.Name
}

// Warmup prefetches the first page of the main list.
func (s *Service) Warmup(ctx context.Context) error {
	_, err := s.exec.Fetch(ctx, query.List(s.kind, query.Params{}))
	return err
}

func (s *Service) page(ctx context.Context, q query.Query) (*resource.Page, error) {
	res, err := s.exec.Fetch(ctx, q)
	return res.Page(), err
}

func (s *Service) entity(ctx context.Context, q query.Query) (resource.Entity, error) {
	res, err := s.exec.Fetch(ctx, q)
	ent := res.Entity()
	if err != nil {
		return ent, err
	}
	if ent == nil {
		return nil, fmt.Errorf("%s %s: %w", s.kind.Name, q.Path, ErrNotFound)
	}
	return ent, nil
}
