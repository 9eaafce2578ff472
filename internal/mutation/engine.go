package mutation

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/notification"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/resilience"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/query"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/store"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/transport"
)

// DefaultTombstoneTTL is how long a committed delete keeps later writes from
// resurrecting the entity.
const DefaultTombstoneTTL = 10 * time.Minute

// Sender performs one API request.
type Sender interface {
	Send(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Invalidator marks cache entries stale after a commit. The query executor
// implements it and also drops the tags from the shared tier.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...resource.Tag) []store.Key
}

// sharedDropper is implemented by invalidators that front a shared tier
// which must forget an entity without the session cache refetching it.
type sharedDropper interface {
	DropShared(ctx context.Context, tags ...resource.Tag)
}

type storeInvalidator struct {
	store *store.Store
}

func (s storeInvalidator) Invalidate(_ context.Context, tags ...resource.Tag) []store.Key {
	return s.store.Invalidate(tags...)
}

// Config configures an Engine.
type Config struct {
	Transport Sender
	Store     *store.Store
	// Invalidator defaults to the store itself.
	Invalidator Invalidator
	Retry       resilience.RetryConfig
	// Publisher announces committed changes; nil disables announcements.
	Publisher    notification.ChangePublisher
	TombstoneTTL time.Duration

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
	Now     func() time.Time
}

// Engine applies writes optimistically. It is safe for concurrent use.
// Concurrent writes to one entity resolve last-writer-wins per cache key,
// except that a committed delete dominates: no later update commit or
// rollback brings the entity back.
type Engine struct {
	transport    Sender
	store        *store.Store
	invalidator  Invalidator
	retry        resilience.RetryConfig
	publisher    notification.ChangePublisher
	tombstoneTTL time.Duration
	logger       *observability.Logger
	metrics      *observability.Metrics
	tracer       observability.Tracer
	now          func() time.Time

	tombMu     sync.Mutex
	tombstones map[resource.Tag]tombstone
}

// tombstone remembers a committed delete.
type tombstone struct {
	kind resource.Kind
	id   string
	at   time.Time
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Invalidator == nil {
		cfg.Invalidator = storeInvalidator{store: cfg.Store}
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.TombstoneTTL <= 0 {
		cfg.TombstoneTTL = DefaultTombstoneTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e := &Engine{
		transport:    cfg.Transport,
		store:        cfg.Store,
		invalidator:  cfg.Invalidator,
		publisher:    cfg.Publisher,
		tombstoneTTL: cfg.TombstoneTTL,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		now:          cfg.Now,
		tombstones:   make(map[resource.Tag]tombstone),
	}
	e.retry = cfg.Retry
	onRetry := cfg.Retry.OnRetry
	e.retry.OnRetry = func(attempt int, err error) {
		e.metrics.RecordRetry(context.Background(), attempt)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}
	return e, nil
}

// Create inserts payload optimistically under a temporary id.
func (e *Engine) Create(ctx context.Context, kind resource.Kind, payload map[string]any) (*Mutation, error) {
	return e.Execute(ctx, Request{Kind: kind, Op: OpCreate, Payload: payload})
}

// Update merges patch into every cached copy of the entity.
func (e *Engine) Update(ctx context.Context, kind resource.Kind, id string, patch map[string]any) (*Mutation, error) {
	return e.Execute(ctx, Request{Kind: kind, Op: OpUpdate, ID: id, Payload: patch})
}

// Delete removes the entity from every cached list and detail.
func (e *Engine) Delete(ctx context.Context, kind resource.Kind, id string) (*Mutation, error) {
	return e.Execute(ctx, Request{Kind: kind, Op: OpDelete, ID: id})
}

// Publish marks the entity published. An existing publishedAt is kept.
func (e *Engine) Publish(ctx context.Context, kind resource.Kind, id string) (*Mutation, error) {
	return e.Execute(ctx, Request{Kind: kind, Op: OpPublish, ID: id})
}

// Execute runs one write through its states. On failure every optimistic
// edit is undone before the *Error is returned.
func (e *Engine) Execute(ctx context.Context, req Request) (*Mutation, error) {
	now := e.now()
	m := &Mutation{
		ID:        uuid.NewString(),
		Kind:      req.Kind,
		Op:        req.Op,
		Target:    req.ID,
		StartedAt: now,
	}
	m.enter(StateInitiated)

	if err := req.validate(); err != nil {
		m.Err = &Error{Op: req.Op, Kind: req.Kind.Name, IDs: ids(req.ID), Err: err}
		return m, m.Err
	}

	ctx, span := e.tracer.StartSpan(ctx, "cms.mutation."+string(req.Op),
		observability.WithAttributes(
			attribute.String("cms.kind", req.Kind.Name),
			attribute.String("cms.id", req.ID),
		),
	)
	defer span.End()

	var snap *store.Snapshot
	switch req.Op {
	case OpCreate:
		m.TempID = e.tempID(now)
		snap = e.insert(req.Kind, e.placeholder(m.TempID, req.Payload, now))
	case OpUpdate:
		snap = e.editRows(req.Kind, []string{req.ID}, func(row resource.Entity) {
			row.Merge(req.Payload)
			row.Touch(now)
		})
	case OpPublish:
		snap = e.editRows(req.Kind, []string{req.ID}, func(row resource.Entity) {
			publishRow(row, now)
		})
	case OpDelete:
		snap = e.removeRows(req.Kind, []string{req.ID})
	}
	m.Touched = snap.Keys()
	m.enter(StateOptimisticallyApplied)
	e.logger.LogDebug(ctx, "optimistic edit applied",
		"kind", req.Kind.Name,
		"op", string(req.Op),
		"id", req.ID,
		"entries", len(m.Touched),
	)

	resp, err := e.send(ctx, e.request(req))
	if err != nil {
		span.NoticeError(err)
		e.rollback(ctx, m, snap, req.Kind, ids(req.ID), err)
		return m, m.Err
	}

	e.commit(ctx, m, req, resp)
	return m, nil
}

func (e *Engine) request(req Request) transport.Request {
	switch req.Op {
	case OpCreate:
		return transport.Request{Method: http.MethodPost, Path: req.Kind.BasePath, Body: req.Payload}
	case OpUpdate:
		return transport.Request{Method: http.MethodPatch, Path: req.Kind.ItemPath(req.ID), Body: req.Payload}
	case OpDelete:
		return transport.Request{Method: http.MethodDelete, Path: req.Kind.ItemPath(req.ID)}
	default:
		if req.Kind.PublishPath {
			return transport.Request{Method: http.MethodPost, Path: req.Kind.ItemPath(req.ID) + "/publish"}
		}
		return transport.Request{
			Method: http.MethodPatch,
			Path:   req.Kind.ItemPath(req.ID),
			Body: map[string]any{
				resource.FieldStatus:   resource.StatusPublished,
				resource.FieldIsActive: true,
			},
		}
	}
}

func (e *Engine) send(ctx context.Context, req transport.Request) (*transport.Response, error) {
	return resilience.RetryIfWithResult(ctx, e.retry, transport.IsRetryable,
		func(ctx context.Context) (*transport.Response, error) {
			return e.transport.Send(ctx, req)
		})
}

// commit swaps the authoritative entity in wherever the optimistic one
// appeared, then invalidates the kind's lists so derived views refetch.
func (e *Engine) commit(ctx context.Context, m *Mutation, req Request, resp *transport.Response) {
	kind := req.Kind
	ent := authoritative(kind, resp.Data)
	announced := ids(req.ID)

	switch req.Op {
	case OpCreate:
		if ent != nil {
			e.swap(kind, m.TempID, ent)
			e.store.Put(query.Detail(kind, ent.ID()).Key(), ent, resource.TagsFor(kind, ent))
			announced = ids(ent.ID())
		} else {
			e.removeRows(kind, []string{m.TempID})
		}
	case OpUpdate, OpPublish:
		switch {
		case e.tombstoned(kind, req.ID):
			e.removeRows(kind, []string{req.ID})
		case ent != nil:
			e.swap(kind, req.ID, ent)
		}
	case OpDelete:
		e.bury(kind, req.ID)
		e.removeRows(kind, []string{req.ID})
	}

	m.Result = ent
	m.SettledAt = e.now()
	m.enter(StateCommitted)

	e.invalidator.Invalidate(ctx, listTags(kind)...)
	if req.Op != OpCreate {
		e.dropShared(ctx, kind, []string{req.ID})
	}

	e.metrics.RecordMutation(ctx, kind.Name, string(req.Op), m.State.String(), m.SettledAt.Sub(m.StartedAt))
	e.logger.LogInfo(ctx, "mutation committed",
		"kind", kind.Name,
		"op", string(req.Op),
		"id", firstNonEmpty(req.ID, ent.ID()),
		"duration_ms", m.SettledAt.Sub(m.StartedAt).Milliseconds(),
	)
	e.announce(ctx, kind, string(req.Op), announced, "")
}

// rollback restores every touched entry. Entities deleted by a committed
// write in the meantime stay deleted, whichever write removed them.
func (e *Engine) rollback(ctx context.Context, m *Mutation, snap *store.Snapshot, kind resource.Kind, targets []string, cause error) {
	restored := snap.Undo()
	e.rebury(snap.Keys())

	m.Err = &Error{Op: m.Op, Kind: kind.Name, IDs: targets, Err: cause}
	m.SettledAt = e.now()
	m.enter(StateRolledBack)

	e.metrics.RecordRollback(ctx, kind.Name, restored)
	e.metrics.RecordMutation(ctx, kind.Name, string(m.Op), m.State.String(), m.SettledAt.Sub(m.StartedAt))
	e.logger.LogWarn(ctx, "mutation rolled back",
		"kind", kind.Name,
		"op", string(m.Op),
		"ids", targets,
		"entries", restored,
		"status", transport.StatusOf(cause),
		"error", cause,
	)
}

func (e *Engine) tempID(now time.Time) string {
	return fmt.Sprintf("%s%d-%s", resource.TempIDPrefix, now.UnixMilli(), uuid.NewString()[:8])
}

func (e *Engine) placeholder(tempID string, payload map[string]any, now time.Time) resource.Entity {
	ent := resource.Entity(payload).Clone()
	if ent == nil {
		ent = resource.Entity{}
	}
	ent[resource.FieldID] = tempID
	ent[resource.FieldCreatedAt] = resource.FormatTime(now)
	ent.Touch(now)
	return ent
}

// insert puts ent at the head of every page of the kind's main list only.
// Derived lists (public, trending, featured) receive it through the refetch
// after commit.
func (e *Engine) insert(kind resource.Kind, ent resource.Entity) *store.Snapshot {
	return e.store.PatchTagged([]resource.Tag{kind.ListTag()}, func(key store.Key, value any, _ []resource.Tag) (store.Change, bool) {
		page, ok := value.(*resource.Page)
		if !ok || key.Endpoint != kind.BasePath {
			return store.Change{}, false
		}
		page.Prepend(ent.Clone())
		return store.Change{Value: page, Tags: resource.TagsFor(kind, page)}, true
	})
}

// editRows applies fn to every cached copy of the entities. All targets are
// covered by one snapshot.
func (e *Engine) editRows(kind resource.Kind, targets []string, fn func(resource.Entity)) *store.Snapshot {
	return e.store.PatchTagged(entityTags(kind, targets), func(_ store.Key, value any, _ []resource.Tag) (store.Change, bool) {
		switch v := value.(type) {
		case *resource.Page:
			found := false
			for _, id := range targets {
				if v.Each(id, fn) {
					found = true
				}
			}
			if !found {
				return store.Change{}, false
			}
			return store.Change{Value: v, Tags: resource.TagsFor(kind, v)}, true
		case resource.Entity:
			fn(v)
			return store.Change{Value: v, Tags: resource.TagsFor(kind, v)}, true
		}
		return store.Change{}, false
	})
}

// removeRows drops the entities from every cached list and removes their
// detail entries.
func (e *Engine) removeRows(kind resource.Kind, targets []string) *store.Snapshot {
	return e.store.PatchTagged(entityTags(kind, targets), func(_ store.Key, value any, _ []resource.Tag) (store.Change, bool) {
		switch v := value.(type) {
		case *resource.Page:
			removed := false
			for _, id := range targets {
				if v.Remove(id) {
					removed = true
				}
			}
			if !removed {
				return store.Change{}, false
			}
			return store.Change{Value: v, Tags: resource.TagsFor(kind, v)}, true
		case resource.Entity:
			return store.Change{Remove: true}, true
		}
		return store.Change{}, false
	})
}

// swap replaces every cached copy of id with the authoritative entity.
func (e *Engine) swap(kind resource.Kind, id string, ent resource.Entity) {
	e.store.PatchTagged([]resource.Tag{kind.EntityTag(id)}, func(_ store.Key, value any, _ []resource.Tag) (store.Change, bool) {
		switch v := value.(type) {
		case *resource.Page:
			if !v.Replace(id, ent) {
				return store.Change{}, false
			}
			return store.Change{Value: v, Tags: resource.TagsFor(kind, v)}, true
		case resource.Entity:
			next := ent.Clone()
			return store.Change{Value: next, Tags: resource.TagsFor(kind, next)}, true
		}
		return store.Change{}, false
	})
}

func (e *Engine) dropShared(ctx context.Context, kind resource.Kind, targets []string) {
	if d, ok := e.invalidator.(sharedDropper); ok {
		d.DropShared(ctx, entityTags(kind, targets)...)
	}
}

func (e *Engine) bury(kind resource.Kind, id string) {
	now := e.now()
	e.tombMu.Lock()
	defer e.tombMu.Unlock()

	for tag, t := range e.tombstones {
		if now.Sub(t.at) > e.tombstoneTTL {
			delete(e.tombstones, tag)
		}
	}
	e.tombstones[kind.EntityTag(id)] = tombstone{kind: kind, id: id, at: now}
}

func (e *Engine) tombstoned(kind resource.Kind, id string) bool {
	e.tombMu.Lock()
	defer e.tombMu.Unlock()

	t, ok := e.tombstones[kind.EntityTag(id)]
	return ok && e.now().Sub(t.at) <= e.tombstoneTTL
}

// rebury removes again every deleted entity that a restore put back into
// one of keys.
func (e *Engine) rebury(keys []store.Key) {
	if len(keys) == 0 {
		return
	}
	tags := make(map[resource.Tag]struct{})
	for _, k := range keys {
		entry, ok := e.store.Lookup(k)
		if !ok {
			continue
		}
		for _, t := range entry.Tags {
			tags[t] = struct{}{}
		}
	}

	now := e.now()
	e.tombMu.Lock()
	var buried []tombstone
	for tag := range tags {
		if t, ok := e.tombstones[tag]; ok && now.Sub(t.at) <= e.tombstoneTTL {
			buried = append(buried, t)
		}
	}
	e.tombMu.Unlock()

	for _, t := range buried {
		e.removeRows(t.kind, []string{t.id})
	}
}

func (e *Engine) announce(ctx context.Context, kind resource.Kind, op string, targets []string, detail string) {
	if e.publisher == nil {
		return
	}
	ev := notification.ChangeEvent{
		EventID:    uuid.NewString(),
		Kind:       kind.Name,
		Op:         op,
		IDs:        targets,
		Detail:     detail,
		OccurredAt: e.now().UTC(),
	}
	if err := e.publisher.PublishChange(ctx, ev); err != nil {
		e.logger.LogWarn(ctx, "change notification failed",
			"kind", kind.Name,
			"op", op,
			"error", err,
		)
	}
}

// authoritative extracts the entity from a write response: {data: {...}} or
// the object itself. Bodies without an id yield nil.
func authoritative(kind resource.Kind, data any) resource.Entity {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	if inner, ok := obj["data"].(map[string]any); ok {
		obj = inner
	}
	ent := resource.NormalizeEntity(kind, resource.Entity(obj))
	if ent.ID() == "" {
		return nil
	}
	return ent
}

func listTags(kind resource.Kind) []resource.Tag {
	tags := []resource.Tag{kind.ListTag()}
	if kind.Parent != nil {
		tags = append(tags, *kind.Parent)
	}
	return tags
}

func entityTags(kind resource.Kind, targets []string) []resource.Tag {
	tags := make([]resource.Tag, 0, len(targets))
	for _, id := range targets {
		tags = append(tags, kind.EntityTag(id))
	}
	return tags
}

func publishRow(row resource.Entity, now time.Time) {
	row[resource.FieldStatus] = resource.StatusPublished
	row[resource.FieldIsActive] = true
	if row.String(resource.FieldPublishedAt) == "" {
		row[resource.FieldPublishedAt] = resource.FormatTime(now)
	}
	row.Touch(now)
}

func ids(id string) []string {
	if id == "" {
		return nil
	}
	return []string{id}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
