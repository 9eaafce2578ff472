package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/cache"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/resilience"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/worker"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/store"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/transport"
)

// DefaultStaleTime is how long a fetched entry is served without a refetch.
const DefaultStaleTime = time.Minute

// maxSupersededFetches bounds the fetches of one load whose responses are
// discarded because the entry was invalidated while they were in flight.
const maxSupersededFetches = 3

// Refetch triggers, as recorded in metrics.
const (
	TriggerMount      = "mount"
	TriggerFocus      = "focus"
	TriggerReconnect  = "reconnect"
	TriggerInvalidate = "invalidate"
)

// Sender performs one API request.
type Sender interface {
	Send(ctx context.Context, req transport.Request) (*transport.Response, error)
}

// Config configures an Executor.
type Config struct {
	Transport Sender
	Store     *store.Store
	Retry     resilience.RetryConfig
	StaleTime time.Duration

	// Shared is the optional cross-process response tier, consulted only
	// when the session cache has no entry for a key.
	Shared    cache.Cache
	SharedTTL time.Duration

	// Pool runs background refetches. Without one they run on their own
	// goroutines.
	Pool *worker.Pool
	// MaxConcurrent bounds network fetches in flight; zero means unbounded.
	MaxConcurrent int64

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
	Now     func() time.Time
}

// Result is a read from the cache or the API. Value is a private copy.
type Result struct {
	Key       store.Key
	Value     any
	FetchedAt time.Time
	// Stale is set when the value is past its freshness window or was
	// invalidated, including values served alongside a fetch error.
	Stale     bool
	FromCache bool
}

// Page returns the value as a paginated result, or nil.
func (r Result) Page() *resource.Page {
	p, _ := r.Value.(*resource.Page)
	return p
}

// Entity returns the value as an entity, or nil.
func (r Result) Entity() resource.Entity {
	e, _ := r.Value.(resource.Entity)
	return e
}

type watch struct {
	q    Query
	subs map[*Subscription]struct{}
}

// Executor serves queries from the session cache and fetches what is
// missing or stale. It is safe for concurrent use.
type Executor struct {
	transport Sender
	store     *store.Store
	retry     resilience.RetryConfig
	staleTime time.Duration
	shared    cache.Cache
	sharedTTL time.Duration
	pool      *worker.Pool
	sem       *semaphore.Weighted
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    observability.Tracer
	now       func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	watched map[store.Key]*watch
	closed  bool
}

// New creates an Executor and registers it for the store's invalidations.
func New(cfg Config) (*Executor, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.StaleTime <= 0 {
		cfg.StaleTime = DefaultStaleTime
	}
	if cfg.SharedTTL <= 0 {
		cfg.SharedTTL = 5 * time.Minute
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

	e := &Executor{
		transport: cfg.Transport,
		store:     cfg.Store,
		staleTime: cfg.StaleTime,
		shared:    cfg.Shared,
		sharedTTL: cfg.SharedTTL,
		pool:      cfg.Pool,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
		now:       cfg.Now,
		watched:   make(map[store.Key]*watch),
	}
	if cfg.MaxConcurrent > 0 {
		e.sem = semaphore.NewWeighted(cfg.MaxConcurrent)
	}

	e.retry = cfg.Retry
	onRetry := cfg.Retry.OnRetry
	e.retry.OnRetry = func(attempt int, err error) {
		e.metrics.RecordRetry(context.Background(), attempt)
		if onRetry != nil {
			onRetry(attempt, err)
		}
	}

	cfg.Store.OnInvalidate(e.onInvalidate)
	return e, nil
}

// Store returns the session cache the executor reads and writes.
func (e *Executor) Store() *store.Store {
	return e.store
}

// Fetch returns the cached value of q when it is fresh and fetches it
// otherwise. On failure the cache is left untouched and the previous value,
// if any, is returned alongside the error.
func (e *Executor) Fetch(ctx context.Context, q Query) (Result, error) {
	return e.read(ctx, q, false)
}

// Refetch fetches q from the API regardless of freshness.
func (e *Executor) Refetch(ctx context.Context, q Query) (Result, error) {
	return e.read(ctx, q, true)
}

func (e *Executor) read(ctx context.Context, q Query, force bool) (Result, error) {
	key := q.Key()

	ctx, span := e.tracer.StartSpan(ctx, "cms.query.fetch")
	defer span.End()
	span.SetAttribute("cms.kind", q.Kind.Name)
	span.SetAttribute("cms.cache_key", key.String())

	entry, present := e.store.Lookup(key)
	if !force && present && e.fresh(entry) {
		e.metrics.RecordCacheHit(ctx, "session")
		return e.result(entry), nil
	}
	if !force {
		e.metrics.RecordCacheMiss(ctx, "session")
	}

	res, err := e.load(ctx, q, key, !present && !force)
	if err != nil {
		span.NoticeError(err)
		if present {
			prev := e.result(entry)
			prev.Stale = true
			return prev, err
		}
		return Result{Key: key}, err
	}
	return res, nil
}

// load collapses concurrent loads of one key at one version, so a load
// started after a write or invalidation never joins a flight it superseded.
// The shared load is detached from the first caller's cancellation; every
// caller still stops waiting when its own context is done.
func (e *Executor) load(ctx context.Context, q Query, key store.Key, cold bool) (Result, error) {
	ch := e.group.DoChan(e.versioned(key), func() (interface{}, error) {
		return e.fetch(context.WithoutCancel(ctx), q, key, cold)
	})

	select {
	case <-ctx.Done():
		return Result{Key: key}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return Result{Key: key}, r.Err
		}
		res := r.Val.(Result)
		if r.Shared {
			res.Value = resource.Snapshot(res.Value)
		}
		return res, nil
	}
}

// versioned names key at its current store version.
func (e *Executor) versioned(key store.Key) string {
	return fmt.Sprintf("%s#%d", key, e.store.Version(key))
}

// fetch loads key from the API. A response discarded because the entry was
// invalidated in the meantime is fetched again, up to maxSupersededFetches.
func (e *Executor) fetch(ctx context.Context, q Query, key store.Key, cold bool) (Result, error) {
	for attempt := 1; ; attempt++ {
		res, committed, err := e.fetchOnce(ctx, q, key, cold && attempt == 1)
		if err != nil || committed || attempt == maxSupersededFetches {
			return res, err
		}
		if entry, ok := e.store.Lookup(key); !ok || !entry.Stale {
			return res, nil
		}
		e.logger.LogDebug(ctx, "entry invalidated during fetch, fetching again",
			"kind", q.Kind.Name,
			"key", key.String(),
			"attempt", attempt,
		)
	}
}

func (e *Executor) fetchOnce(ctx context.Context, q Query, key store.Key, cold bool) (Result, bool, error) {
	token := e.store.Begin(key)

	if cold && e.shared != nil {
		if res, ok := e.fromShared(ctx, q, key, token); ok {
			return res, true, nil
		}
	}

	if e.sem != nil {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return Result{}, false, err
		}
		defer e.sem.Release(1)
	}

	start := e.now()
	resp, err := resilience.RetryIfWithResult(ctx, e.retry, transport.IsRetryable,
		func(ctx context.Context) (*transport.Response, error) {
			return e.transport.Send(ctx, transport.Request{
				Method: http.MethodGet,
				Path:   key.Endpoint,
				Query:  q.Values(),
			})
		})
	if err != nil {
		e.metrics.RecordFetch(ctx, q.Kind.Name, false)
		e.logger.LogWarn(ctx, "query fetch failed",
			"kind", q.Kind.Name,
			"key", key.String(),
			"error", err,
		)
		return Result{}, false, err
	}
	e.metrics.RecordFetch(ctx, q.Kind.Name, true)
	e.logger.LogDebug(ctx, "query fetched",
		"kind", q.Kind.Name,
		"key", key.String(),
		"duration_ms", e.now().Sub(start).Milliseconds(),
	)

	res, committed := e.commit(ctx, q, key, token, Normalize(q, resp.Data), resp.Data)
	return res, committed, nil
}

// commit stores a normalized value unless a newer write superseded the
// fetch, and reports whether it did not. Only committed server responses
// reach the shared tier.
func (e *Executor) commit(ctx context.Context, q Query, key store.Key, token uint64, value, wire any) (Result, bool) {
	if value == nil {
		return Result{Key: key, FetchedAt: e.now()}, true
	}

	tags := resource.TagsFor(q.Kind, value)
	if !e.store.Commit(key, token, value, tags) {
		e.metrics.RecordDiscarded(ctx, q.Kind.Name)
		e.logger.LogDebug(ctx, "superseded response discarded",
			"kind", q.Kind.Name,
			"key", key.String(),
		)
		if entry, ok := e.store.Lookup(key); ok {
			return e.result(entry), false
		}
		return Result{Key: key, Value: resource.Snapshot(value), FetchedAt: e.now()}, false
	}

	if wire != nil && e.shared != nil {
		e.writeShared(ctx, key, wire, tags)
	}
	return Result{Key: key, Value: resource.Snapshot(value), FetchedAt: e.now()}, true
}

func (e *Executor) fromShared(ctx context.Context, q Query, key store.Key, token uint64) (Result, bool) {
	b, err := e.shared.Get(ctx, key.String())
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			e.logger.LogWarn(ctx, "shared cache read failed", "key", key.String(), "error", err)
		}
		e.metrics.RecordCacheMiss(ctx, "shared")
		return Result{}, false
	}

	var wire any
	if err := json.Unmarshal(b, &wire); err != nil {
		e.logger.LogWarn(ctx, "shared cache entry undecodable", "key", key.String(), "error", err)
		_ = e.shared.Delete(ctx, key.String())
		return Result{}, false
	}
	e.metrics.RecordCacheHit(ctx, "shared")

	res, committed := e.commit(ctx, q, key, token, Normalize(q, wire), nil)
	return res, committed && res.Value != nil
}

func (e *Executor) writeShared(ctx context.Context, key store.Key, wire any, tags []resource.Tag) {
	b, err := json.Marshal(wire)
	if err != nil {
		return
	}
	if err := e.shared.Set(ctx, key.String(), b, e.sharedTTL, resource.TagStrings(tags)...); err != nil {
		e.logger.LogWarn(ctx, "shared cache write failed", "key", key.String(), "error", err)
	}
}

// Invalidate marks every entry carrying any of the tags stale and drops the
// tags from the shared tier. Watched entries among them are refetched in the
// background.
func (e *Executor) Invalidate(ctx context.Context, tags ...resource.Tag) []store.Key {
	if len(tags) == 0 {
		return nil
	}
	e.DropShared(ctx, tags...)
	return e.store.Invalidate(tags...)
}

// DropShared removes the tags from the shared tier only. The session cache
// keeps its entries and their freshness.
func (e *Executor) DropShared(ctx context.Context, tags ...resource.Tag) {
	if e.shared == nil || len(tags) == 0 {
		return
	}
	if _, err := e.shared.InvalidateTags(ctx, resource.TagStrings(tags)...); err != nil {
		e.logger.LogWarn(ctx, "shared cache invalidation failed",
			"tags", resource.TagStrings(tags),
			"error", err,
		)
	}
}

// OnFocus refetches every watched query whose entry is no longer fresh.
func (e *Executor) OnFocus(ctx context.Context) {
	for _, q := range e.watchedQueries() {
		e.schedule(ctx, q, TriggerFocus, false)
	}
}

// OnReconnect refetches every watched query.
func (e *Executor) OnReconnect(ctx context.Context) {
	for _, q := range e.watchedQueries() {
		e.schedule(ctx, q, TriggerReconnect, true)
	}
}

// Close stops background scheduling. Subscriptions stop receiving updates.
func (e *Executor) Close() {
	e.mu.Lock()
	e.closed = true
	var subs []*Subscription
	for _, w := range e.watched {
		for s := range w.subs {
			subs = append(subs, s)
		}
	}
	e.mu.Unlock()

	for _, s := range subs {
		s.Stop()
	}
}

func (e *Executor) onInvalidate(keys []store.Key) {
	e.mu.Lock()
	var queries []Query
	for _, k := range keys {
		if w, ok := e.watched[k]; ok {
			queries = append(queries, w.q)
		}
	}
	e.mu.Unlock()

	for _, q := range queries {
		e.schedule(context.Background(), q, TriggerInvalidate, true)
	}
}

// schedule runs a fetch of q in the background. A fetch already pending for
// the same key at the same version absorbs the request; one pending from
// before the last write or invalidation does not.
func (e *Executor) schedule(ctx context.Context, q Query, trigger string, force bool) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}

	key := q.Key()
	e.metrics.RecordBackgroundRefetch(ctx, trigger)

	job := worker.Job{
		ID: e.versioned(key),
		Execute: func(ctx context.Context) (interface{}, error) {
			_, err := e.read(ctx, q, force)
			if err != nil {
				e.notifyError(key, err)
			}
			return nil, err
		},
	}

	if e.pool == nil {
		go func() { _, _ = job.Execute(context.Background()) }()
		return
	}
	if err := e.pool.SubmitOnce(job); err != nil && !errors.Is(err, worker.ErrDuplicate) {
		e.logger.LogDebug(ctx, "background refetch dropped",
			"key", key.String(),
			"trigger", trigger,
			"error", err,
		)
	}
}

func (e *Executor) fresh(entry store.Entry) bool {
	return entry.Present && !entry.Stale && e.now().Sub(entry.FetchedAt) < e.staleTime
}

func (e *Executor) result(entry store.Entry) Result {
	return Result{
		Key:       entry.Key,
		Value:     entry.Value,
		FetchedAt: entry.FetchedAt,
		Stale:     entry.Present && !e.fresh(entry),
		FromCache: true,
	}
}

func (e *Executor) register(key store.Key, q Query, s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.watched[key]
	if !ok {
		w = &watch{q: q, subs: make(map[*Subscription]struct{})}
		e.watched[key] = w
	}
	w.subs[s] = struct{}{}
}

func (e *Executor) unregister(key store.Key, s *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	w, ok := e.watched[key]
	if !ok {
		return
	}
	delete(w.subs, s)
	if len(w.subs) == 0 {
		delete(e.watched, key)
	}
}

func (e *Executor) watchedQueries() []Query {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Query, 0, len(e.watched))
	for _, w := range e.watched {
		out = append(out, w.q)
	}
	return out
}

func (e *Executor) notifyError(key store.Key, err error) {
	e.mu.Lock()
	var subs []*Subscription
	if w, ok := e.watched[key]; ok {
		for s := range w.subs {
			subs = append(subs, s)
		}
	}
	e.mu.Unlock()

	entry, _ := e.store.Lookup(key)
	for _, s := range subs {
		u := Update{Result: e.result(entry), Err: err}
		u.Stale = true
		s.deliver(key, u)
	}
}
