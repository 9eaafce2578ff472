// Package store is the in-process cache of query results shared by every
// view of a session. Values are indexed by tags so writes can find every
// entry that depends on a resource.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

// DefaultRetention is how long an unsubscribed entry survives.
const DefaultRetention = 5 * time.Minute

// Key identifies a cache entry: an endpoint plus a query signature (or an id
// for detail endpoints, in which case Signature is empty).
type Key struct {
	Endpoint  string
	Signature string
}

func (k Key) String() string {
	if k.Signature == "" {
		return k.Endpoint
	}
	return k.Endpoint + "?" + k.Signature
}

// Entry is a read-only view of a cache entry. Value is a private deep copy.
type Entry struct {
	Key         Key
	Value       any
	Tags        []resource.Tag
	FetchedAt   time.Time
	Stale       bool
	Present     bool
	Subscribers int
}

// Change is what an Edit wants done to one entry.
type Change struct {
	Value  any
	Tags   []resource.Tag
	Remove bool
}

// Edit rewrites one entry. It receives a private copy of the value and the
// current tags; returning false leaves the entry untouched.
type Edit func(key Key, value any, tags []resource.Tag) (Change, bool)

// Config configures a Store.
type Config struct {
	Retention time.Duration
	Now       func() time.Time
	Logger    *observability.Logger
	Metrics   *observability.Metrics
}

type entry struct {
	value      any
	tags       []resource.Tag
	fetchedAt  time.Time
	stale      bool
	gen        uint64
	releasedAt time.Time
}

type removal struct {
	gen uint64
	at  time.Time
}

type subscriber struct {
	id uint64
	fn func(Entry)
}

// Store is safe for concurrent use. Every read and write of an entry happens
// under one mutex, so a patch is atomic with respect to puts and other
// patches, and edits must not block.
type Store struct {
	mu        sync.Mutex
	entries   map[Key]*entry
	index     map[resource.Tag]map[Key]struct{}
	subs      map[Key][]subscriber
	removed   map[Key]removal
	seq       uint64
	clearedAt uint64
	nextSubID uint64

	listenersMu sync.RWMutex
	listeners   []func([]Key)

	retention time.Duration
	now       func() time.Time
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// New creates an empty Store.
func New(cfg Config) *Store {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	return &Store{
		entries:   make(map[Key]*entry),
		index:     make(map[resource.Tag]map[Key]struct{}),
		subs:      make(map[Key][]subscriber),
		removed:   make(map[Key]removal),
		retention: cfg.Retention,
		now:       cfg.Now,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

// Get returns a copy of the cached value.
func (s *Store) Get(key Key) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	return resource.Snapshot(e.value), true
}

// Lookup returns a copy of the whole entry.
func (s *Store) Lookup(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return Entry{Key: key, Subscribers: len(s.subs[key])}, false
	}
	return s.view(key), true
}

// Keys returns every cached key.
func (s *Store) Keys() []Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// KeysWithTag returns the keys whose tag set contains tag.
func (s *Store) KeysWithTag(tag resource.Tag) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]Key, 0, len(s.index[tag]))
	for k := range s.index[tag] {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Put replaces the value and tags of key and marks it fresh.
func (s *Store) Put(key Key, value any, tags []resource.Tag) {
	s.mu.Lock()
	s.write(key, resource.Snapshot(value), tags, true)
	notify := s.collect(key)
	s.mu.Unlock()

	notify()
}

// Begin returns a token for a fetch of key that is about to start.
func (s *Store) Begin(key Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Version returns a number that grows whenever key is written, patched,
// invalidated, removed or the store is cleared.
func (s *Store) Version(key Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := s.clearedAt
	if e, ok := s.entries[key]; ok && e.gen > v {
		v = e.gen
	}
	if r, ok := s.removed[key]; ok && r.gen > v {
		v = r.gen
	}
	return v
}

// Commit stores the result of a fetch started with Begin, unless the key was
// written, patched, invalidated or cleared since. It reports whether the
// value was stored.
func (s *Store) Commit(key Key, token uint64, value any, tags []resource.Tag) bool {
	s.mu.Lock()
	if token < s.clearedAt {
		s.mu.Unlock()
		return false
	}
	if e, ok := s.entries[key]; ok && e.gen > token {
		s.mu.Unlock()
		return false
	}
	if r, ok := s.removed[key]; ok && r.gen > token {
		s.mu.Unlock()
		return false
	}
	s.write(key, resource.Snapshot(value), tags, true)
	notify := s.collect(key)
	s.mu.Unlock()

	notify()
	return true
}

// Invalidate marks every entry carrying any of the tags as stale and returns
// the affected keys.
func (s *Store) Invalidate(tags ...resource.Tag) []Key {
	s.mu.Lock()
	keys := s.tagged(tags)

	notifiers := make([]func(), 0, len(keys))
	for _, k := range keys {
		e := s.entries[k]
		e.stale = true
		s.seq++
		e.gen = s.seq
		notifiers = append(notifiers, s.collect(k))
	}
	s.mu.Unlock()

	for _, n := range notifiers {
		n()
	}

	if len(keys) > 0 {
		s.metrics.RecordInvalidation(context.Background(), len(keys))
		s.logger.Debug("cache invalidated",
			"tags", resource.TagStrings(tags),
			"entries", len(keys),
		)
		s.listenersMu.RLock()
		listeners := append([]func([]Key){}, s.listeners...)
		s.listenersMu.RUnlock()
		for _, fn := range listeners {
			fn(keys)
		}
	}
	return keys
}

// OnInvalidate registers fn to be called with the keys of every invalidation.
func (s *Store) OnInvalidate(fn func([]Key)) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Patch applies edit to one entry, if present.
func (s *Store) Patch(key Key, edit Edit) *Snapshot {
	return s.patch(func() []Key { return []Key{key} }, edit)
}

// PatchTagged applies edit to every entry carrying any of the tags. All
// targets are snapshotted before the first edit.
func (s *Store) PatchTagged(tags []resource.Tag, edit Edit) *Snapshot {
	return s.patch(func() []Key { return s.tagged(tags) }, edit)
}

// patch resolves its targets and edits them under one critical section.
func (s *Store) patch(resolve func() []Key, edit Edit) *Snapshot {
	snap := &Snapshot{store: s}

	s.mu.Lock()
	var targets []Key
	for _, k := range resolve() {
		if _, ok := s.entries[k]; ok {
			targets = append(targets, k)
		}
	}
	for _, k := range targets {
		snap.saved = append(snap.saved, s.save(k))
	}

	var notifiers []func()
	for _, k := range targets {
		e := s.entries[k]
		change, ok := edit(k, resource.Snapshot(e.value), append([]resource.Tag(nil), e.tags...))
		if !ok {
			continue
		}
		if change.Remove {
			s.remove(k)
		} else {
			s.write(k, change.Value, change.Tags, false)
		}
		snap.touched = append(snap.touched, k)
		notifiers = append(notifiers, s.collect(k))
	}
	s.mu.Unlock()

	for _, n := range notifiers {
		n()
	}
	return snap
}

// tagged returns the keys carrying any of the tags. Caller holds the lock.
func (s *Store) tagged(tags []resource.Tag) []Key {
	seen := make(map[Key]struct{})
	var keys []Key
	for _, tag := range tags {
		for k := range s.index[tag] {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys
}

// Clear drops every entry. In-flight fetches started before the call are
// discarded when they complete. Subscriptions survive.
func (s *Store) Clear() {
	s.mu.Lock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.entries = make(map[Key]*entry)
	s.index = make(map[resource.Tag]map[Key]struct{})
	s.removed = make(map[Key]removal)
	s.seq++
	s.clearedAt = s.seq

	var notifiers []func()
	for _, k := range keys {
		notifiers = append(notifiers, s.collect(k))
	}
	s.mu.Unlock()

	for _, n := range notifiers {
		n()
	}
	s.logger.Debug("cache cleared", "entries", len(keys))
}

// Subscribe registers fn for every change of key and returns a function that
// removes the subscription.
func (s *Store) Subscribe(key Key, fn func(Entry)) (unsubscribe func()) {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[key] = append(s.subs[key], subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			list := s.subs[key]
			for i, sub := range list {
				if sub.id == id {
					list = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(list) == 0 {
				delete(s.subs, key)
				if e, ok := s.entries[key]; ok {
					e.releasedAt = s.now()
				}
				return
			}
			s.subs[key] = list
		})
	}
}

// Subscribers returns the number of subscriptions on key.
func (s *Store) Subscribers(key Key) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[key])
}

// Sweep evicts entries that have had no subscribers for the retention window
// and returns how many were evicted.
func (s *Store) Sweep() int {
	s.mu.Lock()
	now := s.now()
	evicted := 0
	for k, e := range s.entries {
		if len(s.subs[k]) > 0 {
			continue
		}
		if now.Sub(e.releasedAt) < s.retention {
			continue
		}
		s.remove(k)
		evicted++
	}
	for k, r := range s.removed {
		if now.Sub(r.at) >= s.retention {
			delete(s.removed, k)
		}
	}
	s.mu.Unlock()

	if evicted > 0 {
		s.metrics.RecordEviction(context.Background(), evicted)
		s.logger.Debug("cache entries evicted", "entries", evicted)
	}
	return evicted
}

// Run sweeps on every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// write stores value (already private) under key. Caller holds the lock.
func (s *Store) write(key Key, value any, tags []resource.Tag, fresh bool) {
	e, ok := s.entries[key]
	if !ok {
		e = &entry{releasedAt: s.now()}
		s.entries[key] = e
		delete(s.removed, key)
	}
	s.reindex(key, e.tags, tags)

	e.value = value
	e.tags = dedupe(tags)
	s.seq++
	e.gen = s.seq
	if fresh {
		e.fetchedAt = s.now()
		e.stale = false
	}
}

// remove drops key and its index entries. Caller holds the lock.
func (s *Store) remove(key Key) {
	e, ok := s.entries[key]
	if !ok {
		return
	}
	s.reindex(key, e.tags, nil)
	delete(s.entries, key)
	s.seq++
	s.removed[key] = removal{gen: s.seq, at: s.now()}
}

// reindex moves key from the old tag set to the new one. Caller holds the
// lock.
func (s *Store) reindex(key Key, old, next []resource.Tag) {
	keep := make(map[resource.Tag]struct{}, len(next))
	for _, t := range next {
		keep[t] = struct{}{}
	}
	for _, t := range old {
		if _, ok := keep[t]; ok {
			continue
		}
		if set, ok := s.index[t]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(s.index, t)
			}
		}
	}
	for t := range keep {
		set, ok := s.index[t]
		if !ok {
			set = make(map[Key]struct{})
			s.index[t] = set
		}
		set[key] = struct{}{}
	}
}

// view builds an Entry for key. Caller holds the lock.
func (s *Store) view(key Key) Entry {
	v := Entry{Key: key, Subscribers: len(s.subs[key])}
	e, ok := s.entries[key]
	if !ok {
		return v
	}
	v.Value = resource.Snapshot(e.value)
	v.Tags = append([]resource.Tag(nil), e.tags...)
	v.FetchedAt = e.fetchedAt
	v.Stale = e.stale
	v.Present = true
	return v
}

// collect captures what subscribers of key must be told about its current
// state. Caller holds the lock; the returned func must run without it.
func (s *Store) collect(key Key) func() {
	list := s.subs[key]
	if len(list) == 0 {
		return func() {}
	}
	views := make([]Entry, len(list))
	fns := make([]func(Entry), len(list))
	for i, sub := range list {
		views[i] = s.view(key)
		fns[i] = sub.fn
	}
	return func() {
		for i, fn := range fns {
			fn(views[i])
		}
	}
}

func dedupe(tags []resource.Tag) []resource.Tag {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[resource.Tag]struct{}, len(tags))
	out := make([]resource.Tag, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
