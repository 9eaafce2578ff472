package query

import (
	"context"
	"sync"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/store"
)

// Update is delivered to a watcher whenever the watched entry changes or a
// background refetch of it fails.
type Update struct {
	Result
	Err error
}

// Subscription is a live view of one query. fn is called serially and must
// not call back into the subscription.
type Subscription struct {
	e  *Executor
	fn func(Update)

	deliverMu sync.Mutex

	mu          sync.Mutex
	q           Query
	key         store.Key
	unsubscribe func()
	stopped     bool
}

// Watch subscribes fn to q. The current cached value, if any, is delivered
// before Watch returns, and a background fetch is scheduled when it is
// missing or no longer fresh.
func (e *Executor) Watch(ctx context.Context, q Query, fn func(Update)) *Subscription {
	s := &Subscription{e: e, fn: fn}
	s.attach(ctx, q)
	return s
}

// Query returns the query currently watched.
func (s *Subscription) Query() Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q
}

// Retarget switches the subscription to a new query, as when a view is
// remounted with different parameters. Updates for the previous key are no
// longer delivered.
func (s *Subscription) Retarget(ctx context.Context, q Query) {
	s.mu.Lock()
	if s.stopped || q.Key() == s.key {
		s.q = q
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.detach()
	s.attach(ctx, q)
}

// Stop ends the subscription. It is safe to call more than once.
func (s *Subscription) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	s.detach()
}

func (s *Subscription) attach(ctx context.Context, q Query) {
	key := q.Key()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.q = q
	s.key = key
	s.mu.Unlock()

	s.e.register(key, q, s)
	unsubscribe := s.e.store.Subscribe(key, func(entry store.Entry) {
		s.deliver(key, Update{Result: s.e.result(entry)})
	})

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		s.detach()
		return
	}

	entry, ok := s.e.store.Lookup(key)
	if ok {
		s.deliver(key, Update{Result: s.e.result(entry)})
	}
	if !ok || !s.e.fresh(entry) {
		s.e.schedule(ctx, q, TriggerMount, false)
	}
}

func (s *Subscription) detach() {
	s.mu.Lock()
	key := s.key
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.e.unregister(key, s)
}

func (s *Subscription) deliver(key store.Key, u Update) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	current := !s.stopped && s.key == key
	s.mu.Unlock()
	if !current {
		return
	}
	s.fn(u)
}
