package store

import (
	"sync"
	"time"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

// Snapshot records the state of every entry a patch touched so the patch
// can be undone exactly.
type Snapshot struct {
	store   *Store
	saved   []saved
	touched []Key
	once    sync.Once
}

type saved struct {
	key       Key
	present   bool
	value     any
	tags      []resource.Tag
	fetchedAt time.Time
	stale     bool
}

// save captures key before it is edited. Caller holds the lock.
func (s *Store) save(key Key) saved {
	e, ok := s.entries[key]
	if !ok {
		return saved{key: key}
	}
	return saved{
		key:       key,
		present:   true,
		value:     resource.Snapshot(e.value),
		tags:      append([]resource.Tag(nil), e.tags...),
		fetchedAt: e.fetchedAt,
		stale:     e.stale,
	}
}

// Keys returns the keys the patch changed.
func (sn *Snapshot) Keys() []Key {
	if sn == nil {
		return nil
	}
	return append([]Key(nil), sn.touched...)
}

// Len returns the number of entries the patch changed.
func (sn *Snapshot) Len() int {
	if sn == nil {
		return 0
	}
	return len(sn.touched)
}

// Undo restores value, tags, freshness and presence of every changed entry.
// An entry invalidated after the patch is restored stale. Undo is idempotent
// and returns the number of entries restored.
func (sn *Snapshot) Undo() int {
	if sn == nil {
		return 0
	}

	restored := 0
	sn.once.Do(func() {
		changed := make(map[Key]struct{}, len(sn.touched))
		for _, k := range sn.touched {
			changed[k] = struct{}{}
		}

		s := sn.store
		s.mu.Lock()
		var notifiers []func()
		for _, sv := range sn.saved {
			if _, ok := changed[sv.key]; !ok {
				continue
			}
			if !sv.present {
				s.remove(sv.key)
			} else {
				// An invalidation since the patch stays in force, and its
				// refetch may still commit over the restored value.
				cur, ok := s.entries[sv.key]
				invalidated := ok && cur.stale && !sv.stale
				var gen uint64
				if invalidated {
					gen = cur.gen
				}
				s.write(sv.key, resource.Snapshot(sv.value), sv.tags, false)
				e := s.entries[sv.key]
				e.fetchedAt = sv.fetchedAt
				e.stale = sv.stale || invalidated
				if invalidated {
					e.gen = gen
				}
			}
			restored++
			notifiers = append(notifiers, s.collect(sv.key))
		}
		s.mu.Unlock()

		for _, n := range notifiers {
			n()
		}
	})
	return restored
}
