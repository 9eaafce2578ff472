package store

import (
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func listKey(sig string) Key { return Key{Endpoint: "/posts", Signature: sig} }
func detailKey(id string) Key { return Key{Endpoint: "/posts/" + id} }

func page(ids ...string) *resource.Page {
	p := &resource.Page{Page: 1, Limit: 10, Total: len(ids)}
	for _, id := range ids {
		p.Data = append(p.Data, resource.Entity{"id": id, "status": "draft"})
	}
	p.Recount()
	return p
}

func put(s *Store, key Key, v any) {
	s.Put(key, v, resource.TagsFor(resource.Posts, v))
}

func sortedKeys(keys []Key) []Key {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

func TestStore_GetReturnsCopies(t *testing.T) {
	s := New(Config{})
	put(s, listKey("page=1"), page("a"))

	v, ok := s.Get(listKey("page=1"))
	if !ok {
		t.Fatal("expected entry")
	}
	v.(*resource.Page).Data[0]["status"] = "published"

	again, _ := s.Get(listKey("page=1"))
	if again.(*resource.Page).Data[0]["status"] != "draft" {
		t.Error("mutating a read value changed the cache")
	}
}

func TestStore_InvalidateIsTagScoped(t *testing.T) {
	s := New(Config{})
	put(s, listKey("page=1"), page("a", "b"))
	put(s, listKey("page=2"), page("c"))
	put(s, detailKey("a"), resource.Entity{"id": "a"})
	put(s, detailKey("c"), resource.Entity{"id": "c"})

	got := sortedKeys(s.Invalidate(resource.Posts.EntityTag("a")))
	want := sortedKeys([]Key{listKey("page=1"), detailKey("a")})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("invalidated keys mismatch (-want +got):\n%s", diff)
	}

	for _, k := range []Key{listKey("page=2"), detailKey("c")} {
		if e, _ := s.Lookup(k); e.Stale {
			t.Errorf("%s should not be stale", k)
		}
	}
	for _, k := range want {
		if e, _ := s.Lookup(k); !e.Stale {
			t.Errorf("%s should be stale", k)
		}
	}

	if n := len(s.Invalidate(resource.Posts.ListTag())); n != 2 {
		t.Errorf("LIST invalidation touched %d entries, want 2", n)
	}
}

func TestStore_PutReplacesTagIndex(t *testing.T) {
	s := New(Config{})
	put(s, listKey("page=1"), page("a", "b"))
	put(s, listKey("page=1"), page("c"))

	if keys := s.KeysWithTag(resource.Posts.EntityTag("a")); len(keys) != 0 {
		t.Errorf("stale index entry for a: %v", keys)
	}
	if keys := s.KeysWithTag(resource.Posts.EntityTag("c")); len(keys) != 1 {
		t.Errorf("expected c indexed once, got %v", keys)
	}
}

func TestStore_UndoRestoresEverything(t *testing.T) {
	s := New(Config{})
	put(s, listKey("page=1"), page("a", "b"))
	put(s, listKey("status=draft"), page("a"))
	put(s, detailKey("a"), resource.Entity{"id": "a", "status": "draft"})

	before := map[Key]Entry{}
	for _, k := range s.Keys() {
		before[k], _ = s.Lookup(k)
	}

	snap := s.PatchTagged([]resource.Tag{resource.Posts.EntityTag("a")}, func(key Key, value any, tags []resource.Tag) (Change, bool) {
		switch v := value.(type) {
		case *resource.Page:
			v.Remove("a")
			return Change{Value: v, Tags: resource.TagsFor(resource.Posts, v)}, true
		default:
			return Change{Remove: true}, true
		}
	})
	if snap.Len() != 3 {
		t.Fatalf("expected 3 touched entries, got %d", snap.Len())
	}
	if _, ok := s.Get(detailKey("a")); ok {
		t.Fatal("detail entry should be removed")
	}
	if keys := s.KeysWithTag(resource.Posts.EntityTag("a")); len(keys) != 0 {
		t.Fatalf("a still indexed: %v", keys)
	}

	if n := snap.Undo(); n != 3 {
		t.Errorf("Undo restored %d entries, want 3", n)
	}
	if n := snap.Undo(); n != 0 {
		t.Errorf("second Undo restored %d entries, want 0", n)
	}

	for k, want := range before {
		got, ok := s.Lookup(k)
		if !ok {
			t.Errorf("%s missing after undo", k)
			continue
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s mismatch after undo (-want +got):\n%s", k, diff)
		}
	}
	if keys := s.KeysWithTag(resource.Posts.EntityTag("a")); len(keys) != 3 {
		t.Errorf("tag index not restored, got %v", keys)
	}
}

func TestStore_UndoKeepsLaterInvalidation(t *testing.T) {
	s := New(Config{})
	key := listKey("page=1")
	put(s, key, page("a", "b"))

	snap := s.Patch(key, func(_ Key, value any, _ []resource.Tag) (Change, bool) {
		p := value.(*resource.Page)
		p.Each("a", func(e resource.Entity) { e["status"] = "published" })
		return Change{Value: p, Tags: resource.TagsFor(resource.Posts, p)}, true
	})
	s.Invalidate(resource.Posts.ListTag())
	token := s.Begin(key)

	snap.Undo()
	got, _ := s.Lookup(key)
	if !got.Stale {
		t.Error("undo erased the invalidation")
	}
	if status := got.Value.(*resource.Page).Data[0].String("status"); status != "draft" {
		t.Errorf("status = %q, want the pre-patch value", status)
	}
	if !s.Commit(key, token, page("a"), resource.TagsFor(resource.Posts, page("a"))) {
		t.Error("refetch begun after the invalidation should commit over the undo")
	}
}

func TestStore_VersionGrowsOnEveryChange(t *testing.T) {
	s := New(Config{})
	key := listKey("page=1")

	seen := []uint64{s.Version(key)}
	step := func(name string, fn func()) {
		t.Helper()
		fn()
		v := s.Version(key)
		if v <= seen[len(seen)-1] {
			t.Errorf("%s: version %d did not grow past %d", name, v, seen[len(seen)-1])
		}
		seen = append(seen, v)
	}
	step("put", func() { put(s, key, page("a")) })
	step("invalidate", func() { s.Invalidate(resource.Posts.ListTag()) })
	step("remove", func() {
		s.Patch(key, func(Key, any, []resource.Tag) (Change, bool) { return Change{Remove: true}, true })
	})
	step("clear", s.Clear)
}

func TestStore_CommitDiscardsSupersededFetch(t *testing.T) {
	s := New(Config{})
	key := listKey("page=1")
	put(s, key, page("a"))

	token := s.Begin(key)
	s.Patch(key, func(_ Key, value any, tags []resource.Tag) (Change, bool) {
		p := value.(*resource.Page)
		p.Prepend(resource.Entity{"id": "temp-1"})
		return Change{Value: p, Tags: resource.TagsFor(resource.Posts, p)}, true
	})

	if s.Commit(key, token, page("a"), nil) {
		t.Fatal("a fetch begun before a patch must not overwrite it")
	}
	v, _ := s.Get(key)
	if v.(*resource.Page).Data[0].ID() != "temp-1" {
		t.Error("patched value was overwritten")
	}

	if !s.Commit(key, s.Begin(key), page("b"), nil) {
		t.Error("a fetch begun after the patch should commit")
	}
}

func TestStore_CommitAfterRemoveOrClearIsDiscarded(t *testing.T) {
	s := New(Config{})
	put(s, detailKey("a"), resource.Entity{"id": "a"})

	token := s.Begin(detailKey("a"))
	s.Patch(detailKey("a"), func(Key, any, []resource.Tag) (Change, bool) {
		return Change{Remove: true}, true
	})
	if s.Commit(detailKey("a"), token, resource.Entity{"id": "a"}, nil) {
		t.Error("removed entry was resurrected by an older fetch")
	}

	token = s.Begin(listKey("page=1"))
	s.Clear()
	if s.Commit(listKey("page=1"), token, page("x"), nil) {
		t.Error("fetch from before Clear was committed")
	}
	if s.Len() != 0 {
		t.Errorf("expected empty store, got %d entries", s.Len())
	}
}

func TestStore_SubscribersNotified(t *testing.T) {
	s := New(Config{})
	key := listKey("page=1")

	var mu sync.Mutex
	var seen []Entry
	unsubscribe := s.Subscribe(key, func(e Entry) {
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})

	put(s, key, page("a"))
	s.Invalidate(resource.Posts.ListTag())
	unsubscribe()
	unsubscribe()
	put(s, key, page("b"))

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(seen))
	}
	if !seen[0].Present || seen[0].Stale {
		t.Errorf("first notification should be a fresh value: %+v", seen[0])
	}
	if !seen[1].Stale {
		t.Error("second notification should report staleness")
	}
	if s.Subscribers(key) != 0 {
		t.Errorf("expected no subscribers, got %d", s.Subscribers(key))
	}
}

func TestStore_OnInvalidateListener(t *testing.T) {
	s := New(Config{})
	put(s, listKey("page=1"), page("a"))

	var got []Key
	s.OnInvalidate(func(keys []Key) { got = append(got, keys...) })

	s.Invalidate(resource.Posts.EntityTag("missing"))
	s.Invalidate(resource.Posts.EntityTag("a"))

	if diff := cmp.Diff([]Key{listKey("page=1")}, got); diff != "" {
		t.Errorf("listener keys mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_SweepRespectsSubscribersAndRetention(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := New(Config{Retention: time.Minute, Now: clock.Now})

	watched := listKey("page=1")
	idle := listKey("page=2")
	put(s, watched, page("a"))
	put(s, idle, page("b"))

	unsubscribe := s.Subscribe(watched, func(Entry) {})

	clock.Advance(30 * time.Second)
	if n := s.Sweep(); n != 0 {
		t.Fatalf("nothing should be evicted inside the window, evicted %d", n)
	}

	clock.Advance(31 * time.Second)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("expected the idle entry to be evicted, evicted %d", n)
	}
	if _, ok := s.Get(watched); !ok {
		t.Fatal("subscribed entry was evicted")
	}

	unsubscribe()
	clock.Advance(59 * time.Second)
	if n := s.Sweep(); n != 0 {
		t.Fatalf("retention restarts at unsubscribe, evicted %d", n)
	}
	clock.Advance(2 * time.Second)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("expected released entry to be evicted, evicted %d", n)
	}
}
