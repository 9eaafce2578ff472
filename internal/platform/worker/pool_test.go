package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func noop(ctx context.Context) (interface{}, error) { return nil, nil }

func blockingJob(id string, release <-chan struct{}) Job {
	return Job{ID: id, Execute: func(ctx context.Context) (interface{}, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}}
}

func TestNewPool_Defaults(t *testing.T) {
	pool := NewPool(context.Background(), 4, 10)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Expected 4 workers, got %d", pool.Workers())
	}
	if pool.DropPolicy() != DropPolicyBlock {
		t.Errorf("Expected DropPolicyBlock, got %d", pool.DropPolicy())
	}
}

func TestNewPoolWithConfig_ZeroWorkers(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{Workers: 0, QueueSize: -5})
	defer pool.Close()

	if pool.Workers() != 1 {
		t.Errorf("Expected 1 worker (default), got %d", pool.Workers())
	}
}

func TestPool_Submit_ReportsResults(t *testing.T) {
	results := make(chan Result, 1)
	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:   2,
		QueueSize: 10,
		OnResult:  func(r Result) { results <- r },
	})
	defer pool.Close()

	if err := pool.Submit(Job{ID: "answer", Execute: func(ctx context.Context) (interface{}, error) {
		return 42, nil
	}}); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	select {
	case r := <-results:
		if r.JobID != "answer" || r.Value != 42 || r.Err != nil {
			t.Errorf("Unexpected result: %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for job execution")
	}
}

func TestPool_TrySubmit_QueueFull(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{Workers: 1, QueueSize: 1})
	defer pool.Close()

	started := make(chan struct{})
	blocker := make(chan struct{})
	defer close(blocker)

	_ = pool.Submit(Job{ID: "blocking", Execute: func(ctx context.Context) (interface{}, error) {
		close(started)
		<-blocker
		return nil, nil
	}})
	<-started

	_ = pool.TrySubmit(Job{ID: "fill", Execute: noop})

	if err := pool.TrySubmit(Job{ID: "overflow", Execute: noop}); !errors.Is(err, ErrBackpressure) {
		t.Errorf("Expected ErrBackpressure, got %v", err)
	}
	if pool.Stats().JobsDropped != 1 {
		t.Errorf("Expected 1 dropped job, got %d", pool.Stats().JobsDropped)
	}
}

func TestPool_DropPolicyNewest(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{
		Workers:    1,
		QueueSize:  1,
		DropPolicy: DropPolicyNewest,
	})
	defer pool.Close()

	blocker := make(chan struct{})
	defer close(blocker)

	_ = pool.Submit(blockingJob("blocking", blocker))
	time.Sleep(20 * time.Millisecond)
	_ = pool.Submit(Job{ID: "fill", Execute: noop})

	if err := pool.Submit(Job{ID: "newest", Execute: noop}); !errors.Is(err, ErrBackpressure) {
		t.Errorf("Expected ErrBackpressure, got %v", err)
	}
}

func TestPool_SubmitOnce_CollapsesPendingIDs(t *testing.T) {
	pool := NewPoolWithConfig(context.Background(), PoolConfig{Workers: 1, QueueSize: 4})
	defer pool.Close()

	blocker := make(chan struct{})

	if err := pool.SubmitOnce(blockingJob("posts?page=1", blocker)); err != nil {
		t.Fatalf("first SubmitOnce failed: %v", err)
	}
	if err := pool.SubmitOnce(Job{ID: "posts?page=1", Execute: noop}); !errors.Is(err, ErrDuplicate) {
		t.Errorf("Expected ErrDuplicate, got %v", err)
	}
	if err := pool.SubmitOnce(Job{ID: "posts?page=2", Execute: noop}); err != nil {
		t.Errorf("Expected distinct ID to be accepted, got %v", err)
	}

	close(blocker)

	deadline := time.After(time.Second)
	for {
		if err := pool.SubmitOnce(Job{ID: "posts?page=1", Execute: noop}); err == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("ID was never released after the job finished")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPool_Stats(t *testing.T) {
	pool := NewPool(context.Background(), 2, 10)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		_ = pool.Submit(Job{ID: "job", Execute: func(ctx context.Context) (interface{}, error) {
			defer wg.Done()
			if i%2 == 0 {
				return nil, errors.New("refetch failed")
			}
			return nil, nil
		}})
	}
	wg.Wait()
	time.Sleep(20 * time.Millisecond)

	stats := pool.Stats()
	if stats.JobsSubmitted != 5 {
		t.Errorf("Expected 5 submitted jobs, got %d", stats.JobsSubmitted)
	}
	if stats.JobsCompleted+stats.JobsFailed != 5 || stats.JobsFailed != 3 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestPool_CloseRejectsSubmissions(t *testing.T) {
	pool := NewPool(context.Background(), 1, 1)
	pool.Close()
	pool.Close()

	if err := pool.TrySubmit(Job{ID: "late", Execute: noop}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
