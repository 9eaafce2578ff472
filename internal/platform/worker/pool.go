// Package worker provides a bounded worker pool for background jobs such as
// cache refetches.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrBackpressure is returned when the queue is full and the job was not accepted.
	ErrBackpressure = errors.New("worker: queue full")

	// ErrDuplicate is returned by SubmitOnce when a job with the same ID is pending.
	ErrDuplicate = errors.New("worker: job already pending")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("worker: pool closed")
)

// Job represents a unit of work to be executed by a worker.
type Job struct {
	// ID identifies the job; SubmitOnce uses it to collapse duplicates.
	ID string
	// Execute is the function to run.
	Execute func(ctx context.Context) (interface{}, error)
}

// Result represents the outcome of a job execution.
type Result struct {
	JobID string
	Value interface{}
	Err   error
}

// DropPolicy decides what Submit does when the queue is full.
type DropPolicy int

const (
	// DropPolicyBlock waits for queue space.
	DropPolicyBlock DropPolicy = iota
	// DropPolicyNewest rejects the incoming job with ErrBackpressure.
	DropPolicyNewest
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	Workers    int
	QueueSize  int
	DropPolicy DropPolicy
	// OnResult receives every job outcome. It runs on the worker goroutine.
	OnResult func(Result)
}

// Stats is a point-in-time view of pool counters.
type Stats struct {
	JobsSubmitted int64
	JobsCompleted int64
	JobsFailed    int64
	JobsDropped   int64
}

// Pool is a worker pool that processes jobs concurrently.
type Pool struct {
	workers    int
	dropPolicy DropPolicy
	onResult   func(Result)
	jobQueue   chan Job
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc

	pendingMu sync.Mutex
	pending   map[string]struct{}
	closed    atomic.Bool

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewPool creates a pool with the given number of workers and queue size,
// using DropPolicyBlock.
func NewPool(ctx context.Context, workers int, queueSize int) *Pool {
	return NewPoolWithConfig(ctx, PoolConfig{Workers: workers, QueueSize: queueSize})
}

// NewPoolWithConfig creates a pool and starts its workers.
func NewPoolWithConfig(ctx context.Context, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	poolCtx, cancel := context.WithCancel(ctx)

	p := &Pool{
		workers:    cfg.Workers,
		dropPolicy: cfg.DropPolicy,
		onResult:   cfg.OnResult,
		jobQueue:   make(chan Job, cfg.QueueSize),
		ctx:        poolCtx,
		cancel:     cancel,
		pending:    make(map[string]struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case job := <-p.jobQueue:
			value, err := job.Execute(p.ctx)
			p.release(job.ID)

			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			if p.onResult != nil {
				p.onResult(Result{JobID: job.ID, Value: value, Err: err})
			}
		}
	}
}

// Submit adds a job to the queue according to the pool's drop policy.
func (p *Pool) Submit(job Job) error {
	if p.dropPolicy == DropPolicyNewest {
		return p.TrySubmit(job)
	}
	if p.closed.Load() {
		return ErrClosed
	}

	select {
	case <-p.ctx.Done():
		return p.ctx.Err()
	case p.jobQueue <- job:
		p.submitted.Add(1)
		return nil
	}
}

// TrySubmit enqueues a job without blocking.
func (p *Pool) TrySubmit(job Job) error {
	if p.closed.Load() {
		return ErrClosed
	}

	select {
	case p.jobQueue <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrBackpressure
	}
}

// SubmitOnce enqueues a job without blocking unless a job with the same ID is
// still queued or running.
func (p *Pool) SubmitOnce(job Job) error {
	p.pendingMu.Lock()
	if _, ok := p.pending[job.ID]; ok {
		p.pendingMu.Unlock()
		return ErrDuplicate
	}
	p.pending[job.ID] = struct{}{}
	p.pendingMu.Unlock()

	if err := p.TrySubmit(job); err != nil {
		p.release(job.ID)
		return err
	}
	return nil
}

func (p *Pool) release(id string) {
	p.pendingMu.Lock()
	delete(p.pending, id)
	p.pendingMu.Unlock()
}

// Close stops the workers. Queued jobs that have not started are discarded.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	p.cancel()
	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *Pool) Workers() int {
	return p.workers
}

// DropPolicy returns the configured drop policy.
func (p *Pool) DropPolicy() DropPolicy {
	return p.dropPolicy
}

// QueueLen returns the current number of jobs waiting in the queue.
func (p *Pool) QueueLen() int {
	return len(p.jobQueue)
}

// Stats returns the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		JobsSubmitted: p.submitted.Load(),
		JobsCompleted: p.completed.Load(),
		JobsFailed:    p.failed.Load(),
		JobsDropped:   p.dropped.Load(),
	}
}
