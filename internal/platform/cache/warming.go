package cache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
)

// WarmupProvider prefetches the queries a session is likely to need first,
// typically page 1 of each resource list.
type WarmupProvider interface {
	// Name returns a human-readable name for logging purposes
	Name() string

	// Warmup pre-populates the cache with initial data.
	// It should be idempotent and safe to call multiple times.
	Warmup(ctx context.Context) error
}

// WarmupConfig configures the cache warming behavior.
type WarmupConfig struct {
	// Timeout is the maximum duration to wait for all providers to complete
	Timeout time.Duration

	// ContinueOnError determines whether to continue warming if a provider fails
	ContinueOnError bool

	// Parallel determines whether to warm providers in parallel
	Parallel bool

	// Concurrency bounds parallel warmups; zero means one goroutine per provider
	Concurrency int
}

// DefaultWarmupConfig returns sensible defaults for cache warming.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Timeout:         30 * time.Second,
		ContinueOnError: true,
		Parallel:        true,
		Concurrency:     4,
	}
}

// WarmupResult contains the result of warming a single provider.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// WarmupResults contains the aggregate results of cache warming.
type WarmupResults struct {
	Results   []WarmupResult
	TotalTime time.Duration
	Errors    int
}

// HasErrors returns true if any provider failed during warmup.
func (wr *WarmupResults) HasErrors() bool {
	return wr.Errors > 0
}

// Warmer handles cache warming operations.
type Warmer struct {
	providers []WarmupProvider
	logger    *observability.Logger
	config    WarmupConfig
}

// NewWarmer creates a new cache warmer.
func NewWarmer(logger *observability.Logger, config WarmupConfig) *Warmer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultWarmupConfig().Timeout
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Warmer{
		providers: make([]WarmupProvider, 0),
		logger:    logger,
		config:    config,
	}
}

// RegisterProvider adds a warmup provider to the warmer.
func (w *Warmer) RegisterProvider(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup executes all registered warmup providers.
// Returns aggregate results including timing and errors.
func (w *Warmer) Warmup(ctx context.Context) *WarmupResults {
	start := time.Now()
	results := &WarmupResults{
		Results: make([]WarmupResult, 0, len(w.providers)),
	}

	if len(w.providers) == 0 {
		results.TotalTime = time.Since(start)
		return results
	}

	warmupCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	if w.config.Parallel {
		results.Results = w.warmupParallel(warmupCtx)
	} else {
		results.Results = w.warmupSequential(warmupCtx)
	}

	for _, r := range results.Results {
		if r.Err != nil {
			results.Errors++
		}
	}

	results.TotalTime = time.Since(start)

	if results.Errors > 0 {
		w.logger.LogWarn(ctx, "cache warmup completed with errors",
			"providers", len(w.providers),
			"errors", results.Errors,
			"duration_ms", results.TotalTime.Milliseconds(),
		)
	} else {
		w.logger.LogInfo(ctx, "cache warmup completed",
			"providers", len(w.providers),
			"duration_ms", results.TotalTime.Milliseconds(),
		)
	}

	return results
}

// warmupParallel warms all providers concurrently. Provider errors are
// collected in the results rather than cancelling the group.
func (w *Warmer) warmupParallel(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, len(w.providers))

	var g errgroup.Group
	if w.config.Concurrency > 0 {
		g.SetLimit(w.config.Concurrency)
	}
	for i, provider := range w.providers {
		i, provider := i, provider
		g.Go(func() error {
			results[i] = w.warmupProvider(ctx, provider)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// warmupSequential warms providers one at a time.
func (w *Warmer) warmupSequential(ctx context.Context) []WarmupResult {
	results := make([]WarmupResult, 0, len(w.providers))

	for _, provider := range w.providers {
		result := w.warmupProvider(ctx, provider)
		results = append(results, result)

		// Stop on first error if not configured to continue
		if result.Err != nil && !w.config.ContinueOnError {
			break
		}
	}

	return results
}

// warmupProvider warms a single provider and returns the result.
func (w *Warmer) warmupProvider(ctx context.Context, provider WarmupProvider) WarmupResult {
	start := time.Now()
	name := provider.Name()

	err := provider.Warmup(ctx)
	duration := time.Since(start)

	if err != nil {
		err = fmt.Errorf("warm %s: %w", name, err)
		w.logger.LogError(ctx, "cache warmup failed", err,
			"provider", name,
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		w.logger.LogDebug(ctx, "cache warmed",
			"provider", name,
			"duration_ms", duration.Milliseconds(),
		)
	}

	return WarmupResult{
		Provider: name,
		Duration: duration,
		Err:      err,
	}
}
