// Package content is the entry point of the CMS client: a Session owns the
// transport, the session cache and the engines that read and write through
// it, and exposes one service per resource kind.
package content

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/mutation"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/notification"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/aws"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/cache"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/config"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/resilience"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/worker"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/query"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/store"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/transport"
)

// Deps carries the process-wide collaborators of a Session. Shared and
// Publisher replace the configured backends when set.
type Deps struct {
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     observability.Tracer
	HTTPClient *http.Client
	Shared     cache.Cache
	Publisher  notification.ChangePublisher
	Now        func() time.Time
}

// Session is one signed-in client. Every view reading the same query
// observes the same cached value.
type Session struct {
	logger  *observability.Logger
	metrics *observability.Metrics

	client    *transport.Client
	breaker   *resilience.CircuitBreaker
	store     *store.Store
	executor  *query.Executor
	engine    *mutation.Engine
	pool      *worker.Pool
	shared    cache.Cache
	publisher notification.ChangePublisher
	warmer    *cache.Warmer

	cancel    context.CancelFunc
	closers   []func() error
	closeOnce sync.Once

	Posts      *PostService
	Pages      *Service
	Categories *Service
}

// Open builds a Session from configuration.
func Open(ctx context.Context, cfg *config.Config, deps Deps) (*Session, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}
	if deps.Tracer == nil {
		deps.Tracer = observability.NewNoopTracer()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		logger:  deps.Logger,
		metrics: deps.Metrics,
		cancel:  cancel,
	}

	if err := s.build(ctx, runCtx, cfg, deps); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("content session opened",
		"base_url", s.client.BaseURL(),
		"shared_backend", cfg.Cache.Shared.Backend,
		"workers", s.pool.Workers(),
	)

	if cfg.Cache.Shared.WarmOnOpen {
		s.Warmup(ctx)
	}
	return s, nil
}

func (s *Session) build(ctx, runCtx context.Context, cfg *config.Config, deps Deps) error {
	var limiter *resilience.RateLimiter
	if cfg.API.RateLimit.RequestsPerMinute > 0 {
		limiter = resilience.NewRateLimiterFromRPM(cfg.API.RateLimit.RequestsPerMinute, cfg.API.RateLimit.Burst)
	}
	if cfg.API.Breaker.Enabled {
		s.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "cms-api",
			FailureThreshold: cfg.API.Breaker.FailureThreshold,
			SuccessThreshold: cfg.API.Breaker.SuccessThreshold,
			Timeout:          cfg.API.Breaker.OpenTimeout,
			IsFailure:        transport.BreakerFailure,
			OnStateChange: func(from, to resilience.State) {
				s.logger.Info("API circuit breaker state changed",
					"from", from.String(),
					"to", to.String(),
				)
				s.metrics.SetCircuitBreakerState(context.Background(), "cms-api", int64(to))
			},
		})
	}

	client, err := transport.New(transport.Config{
		BaseURL:     cfg.API.BaseURL,
		Timeout:     cfg.API.Timeout,
		Token:       cfg.API.Token,
		Headers:     cfg.API.Headers,
		HTTPClient:  deps.HTTPClient,
		RateLimiter: limiter,
		Breaker:     s.breaker,
		Logger:      deps.Logger,
		Metrics:     deps.Metrics,
		Tracer:      deps.Tracer,
	})
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	s.client = client

	s.store = store.New(store.Config{
		Retention: cfg.Cache.Retention,
		Now:       deps.Now,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
	})
	if cfg.Cache.SweepInterval > 0 {
		go s.store.Run(runCtx, cfg.Cache.SweepInterval)
	}

	s.pool = worker.NewPoolWithConfig(runCtx, worker.PoolConfig{
		Workers:    cfg.Workers.Count,
		QueueSize:  cfg.Workers.QueueSize,
		DropPolicy: worker.DropPolicyNewest,
		OnResult: func(r worker.Result) {
			if r.Err != nil && !errors.Is(r.Err, context.Canceled) {
				s.logger.LogDebug(runCtx, "background job failed", "job", r.JobID, "error", r.Err)
			}
		},
	})
	s.closers = append(s.closers, func() error { s.pool.Close(); return nil })

	shared := deps.Shared
	if shared == nil {
		shared, err = openShared(cfg, deps.Logger)
		if err != nil {
			return err
		}
		if shared != nil {
			s.closers = append(s.closers, shared.Close)
		}
	}
	s.shared = shared

	retry := RetryConfig(cfg.Retry)

	s.executor, err = query.New(query.Config{
		Transport:     client,
		Store:         s.store,
		Retry:         retry,
		StaleTime:     cfg.Cache.StaleTime,
		Shared:        shared,
		SharedTTL:     cfg.Cache.Shared.L2TTL,
		Pool:          s.pool,
		MaxConcurrent: int64(cfg.Workers.Count * 2),
		Logger:        deps.Logger,
		Metrics:       deps.Metrics,
		Tracer:        deps.Tracer,
		Now:           deps.Now,
	})
	if err != nil {
		return fmt.Errorf("failed to create query executor: %w", err)
	}
	s.closers = append(s.closers, func() error { s.executor.Close(); return nil })

	publisher := deps.Publisher
	if publisher == nil {
		publisher, err = openPublisher(ctx, cfg, deps)
		if err != nil {
			return err
		}
	}
	s.publisher = publisher

	s.engine, err = mutation.New(mutation.Config{
		Transport:   client,
		Store:       s.store,
		Invalidator: s.executor,
		Retry:       retry,
		Publisher:   publisher,
		Logger:      deps.Logger,
		Metrics:     deps.Metrics,
		Tracer:      deps.Tracer,
		Now:         deps.Now,
	})
	if err != nil {
		return fmt.Errorf("failed to create mutation engine: %w", err)
	}

	s.Posts = &PostService{Service: newService(resource.Posts, s.executor, s.engine)}
	s.Pages = newService(resource.Pages, s.executor, s.engine)
	s.Categories = newService(resource.Categories, s.executor, s.engine)

	s.warmer = cache.NewWarmer(deps.Logger, cache.DefaultWarmupConfig())
	s.warmer.RegisterProvider(s.Posts)
	s.warmer.RegisterProvider(s.Pages)
	s.warmer.RegisterProvider(s.Categories)
	return nil
}

// RetryConfig maps the configured retry policy onto the resilience one.
// max_retries counts retries after the first attempt.
func RetryConfig(c config.RetryConfig) resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts: c.MaxRetries + 1,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		Jitter:      c.Jitter,
	}
}

func openShared(cfg *config.Config, logger *observability.Logger) (cache.Cache, error) {
	sc := cfg.Cache.Shared
	switch sc.Backend {
	case config.BackendMemory:
		return cache.NewMemoryCache(sc.L1MaxSize), nil
	case config.BackendRedis:
		rc, err := cache.NewRedisCache(cache.RedisOptions{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   sc.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open shared cache: %w", err)
		}
		return rc, nil
	case config.BackendLayered:
		rc, err := cache.NewRedisCache(cache.RedisOptions{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   sc.KeyPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open shared cache: %w", err)
		}
		return cache.NewLayeredCacheWithConfig(cache.LayeredCacheConfig{
			L1:       cache.NewMemoryCache(sc.L1MaxSize),
			L2:       rc,
			L1MaxTTL: sc.L1TTL,
			Logger:   logger.Logger,
		}), nil
	default:
		return nil, nil
	}
}

func openPublisher(ctx context.Context, cfg *config.Config, deps Deps) (notification.ChangePublisher, error) {
	if cfg.AWS.SNSTopicARN == "" {
		return notification.NewNoOpPublisher(deps.Logger), nil
	}

	awsCfg, err := aws.LoadAWSConfig(ctx, aws.Config{
		Region:   cfg.AWS.Region,
		Endpoint: cfg.AWS.Endpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	snsClient := aws.NewSNSClient(aws.SNSClientConfig{
		AWSConfig: awsCfg,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
	})
	publisher, err := notification.NewPublisher(notification.PublisherConfig{
		SNSClient: snsClient,
		TopicARN:  cfg.AWS.SNSTopicARN,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
		Tracer:    deps.Tracer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}
	return publisher, nil
}

// Executor returns the query executor.
func (s *Session) Executor() *query.Executor {
	return s.executor
}

// Engine returns the mutation engine.
func (s *Session) Engine() *mutation.Engine {
	return s.engine
}

// Store returns the session cache.
func (s *Session) Store() *store.Store {
	return s.store
}

// Service returns the generic service of a top-level kind.
func (s *Session) Service(kind resource.Kind) (*Service, error) {
	switch kind.Name {
	case resource.Posts.Name:
		return s.Posts.Service, nil
	case resource.Pages.Name:
		return s.Pages, nil
	case resource.Categories.Name:
		return s.Categories, nil
	default:
		return nil, fmt.Errorf("no service for kind %q", kind.Name)
	}
}

// Warmup prefetches page 1 of every kind.
func (s *Session) Warmup(ctx context.Context) *cache.WarmupResults {
	return s.warmer.Warmup(ctx)
}

// Reachable reports whether the API answered a request at all. Client and
// server errors count as reachable.
func (s *Session) Reachable(ctx context.Context) bool {
	_, err := s.client.Send(ctx, transport.Request{
		Method: http.MethodGet,
		Path:   resource.Posts.Path("/public"),
		Query:  query.Params{Limit: 1}.Values(),
	})
	var te *transport.Error
	if errors.As(err, &te) {
		return te.Kind != transport.KindNetwork
	}
	return err == nil
}

// BreakerState returns the API circuit breaker state, or "disabled".
func (s *Session) BreakerState() string {
	if s.breaker == nil {
		return "disabled"
	}
	return s.breaker.State().String()
}

// SignOut drops every cached entry. Fetches in flight are discarded when
// they complete.
func (s *Session) SignOut() {
	n := s.store.Len()
	s.store.Clear()
	s.logger.Info("session cache cleared", "entries", n)
}

// Close stops background work and releases the shared tier. It is safe to
// call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				s.logger.LogWarn(context.Background(), "close failed", "error", err)
			}
		}
		s.cancel()
	})
}
