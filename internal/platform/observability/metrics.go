package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all client metrics. A nil *Metrics, or one created with
// metrics disabled, records nothing.
type Metrics struct {
	meter metric.Meter

	// Transport metrics
	TransportRequests metric.Int64Counter
	TransportDuration metric.Float64Histogram
	TransportRetries  metric.Int64Counter

	// Cache metrics
	CacheHits          metric.Int64Counter
	CacheMisses        metric.Int64Counter
	CacheInvalidations metric.Int64Counter
	CacheEvictions     metric.Int64Counter

	// Query metrics
	QueryFetches      metric.Int64Counter
	QueryDiscarded    metric.Int64Counter
	BackgroundRefetch metric.Int64Counter

	// Mutation metrics
	Mutations        metric.Int64Counter
	MutationDuration metric.Float64Histogram
	Rollbacks        metric.Int64Counter
	BulkRows         metric.Int64Histogram

	// Circuit breaker metrics
	CircuitBreakerState metric.Int64Gauge

	// Error metrics
	Errors metric.Int64Counter

	// Prometheus exporter for HTTP handler
	exporter *prometheus.Exporter
}

// NewMetrics creates a new Metrics instance
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:    provider.Meter(serviceName),
		exporter: exporter,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	// Transport metrics
	m.TransportRequests, err = m.meter.Int64Counter(
		"cms.transport.requests",
		metric.WithDescription("Total API requests by method and outcome"),
	)
	if err != nil {
		return err
	}

	m.TransportDuration, err = m.meter.Float64Histogram(
		"cms.transport.duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.TransportRetries, err = m.meter.Int64Counter(
		"cms.transport.retries",
		metric.WithDescription("Total retried API attempts"),
	)
	if err != nil {
		return err
	}

	// Cache metrics
	m.CacheHits, err = m.meter.Int64Counter(
		"cms.cache.hits",
		metric.WithDescription("Total cache hits by layer"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"cms.cache.misses",
		metric.WithDescription("Total cache misses by layer"),
	)
	if err != nil {
		return err
	}

	m.CacheInvalidations, err = m.meter.Int64Counter(
		"cms.cache.invalidations",
		metric.WithDescription("Total cache entries marked stale"),
	)
	if err != nil {
		return err
	}

	m.CacheEvictions, err = m.meter.Int64Counter(
		"cms.cache.evictions",
		metric.WithDescription("Total unsubscribed cache entries evicted"),
	)
	if err != nil {
		return err
	}

	// Query metrics
	m.QueryFetches, err = m.meter.Int64Counter(
		"cms.query.fetches",
		metric.WithDescription("Total query fetches that reached the network"),
	)
	if err != nil {
		return err
	}

	m.QueryDiscarded, err = m.meter.Int64Counter(
		"cms.query.discarded",
		metric.WithDescription("Responses discarded because a newer value superseded them"),
	)
	if err != nil {
		return err
	}

	m.BackgroundRefetch, err = m.meter.Int64Counter(
		"cms.query.background_refetch",
		metric.WithDescription("Background refetches by trigger"),
	)
	if err != nil {
		return err
	}

	// Mutation metrics
	m.Mutations, err = m.meter.Int64Counter(
		"cms.mutations",
		metric.WithDescription("Total mutations by kind, operation and final state"),
	)
	if err != nil {
		return err
	}

	m.MutationDuration, err = m.meter.Float64Histogram(
		"cms.mutation.duration",
		metric.WithDescription("Mutation duration from dispatch to settle in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.Rollbacks, err = m.meter.Int64Counter(
		"cms.mutation.rollbacks",
		metric.WithDescription("Total optimistic edits rolled back"),
	)
	if err != nil {
		return err
	}

	m.BulkRows, err = m.meter.Int64Histogram(
		"cms.bulk.rows",
		metric.WithDescription("Ids addressed per bulk operation"),
	)
	if err != nil {
		return err
	}

	// Circuit breaker metrics
	m.CircuitBreakerState, err = m.meter.Int64Gauge(
		"cms.circuit_breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	// Error metrics
	m.Errors, err = m.meter.Int64Counter(
		"cms.errors",
		metric.WithDescription("Total errors encountered by kind"),
	)
	if err != nil {
		return err
	}

	return nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.meter != nil
}

// RecordRequest records one API request attempt
func (m *Metrics) RecordRequest(ctx context.Context, method, endpoint, outcome string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.String("outcome", outcome),
	}
	m.TransportRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.TransportDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordRetry records a retried attempt
func (m *Metrics) RecordRetry(ctx context.Context, attempt int) {
	if !m.enabled() {
		return
	}
	m.TransportRetries.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit(ctx context.Context, layer string) {
	if !m.enabled() {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss(ctx context.Context, layer string) {
	if !m.enabled() {
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("layer", layer)))
}

// RecordInvalidation records entries marked stale by a tag invalidation
func (m *Metrics) RecordInvalidation(ctx context.Context, entries int) {
	if !m.enabled() {
		return
	}
	m.CacheInvalidations.Add(ctx, int64(entries))
}

// RecordEviction records entries evicted after their retention window
func (m *Metrics) RecordEviction(ctx context.Context, entries int) {
	if !m.enabled() {
		return
	}
	m.CacheEvictions.Add(ctx, int64(entries))
}

// RecordFetch records a network fetch issued by the query executor
func (m *Metrics) RecordFetch(ctx context.Context, kind string, success bool) {
	if !m.enabled() {
		return
	}
	m.QueryFetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
	))
}

// RecordDiscarded records a superseded response that was dropped
func (m *Metrics) RecordDiscarded(ctx context.Context, kind string) {
	if !m.enabled() {
		return
	}
	m.QueryDiscarded.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBackgroundRefetch records a scheduled background refetch
func (m *Metrics) RecordBackgroundRefetch(ctx context.Context, trigger string) {
	if !m.enabled() {
		return
	}
	m.BackgroundRefetch.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
}

// RecordMutation records a settled mutation
func (m *Metrics) RecordMutation(ctx context.Context, kind, op, state string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("kind", kind),
		attribute.String("op", op),
		attribute.String("state", state),
	}
	m.Mutations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.MutationDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
}

// RecordRollback records the number of cache entries restored by a rollback
func (m *Metrics) RecordRollback(ctx context.Context, kind string, entries int) {
	if !m.enabled() {
		return
	}
	m.Rollbacks.Add(ctx, int64(entries), metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBulk records the size of a bulk operation
func (m *Metrics) RecordBulk(ctx context.Context, kind, op string, ids int) {
	if !m.enabled() {
		return
	}
	m.BulkRows.Record(ctx, int64(ids), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("op", op),
	))
}

// SetCircuitBreakerState sets circuit breaker state
// 0 = closed, 1 = open, 2 = half-open
func (m *Metrics) SetCircuitBreakerState(ctx context.Context, service string, state int64) {
	if !m.enabled() {
		return
	}
	m.CircuitBreakerState.Record(ctx, state, metric.WithAttributes(attribute.String("service", service)))
}

// RecordError records an error
func (m *Metrics) RecordError(ctx context.Context, errorType string) {
	if !m.enabled() {
		return
	}
	m.Errors.Add(ctx, 1, metric.WithAttributes(attribute.String("type", errorType)))
}

// Handler returns the HTTP handler for Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	// The OpenTelemetry Prometheus exporter registers with the default
	// Prometheus registry.
	return promhttp.Handler()
}
