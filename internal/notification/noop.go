package notification

import (
	"context"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
)

// NoOpPublisher is a publisher that does nothing but log changes.
// Use this when SNS is not configured (local development, testing).
type NoOpPublisher struct {
	logger *observability.Logger
}

// NewNoOpPublisher creates a new no-op publisher that only logs changes.
func NewNoOpPublisher(logger *observability.Logger) *NoOpPublisher {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &NoOpPublisher{
		logger: logger,
	}
}

// PublishChange logs the event instead of publishing to SNS.
func (p *NoOpPublisher) PublishChange(ctx context.Context, ev ChangeEvent) error {
	p.logger.LogDebug(ctx, "content changed (SNS disabled)",
		"event_id", ev.EventID,
		"kind", ev.Kind,
		"op", ev.Op,
		"ids", ev.IDs,
	)
	return nil
}

// CircuitBreakerState returns "closed" since there's no circuit breaker.
func (p *NoOpPublisher) CircuitBreakerState() string {
	return "closed"
}

// ResetCircuitBreaker is a no-op since there's no circuit breaker.
func (p *NoOpPublisher) ResetCircuitBreaker() {}
