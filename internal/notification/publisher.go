package notification

import (
	"context"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/aws"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
)

// Publisher publishes change events to SNS
type Publisher struct {
	snsClient *aws.SNSClient
	topicARN  string
	logger    *observability.Logger
	metrics   *observability.Metrics
	tracer    observability.Tracer
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	SNSClient *aws.SNSClient
	TopicARN  string
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    observability.Tracer
}

// NewPublisher creates a new change event publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	if cfg.SNSClient == nil {
		return nil, fmt.Errorf("SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("SNS topic ARN is required")
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	return &Publisher{
		snsClient: cfg.SNSClient,
		topicARN:  cfg.TopicARN,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}, nil
}

// PublishChange publishes a change event to SNS. Message attributes allow
// subscribers to filter by kind and operation. On FIFO topics changes are
// ordered per kind and deduplicated by event id.
func (p *Publisher) PublishChange(ctx context.Context, ev ChangeEvent) error {
	ctx, span := p.tracer.StartSpan(
		ctx,
		"Publisher.PublishChange",
		observability.WithAttributes(
			attribute.String("event_id", ev.EventID),
			attribute.String("kind", ev.Kind),
			attribute.String("op", ev.Op),
			attribute.String("topic_arn", p.topicARN),
		),
	)
	defer span.End()

	attributes := map[string]string{
		"kind":  ev.Kind,
		"op":    ev.Op,
		"count": strconv.Itoa(len(ev.IDs)),
	}

	msg := aws.Message{
		Body:            ev,
		Attributes:      attributes,
		GroupID:         ev.Kind,
		DeduplicationID: ev.EventID,
	}
	if err := p.snsClient.Publish(ctx, p.topicARN, msg); err != nil {
		span.NoticeError(err)
		p.metrics.RecordError(ctx, "sns_publish")
		p.logger.LogError(ctx, "failed to publish change to SNS", err,
			"event_id", ev.EventID,
			"topic_arn", p.topicARN,
		)
		return fmt.Errorf("SNS publish failed: %w", err)
	}

	p.logger.LogDebug(ctx, "published change to SNS",
		"event_id", ev.EventID,
		"kind", ev.Kind,
		"op", ev.Op,
		"ids", len(ev.IDs),
	)
	return nil
}

// CircuitBreakerState returns the current circuit breaker state
func (p *Publisher) CircuitBreakerState() string {
	return p.snsClient.CircuitBreakerState().String()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (p *Publisher) ResetCircuitBreaker() {
	p.snsClient.ResetCircuitBreaker()
	p.logger.Info("reset SNS circuit breaker")
}
