package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/resilience"
)

// snsAPI is the part of the SDK client the wrapper uses.
type snsAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Message is one SNS notification. Body is sent as JSON. GroupID and
// DeduplicationID only apply to FIFO topics and are dropped otherwise.
type Message struct {
	Body            any
	Attributes      map[string]string
	GroupID         string
	DeduplicationID string
}

// SNSClient publishes to SNS behind a retry policy and a circuit breaker.
type SNSClient struct {
	client  snsAPI
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *observability.Logger
	metrics *observability.Metrics
}

// SNSClientConfig holds SNS client configuration
type SNSClientConfig struct {
	AWSConfig      aws.Config
	Logger         *observability.Logger
	Metrics        *observability.Metrics
	RetryConfig    *resilience.RetryConfig
	CircuitBreaker *resilience.CircuitBreaker
	// API replaces the SDK client, for tests.
	API snsAPI
}

// NewSNSClient creates a new SNS client with resilience patterns
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}

	var client snsAPI = cfg.API
	if client == nil {
		client = sns.NewFromConfig(cfg.AWSConfig)
	}

	retry := resilience.DefaultRetryConfig()
	if cfg.RetryConfig != nil {
		retry = *cfg.RetryConfig
	}

	breaker := cfg.CircuitBreaker
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "sns",
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			OnStateChange: func(from, to resilience.State) {
				cfg.Logger.Info("SNS circuit breaker state changed",
					"from", from.String(),
					"to", to.String(),
				)
				cfg.Metrics.SetCircuitBreakerState(context.Background(), "sns", int64(to))
			},
		})
	}

	return &SNSClient{
		client:  client,
		breaker: breaker,
		retry:   retry,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// Publish sends msg to topicARN. The whole retry cycle counts as one call
// against the circuit breaker.
func (s *SNSClient) Publish(ctx context.Context, topicARN string, msg Message) error {
	start := time.Now()

	input, err := buildInput(topicARN, msg)
	if err != nil {
		return err
	}

	err = s.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.RetryIf(ctx, s.retry, retryablePublish, func(ctx context.Context) error {
			if _, err := s.client.Publish(ctx, input); err != nil {
				return fmt.Errorf("SNS publish failed: %w", err)
			}
			return nil
		})
	})

	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
		s.logger.LogError(ctx, "SNS publish failed", err,
			"topic_arn", topicARN,
			"duration_ms", duration.Milliseconds(),
		)
	}
	s.metrics.RecordRequest(ctx, "SNS", "publish", status, duration)

	return err
}

func buildInput(topicARN string, msg Message) (*sns.PublishInput, error) {
	body, err := json.Marshal(msg.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Message:  aws.String(string(body)),
	}
	if len(msg.Attributes) > 0 {
		input.MessageAttributes = make(map[string]types.MessageAttributeValue, len(msg.Attributes))
		for k, v := range msg.Attributes {
			input.MessageAttributes[k] = types.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}
	if IsFIFOTopic(topicARN) {
		if msg.GroupID != "" {
			input.MessageGroupId = aws.String(msg.GroupID)
		}
		if msg.DeduplicationID != "" {
			input.MessageDeduplicationId = aws.String(msg.DeduplicationID)
		}
	}
	return input, nil
}

// IsFIFOTopic reports whether the topic preserves order per message group.
func IsFIFOTopic(topicARN string) bool {
	return strings.HasSuffix(topicARN, ".fifo")
}

// retryablePublish retries everything except cancellation.
func retryablePublish(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// CircuitBreakerState returns current circuit breaker state
func (s *SNSClient) CircuitBreakerState() resilience.State {
	return s.breaker.State()
}

// ResetCircuitBreaker manually resets the circuit breaker
func (s *SNSClient) ResetCircuitBreaker() {
	s.breaker.Reset()
}
