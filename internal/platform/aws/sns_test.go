package aws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/resilience"
)

type fakeSNS struct {
	mu     sync.Mutex
	inputs []*sns.PublishInput
	fails  int
}

func (f *fakeSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in)
	if f.fails > 0 {
		f.fails--
		return nil, errors.New("throttled")
	}
	return &sns.PublishOutput{}, nil
}

func testClient(api *fakeSNS) *SNSClient {
	return NewSNSClient(SNSClientConfig{
		API:         api,
		RetryConfig: &resilience.RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond},
	})
}

func TestSNSClient_PublishEncodesMessageAndAttributes(t *testing.T) {
	api := &fakeSNS{}
	c := testClient(api)

	msg := map[string]string{"kind": "posts", "op": "create"}
	if err := c.Publish(context.Background(), "arn:aws:sns:us-east-1:000000000000:cms", Message{Body: msg, Attributes: map[string]string{"kind": "posts"}, GroupID: "posts"}); err != nil {
		t.Fatal(err)
	}
	if len(api.inputs) != 1 {
		t.Fatalf("expected 1 call, got %d", len(api.inputs))
	}

	in := api.inputs[0]
	var got map[string]string
	if err := json.Unmarshal([]byte(*in.Message), &got); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if got["op"] != "create" {
		t.Errorf("unexpected message %v", got)
	}
	if v := in.MessageAttributes["kind"].StringValue; v == nil || *v != "posts" {
		t.Errorf("missing kind attribute")
	}
	if in.MessageGroupId != nil {
		t.Error("standard topics must not carry a message group")
	}
}

func TestSNSClient_FIFOTopicCarriesGroupAndDedupID(t *testing.T) {
	api := &fakeSNS{}
	c := testClient(api)

	topic := "arn:aws:sns:us-east-1:000000000000:cms-changes.fifo"
	msg := Message{Body: map[string]string{"op": "delete"}, GroupID: "posts", DeduplicationID: "evt-1"}
	if err := c.Publish(context.Background(), topic, msg); err != nil {
		t.Fatal(err)
	}

	in := api.inputs[0]
	if in.MessageGroupId == nil || *in.MessageGroupId != "posts" {
		t.Errorf("group id = %v", in.MessageGroupId)
	}
	if in.MessageDeduplicationId == nil || *in.MessageDeduplicationId != "evt-1" {
		t.Errorf("dedup id = %v", in.MessageDeduplicationId)
	}
	if in.MessageAttributes != nil {
		t.Errorf("no attributes were given, got %v", in.MessageAttributes)
	}
}

func TestSNSClient_RetriesTransientFailures(t *testing.T) {
	api := &fakeSNS{fails: 2}
	c := testClient(api)

	if err := c.Publish(context.Background(), "arn", Message{Body: "x"}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(api.inputs) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(api.inputs))
	}
}

func TestSNSClient_OpensCircuit(t *testing.T) {
	api := &fakeSNS{fails: 100}
	c := NewSNSClient(SNSClientConfig{
		API:         api,
		RetryConfig: &resilience.RetryConfig{MaxAttempts: 1},
		CircuitBreaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "sns",
			FailureThreshold: 2,
			Timeout:          time.Minute,
		}),
	})

	for i := 0; i < 2; i++ {
		_ = c.Publish(context.Background(), "arn", Message{Body: "x"})
	}
	if c.CircuitBreakerState() != resilience.StateOpen {
		t.Fatalf("expected open circuit, got %s", c.CircuitBreakerState())
	}
	if err := c.Publish(context.Background(), "arn", Message{Body: "x"}); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}

	c.ResetCircuitBreaker()
	if c.CircuitBreakerState() != resilience.StateClosed {
		t.Error("reset should close the circuit")
	}
}
