package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/aws"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/resilience"
)

type recordingSNS struct {
	inputs []*sns.PublishInput
	err    error
}

func (r *recordingSNS) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	r.inputs = append(r.inputs, in)
	if r.err != nil {
		return nil, r.err
	}
	return &sns.PublishOutput{}, nil
}

func newTestPublisher(t *testing.T, api *recordingSNS) *Publisher {
	t.Helper()
	client := aws.NewSNSClient(aws.SNSClientConfig{
		API:         api,
		RetryConfig: &resilience.RetryConfig{MaxAttempts: 1},
	})
	p, err := NewPublisher(PublisherConfig{SNSClient: client, TopicARN: "arn:aws:sns:us-east-1:000000000000:cms-changes"})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestPublisher_PublishChange(t *testing.T) {
	api := &recordingSNS{}
	p := newTestPublisher(t, api)

	ev := ChangeEvent{
		EventID:    "e1",
		Kind:       "posts",
		Op:         "delete",
		IDs:        []string{"a", "b"},
		OccurredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := p.PublishChange(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if len(api.inputs) != 1 {
		t.Fatalf("expected one publish, got %d", len(api.inputs))
	}
	var got ChangeEvent
	if err := json.Unmarshal([]byte(*api.inputs[0].Message), &got); err != nil {
		t.Fatal(err)
	}
	if got.Op != "delete" || len(got.IDs) != 2 {
		t.Errorf("unexpected event %+v", got)
	}
	if c := api.inputs[0].MessageAttributes["count"].StringValue; c == nil || *c != "2" {
		t.Error("count attribute missing")
	}
}

func TestPublisher_Errors(t *testing.T) {
	api := &recordingSNS{err: errors.New("denied")}
	p := newTestPublisher(t, api)

	if err := p.PublishChange(context.Background(), ChangeEvent{Kind: "pages", Op: "update"}); err == nil {
		t.Fatal("expected an error")
	}
}

func TestNewPublisher_Validation(t *testing.T) {
	if _, err := NewPublisher(PublisherConfig{TopicARN: "arn"}); err == nil {
		t.Error("missing client should fail")
	}
	client := aws.NewSNSClient(aws.SNSClientConfig{API: &recordingSNS{}})
	if _, err := NewPublisher(PublisherConfig{SNSClient: client}); err == nil {
		t.Error("missing topic should fail")
	}
}

func TestNoOpPublisher(t *testing.T) {
	var p ChangePublisher = NewNoOpPublisher(nil)
	if err := p.PublishChange(context.Background(), ChangeEvent{Kind: "posts"}); err != nil {
		t.Fatal(err)
	}
}
