// Package notification announces committed content changes to other
// consumers, through SNS when a topic is configured.
package notification

import (
	"context"
	"time"
)

// ChangeEvent describes one committed mutation.
type ChangeEvent struct {
	EventID    string    `json:"eventId"`
	Kind       string    `json:"kind"`
	Op         string    `json:"op"`
	IDs        []string  `json:"ids"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ChangePublisher publishes change events.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ev ChangeEvent) error
}
