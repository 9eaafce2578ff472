// Package mutation writes CMS resources optimistically: the session cache is
// edited before the request is sent, replaced by the server's answer on
// success and restored exactly on failure.
package mutation

import (
	"errors"
	"fmt"
	"time"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/resource"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/store"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/transport"
)

// ErrInvalidRequest is returned for requests rejected before any cache edit.
var ErrInvalidRequest = errors.New("invalid mutation request")

// ErrRejected is returned when a 2xx reply reports failure in its body.
var ErrRejected = errors.New("rejected by server")

// rejection carries the message of a 2xx reply with success false.
type rejection struct {
	message string
}

func (r *rejection) Error() string {
	if r.message == "" {
		return ErrRejected.Error()
	}
	return ErrRejected.Error() + ": " + r.message
}

func (r *rejection) Is(target error) bool {
	return target == ErrRejected
}

// State is the lifecycle position of a mutation.
type State int

const (
	StateInitiated State = iota
	StateOptimisticallyApplied
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateInitiated:
		return "initiated"
	case StateOptimisticallyApplied:
		return "optimistic"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Op is a single-entity write operation.
type Op string

const (
	OpCreate  Op = "create"
	OpUpdate  Op = "update"
	OpDelete  Op = "delete"
	OpPublish Op = "publish"
	OpBulk    Op = "bulk"
)

// Request is a single-entity write.
type Request struct {
	Kind resource.Kind
	Op   Op
	// ID addresses the entity for update, delete and publish.
	ID string
	// Payload is the entity for create and the partial entity for update.
	Payload map[string]any
}

func (r Request) validate() error {
	switch r.Op {
	case OpCreate:
		return nil
	case OpUpdate, OpDelete, OpPublish:
		if r.ID == "" {
			return fmt.Errorf("%w: %s requires an id", ErrInvalidRequest, r.Op)
		}
		if resource.IsTempID(r.ID) {
			return fmt.Errorf("%w: %s of unsaved entity %s", ErrInvalidRequest, r.Op, r.ID)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidRequest, r.Op)
	}
}

// Mutation records one write as it moves through its states.
type Mutation struct {
	ID     string
	Kind   resource.Kind
	Op     Op
	Target string
	// TempID is the placeholder id of an optimistic create.
	TempID string
	State  State
	// History lists every state entered, in order.
	History []State
	// Touched are the cache keys the optimistic edit changed.
	Touched []store.Key
	// Result is the authoritative entity returned by the server, if any.
	Result    resource.Entity
	Err       error
	StartedAt time.Time
	SettledAt time.Time
}

func (m *Mutation) enter(s State) {
	m.State = s
	m.History = append(m.History, s)
}

// Error is returned when a write fails. The cache has already been restored
// when it reaches the caller.
type Error struct {
	Op   Op
	Kind string
	IDs  []string
	Err  error
}

func (e *Error) Error() string {
	if len(e.IDs) == 1 {
		return fmt.Sprintf("%s %s %s: %v", e.Op, e.Kind, e.IDs[0], e.Err)
	}
	if len(e.IDs) > 1 {
		return fmt.Sprintf("%s %s (%d ids): %v", e.Op, e.Kind, len(e.IDs), e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the user-facing reason: the server's message, the validation
// failure, or a generic fallback.
func (e *Error) Message() string {
	if errors.Is(e.Err, ErrInvalidRequest) {
		return e.Err.Error()
	}
	var rej *rejection
	if errors.As(e.Err, &rej) {
		if rej.message == "" {
			return transport.DefaultMessage
		}
		return rej.message
	}
	return transport.Message(e.Err)
}

// Message returns the user-facing message of any mutation error.
func Message(err error) string {
	var me *Error
	if errors.As(err, &me) {
		return me.Message()
	}
	return transport.Message(err)
}
