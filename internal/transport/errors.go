package transport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/resilience"
)

// DefaultMessage is shown when a failure carries no server message.
const DefaultMessage = "Something went wrong"

// Kind classifies a failed request.
type Kind int

const (
	// KindNetwork means no response was received.
	KindNetwork Kind = iota
	// KindServer is a 5xx response.
	KindServer
	// KindClient is a 4xx (or other non-2xx, non-5xx) response.
	KindClient
	// KindParse means the response body could not be decoded. It is recorded
	// on Response.ParseErr and never returned as a failure by Send.
	KindParse
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindParse:
		return "parse"
	default:
		return "unknown"
	}
}

// Error is the typed failure returned by Send.
type Error struct {
	Kind   Kind
	Status int
	// Data is the parsed response body when there was one, otherwise the
	// HTTP status text.
	Data   any
	Method string
	Path   string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNetwork:
		return fmt.Sprintf("%s %s: network error: %v", e.Method, e.Path, e.Err)
	case KindParse:
		return fmt.Sprintf("%s %s: parse error: %v", e.Method, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Status, messageFrom(e.Data))
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether repeating the request can help: network
// failures and 5xx responses are retryable, an open circuit is not.
func (e *Error) Retryable() bool {
	if errors.Is(e.Err, resilience.ErrCircuitOpen) {
		return false
	}
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// Message returns the server-provided message or the status text.
func (e *Error) Message() string {
	if msg := messageFrom(e.Data); msg != "" {
		return msg
	}
	return DefaultMessage
}

// IsRetryable reports whether err wraps a retryable transport failure.
func IsRetryable(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Retryable()
	}
	return false
}

// StatusOf returns the HTTP status of a failed request, or 0.
func StatusOf(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}

// Message extracts a user-facing message from any error in the chain,
// falling back to DefaultMessage.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Message()
	}
	return DefaultMessage
}

func messageFrom(data any) string {
	switch v := data.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		for _, key := range []string{"message", "error"} {
			switch m := v[key].(type) {
			case string:
				if m != "" {
					return m
				}
			case map[string]any:
				if s, ok := m["message"].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return ""
}
