package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := Config{BaseURL: srv.URL + "/api"}
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestSend_JSONRoundTrip(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/posts" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("expected page=2, got %q", r.URL.RawQuery)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing bearer token")
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "p1", "title": body["title"]})
	}, func(cfg *Config) { cfg.Token = "secret" })

	resp, err := c.Send(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/posts",
		Query:  url.Values{"page": {"2"}},
		Body:   map[string]any{"title": "X"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	want := map[string]any{"id": "p1", "title": "X"}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Errorf("response mismatch (-want +got):\n%s", diff)
	}
	if resp.Status != http.StatusCreated {
		t.Errorf("expected 201, got %d", resp.Status)
	}
}

func TestSend_TextAndParseFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/text":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("pong"))
		case "/api/broken":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("{not json"))
		}
	}, nil)

	resp, err := c.Send(context.Background(), Request{Path: "/text"})
	if err != nil {
		t.Fatalf("Send text failed: %v", err)
	}
	if resp.Data != "pong" {
		t.Errorf("expected text body, got %#v", resp.Data)
	}

	resp, err = c.Send(context.Background(), Request{Path: "/broken"})
	if err != nil {
		t.Fatalf("parse failure must not fail the request: %v", err)
	}
	if resp.Data != nil {
		t.Errorf("expected nil payload, got %#v", resp.Data)
	}
	if resp.ParseErr == nil || resp.ParseErr.Kind != KindParse {
		t.Errorf("expected parse error to be recorded, got %v", resp.ParseErr)
	}
}

func TestSend_ErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		ctype     string
		kind      Kind
		retryable bool
		message   string
	}{
		{"validation error", 422, `{"message":"title is required"}`, "application/json", KindClient, false, "title is required"},
		{"nested error", 400, `{"error":{"message":"bad slug"}}`, "application/json", KindClient, false, "bad slug"},
		{"text error", 404, "no such post", "text/plain", KindClient, false, "no such post"},
		{"server error", 503, "", "", KindServer, true, "Service Unavailable"},
		{"empty json error", 500, `{}`, "application/json", KindServer, true, DefaultMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.ctype != "" {
					w.Header().Set("Content-Type", tt.ctype)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, nil)

			_, err := c.Send(context.Background(), Request{Path: "/posts/x"})

			var te *Error
			if !errors.As(err, &te) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if te.Kind != tt.kind || te.Status != tt.status {
				t.Errorf("got kind=%s status=%d", te.Kind, te.Status)
			}
			if IsRetryable(err) != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", IsRetryable(err), tt.retryable)
			}
			if Message(err) != tt.message {
				t.Errorf("Message = %q, want %q", Message(err), tt.message)
			}
		})
	}
}

func TestSend_TimeoutIsRetryableNetworkError(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	_, err := c.Send(context.Background(), Request{Path: "/slow"})

	var te *Error
	if !errors.As(err, &te) || te.Kind != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("timeout should be retryable")
	}
}

func TestSend_CookiesReplayed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/login":
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "abc", Path: "/"})
		case "/api/me":
			if ck, err := r.Cookie("session"); err != nil || ck.Value != "abc" {
				w.WriteHeader(http.StatusUnauthorized)
			}
		}
	}, nil)

	if _, err := c.Send(context.Background(), Request{Method: http.MethodPost, Path: "/login"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := c.Send(context.Background(), Request{Path: "/me"}); err != nil {
		t.Errorf("session cookie was not replayed: %v", err)
	}
}

func TestSend_OpenBreakerFailsFastWithoutRetry(t *testing.T) {
	calls := 0
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "cms-api",
		FailureThreshold: 2,
		Timeout:          time.Minute,
		IsFailure:        BreakerFailure,
	})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}, func(cfg *Config) { cfg.Breaker = breaker })

	for i := 0; i < 2; i++ {
		_, _ = c.Send(context.Background(), Request{Path: "/posts"})
	}
	if breaker.State() != resilience.StateOpen {
		t.Fatalf("expected open breaker, got %s", breaker.State())
	}

	_, err := c.Send(context.Background(), Request{Path: "/posts"})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if IsRetryable(err) {
		t.Error("open circuit must not be retryable")
	}
	if calls != 2 {
		t.Errorf("expected 2 server calls, got %d", calls)
	}
}

func TestBreakerFailure_IgnoresClientErrors(t *testing.T) {
	if BreakerFailure(&Error{Kind: KindClient, Status: 404}) {
		t.Error("4xx should not count against the breaker")
	}
	if !BreakerFailure(&Error{Kind: KindServer, Status: 500}) {
		t.Error("5xx should count against the breaker")
	}
}
