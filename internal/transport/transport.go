// Package transport sends requests to the CMS API and turns responses into
// decoded payloads or typed errors.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/observability"
	"github.com/shahriarabiddut/Learning-App-sub000/internal/platform/resilience"
)

// DefaultTimeout bounds every request.
const DefaultTimeout = 20 * time.Second

// Request describes one API call. Path is relative to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is a successful (2xx) reply.
type Response struct {
	Status int
	Header http.Header
	// Data is the decoded JSON value, the body text for non-JSON replies,
	// or nil when the body was empty or could not be decoded.
	Data any
	// ParseErr is set when a body was present but could not be decoded.
	ParseErr *Error
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// Token is sent as a bearer token when set.
	Token   string
	Headers map[string]string

	HTTPClient  *http.Client
	RateLimiter *resilience.RateLimiter
	Breaker     *resilience.CircuitBreaker

	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// Client is the HTTP transport. It is safe for concurrent use.
type Client struct {
	base    *url.URL
	timeout time.Duration
	token   string
	headers map[string]string
	http    *http.Client
	limiter *resilience.RateLimiter
	breaker *resilience.CircuitBreaker
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer
}

// New creates a Client. Without an explicit HTTPClient it builds one with a
// cookie jar so session cookies set by the API are replayed.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create cookie jar: %w", err)
		}
		cfg.HTTPClient = &http.Client{Jar: jar}
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNopLogger()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoopTracer()
	}

	return &Client{
		base:    base,
		timeout: cfg.Timeout,
		token:   cfg.Token,
		headers: cfg.Headers,
		http:    cfg.HTTPClient,
		limiter: cfg.RateLimiter,
		breaker: cfg.Breaker,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		tracer:  cfg.Tracer,
	}, nil
}

// BreakerFailure is the circuit breaker predicate for transport errors:
// only network and server failures count.
func BreakerFailure(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == KindNetwork || te.Kind == KindServer
	}
	return false
}

// BaseURL returns the API base URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// Send performs one request. Non-2xx replies and network failures are
// returned as *Error.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	ctx, span := c.tracer.StartSpan(ctx, "cms.transport.send",
		observability.Client(),
		observability.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.path", req.Path),
		),
	)
	defer span.End()

	start := time.Now()
	resp, err := c.send(ctx, req)

	outcome := "ok"
	if err != nil {
		var te *Error
		if errors.As(err, &te) {
			outcome = te.Kind.String()
			span.SetAttribute("http.status_code", te.Status)
		}
		span.NoticeError(err)
		c.metrics.RecordError(ctx, outcome)
		c.logger.LogDebug(ctx, "api request failed",
			"method", req.Method,
			"path", req.Path,
			"outcome", outcome,
			"error", err,
		)
	} else {
		span.SetAttribute("http.status_code", resp.Status)
	}
	c.metrics.RecordRequest(ctx, req.Method, req.Path, outcome, time.Since(start))
	if c.breaker != nil {
		c.metrics.SetCircuitBreakerState(ctx, c.breaker.Name(), c.breaker.StateInt())
	}

	return resp, err
}

func (c *Client) send(ctx context.Context, req Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindNetwork, Method: req.Method, Path: req.Path, Err: err}
	}

	if c.breaker == nil {
		return c.do(ctx, req)
	}

	resp, err := resilience.ExecuteWithResult(c.breaker, ctx, func(ctx context.Context) (*Response, error) {
		return c.do(ctx, req)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &Error{Kind: KindNetwork, Method: req.Method, Path: req.Path, Err: err}
	}
	return resp, err
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := c.newHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Method: req.Method, Path: req.Path, Err: err}
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Status: httpResp.StatusCode, Method: req.Method, Path: req.Path, Err: err}
	}

	data, parseErr := parseBody(httpResp.Header.Get("Content-Type"), body)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		kind := KindClient
		if httpResp.StatusCode >= 500 {
			kind = KindServer
		}
		if data == nil {
			data = http.StatusText(httpResp.StatusCode)
		}
		return nil, &Error{
			Kind:   kind,
			Status: httpResp.StatusCode,
			Data:   data,
			Method: req.Method,
			Path:   req.Path,
		}
	}

	resp := &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Data:   data,
	}
	if parseErr != nil {
		resp.ParseErr = &Error{
			Kind:   KindParse,
			Status: httpResp.StatusCode,
			Method: req.Method,
			Path:   req.Path,
			Err:    parseErr,
		}
		c.logger.LogWarn(ctx, "response body could not be decoded",
			"method", req.Method,
			"path", req.Path,
			"error", parseErr,
		)
	}
	return resp, nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req Request) (*http.Request, error) {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s %s body: %w", req.Method, req.Path, err)
		}
		body = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s %s: %w", req.Method, req.Path, err)
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// parseBody decodes JSON bodies and returns everything else as text. An
// empty body decodes to nil.
func parseBody(contentType string, body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	if !isJSON(contentType) {
		return string(body), nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
