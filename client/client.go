// Package client implements the HTTP transport shared by the engine
// adapters: base URL and header handling, retry with exponential backoff,
// an optional circuit breaker, and a dry-run mode that renders the request
// as text instead of sending it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultUserAgent identifies this module to the routing engines.
	DefaultUserAgent = "routing-go/1.0 (https://github.com/gis-ops/routing-go)"

	// DefaultTimeout is the default per-request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetries bounds the retry loop when retries are enabled.
	DefaultMaxRetries = 5

	tracerName = "github.com/gis-ops/routing-go/client"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a request.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// HTTPDoer is an interface for executing HTTP requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds configuration for the transport client.
type Config struct {
	// Provider names the engine this transport serves, used for logging,
	// circuit breaker naming and registry lookup.
	Provider string

	// BaseURL is the engine's API base URL (required).
	BaseURL string

	// UserAgent overrides DefaultUserAgent.
	UserAgent string

	// Timeout is the per-request timeout (default 30s). Ignored when
	// HTTPClient is supplied.
	Timeout time.Duration

	// RetryOverQueryLimit enables retrying on network errors and HTTP 429.
	// Other 4xx/5xx responses are application errors and never retried.
	RetryOverQueryLimit bool

	// MaxRetries is the maximum number of retry attempts (default 5).
	MaxRetries uint64

	// Headers are extra headers sent with every request.
	Headers map[string]string

	// HTTPClient is the HTTP client to use. If nil, a net/http client with
	// Timeout is used.
	HTTPClient HTTPDoer

	// SkipCircuitBreaker disables the circuit breaker around requests.
	SkipCircuitBreaker bool

	// Registry tracks this transport's health. If nil, GlobalRegistry is
	// used. Registration happens only when Provider is set.
	Registry *Registry

	// Logger for transport operations.
	Logger zerolog.Logger
}

// Request describes one call against the engine's API.
type Request struct {
	// Endpoint is the path appended to the base URL, e.g. "/route".
	Endpoint string

	// GetParams are appended to the URL as query parameters.
	GetParams url.Values

	// PostParams, when non-nil, is JSON-marshaled and sent as a POST body.
	// Otherwise the request is a GET.
	PostParams any

	// DryRun renders the request as a descriptive string instead of
	// performing any network I/O.
	DryRun bool
}

// Response is the outcome of a request.
type Response struct {
	// Body is the raw response body. Present for both 2xx responses and
	// engine error responses so the adapter can parse either.
	Body json.RawMessage

	// Status is the HTTP status code, 0 for dry runs.
	Status int

	// DryRun holds the request description when the call was a dry run.
	DryRun string
}

// StatusError reports a non-2xx HTTP response. The accompanying Response
// still carries the body for engine-specific error parsing.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d %s", e.Code, e.Status)
}

// Client performs HTTP calls against one engine's API.
type Client struct {
	provider            string
	baseURL             string
	userAgent           string
	retryOverQueryLimit bool
	maxRetries          uint64
	headers             map[string]string
	httpClient          HTTPDoer
	breaker             *gobreaker.CircuitBreaker[*http.Response]
	registry            *Registry
	logger              zerolog.Logger
	tracer              trace.Tracer
}

// New creates a transport client for one engine.
func New(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Registry == nil {
		cfg.Registry = GlobalRegistry
	}

	c := &Client{
		provider:            cfg.Provider,
		baseURL:             strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent:           cfg.UserAgent,
		retryOverQueryLimit: cfg.RetryOverQueryLimit,
		maxRetries:          cfg.MaxRetries,
		headers:             cfg.Headers,
		httpClient:          cfg.HTTPClient,
		registry:            cfg.Registry,
		logger:              cfg.Logger,
		tracer:              otel.Tracer(tracerName),
	}

	if !cfg.SkipCircuitBreaker {
		c.breaker = NewCircuitBreaker[*http.Response](DefaultBreakerConfig(cfg.Provider, cfg.Logger))
	}
	if cfg.Provider != "" {
		cfg.Registry.Register(cfg.Provider, c)
	}

	return c
}

// Request executes one call. For dry runs it returns the rendered request
// description without any I/O. For non-2xx responses it returns both the
// Response (with body) and a *StatusError so the caller can normalize the
// engine's error payload.
func (c *Client) Request(ctx context.Context, req Request) (*Response, error) {
	method := http.MethodGet
	var body []byte
	if req.PostParams != nil {
		method = http.MethodPost
		b, err := json.Marshal(req.PostParams)
		if err != nil {
			return nil, fmt.Errorf("marshaling request body: %w", err)
		}
		body = b
	}

	fullURL := c.baseURL + req.Endpoint
	if len(req.GetParams) > 0 {
		// url.Values.Encode sorts keys, keeping dry-run output deterministic.
		fullURL += "?" + req.GetParams.Encode()
	}

	if req.DryRun {
		return &Response{DryRun: describeRequest(method, fullURL, body)}, nil
	}

	ctx, span := c.tracer.Start(ctx, "routing.request", trace.WithAttributes(
		attribute.String("routing.provider", c.provider),
		attribute.String("routing.endpoint", req.Endpoint),
		attribute.String("http.method", method),
	))
	defer span.End()

	requestID := uuid.NewString()

	c.logger.Debug().
		Str("provider", c.provider).
		Str("method", method).
		Str("url", fullURL).
		Str("request_id", requestID).
		Msg("issuing request")

	retries := c.maxRetries
	if !c.retryOverQueryLimit {
		retries = 0
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0 // bounded via WithMaxRetries

	attempt := 0
	operation := func() (*Response, error) {
		attempt++
		return c.attempt(ctx, method, fullURL, body, requestID)
	}
	notify := func(err error, wait time.Duration) {
		event := c.logger.Warn().
			Str("provider", c.provider).
			Int("attempt", attempt).
			Dur("backoff", wait)
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			event = event.Int("status", statusErr.Code)
		}
		event.Err(err).Msg("request failed, retrying")
	}

	resp, err := backoff.RetryNotifyWithData(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, retries), ctx),
		notify,
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.registry.RecordFailure(c.provider, err)
		return resp, err
	}

	span.SetAttributes(attribute.Int("http.status_code", resp.Status))
	c.registry.RecordSuccess(c.provider)
	return resp, nil
}

// attempt performs a single HTTP exchange. Terminal failures are wrapped in
// backoff.Permanent so the retry loop stops immediately.
func (c *Client) attempt(ctx context.Context, method, fullURL string, body []byte, requestID string) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}

	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json; charset=utf-8")
	httpReq.Header.Set("X-Request-Id", requestID)
	if method == http.MethodPost {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}

	httpResp, err := c.execute(httpReq)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(fmt.Errorf("%s: %w", c.provider, ErrCircuitOpen))
		}
		var srvErr *serverError
		if !errors.As(err, &srvErr) || httpResp == nil {
			// Network errors are retryable when retries are enabled.
			return nil, err
		}
		// 5xx: counted against the circuit breaker but handled below like
		// any other application error.
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("reading response body: %w", err))
	}

	resp := &Response{Body: respBody, Status: httpResp.StatusCode}

	if httpResp.StatusCode == http.StatusTooManyRequests {
		return resp, &StatusError{Code: httpResp.StatusCode, Status: httpResp.Status}
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		// Application errors, never retried.
		return resp, backoff.Permanent(&StatusError{Code: httpResp.StatusCode, Status: httpResp.Status})
	}

	return resp, nil
}

// execute runs the HTTP call through the circuit breaker when one is
// configured. 5xx responses are reported to the breaker as failures; the
// response is still returned alongside the error.
func (c *Client) execute(req *http.Request) (*http.Response, error) {
	call := func() (*http.Response, error) {
		r, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= 500 {
			return r, &serverError{statusCode: r.StatusCode}
		}
		return r, nil
	}
	if c.breaker == nil {
		return call()
	}
	return c.breaker.Execute(call)
}

// serverError marks an HTTP 5xx response as a circuit breaker failure.
type serverError struct {
	statusCode int
}

func (e *serverError) Error() string {
	return "server error: " + http.StatusText(e.statusCode)
}

// BreakerState returns the circuit breaker state, or StateClosed when no
// breaker is configured.
func (c *Client) BreakerState() gobreaker.State {
	if c.breaker == nil {
		return gobreaker.StateClosed
	}
	return c.breaker.State()
}

// BreakerCounts returns the circuit breaker statistics.
func (c *Client) BreakerCounts() gobreaker.Counts {
	if c.breaker == nil {
		return gobreaker.Counts{}
	}
	return c.breaker.Counts()
}

// describeRequest renders the request as the dry-run description string.
// Identical inputs always produce identical output.
func describeRequest(method, fullURL string, body []byte) string {
	params := "{}"
	if len(body) > 0 {
		params = string(body)
	}
	return fmt.Sprintf("url=%s\nmethod=%s\nparameters=%s", fullURL, method, params)
}
