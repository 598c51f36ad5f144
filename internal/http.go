package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// TracerName identifies spans emitted by this package.
const TracerName = "github.com/jamesprial/go-zulip-api-wrapper"

// Client is the session every queue shares: the canonical API root, the HTTP
// transport, and the credentials once they have been resolved. It holds no
// per-call state and is safe for concurrent use.
type Client struct {
	client    *http.Client
	BaseURL   *url.URL
	UserAgent string

	credentials atomic.Pointer[types.Credentials]
	validator   *Validator
	limiter     *rate.Limiter
	logger      *slog.Logger
	metrics     *Metrics
	tracer      trace.Tracer
}

// RateLimitConfig throttles requests before they reach the server. It is
// opt-in; a nil config sends requests as fast as callers issue them.
type RateLimitConfig struct {
	// RequestsPerMinute caps steady-state throughput. Defaults to 60 if zero.
	RequestsPerMinute float64
	// Burst allows short spikes above the steady-state rate. Defaults to 10 if zero.
	Burst int
}

// Options carries the optional collaborators of a Client.
type Options struct {
	UserAgent      string
	RateLimit      *RateLimitConfig
	Logger         *slog.Logger
	Metrics        *Metrics
	TracerProvider trace.TracerProvider
}

const (
	DefaultRequestsPerMinute = 60
	DefaultRateLimitBurst    = 10
	SecondsPerMinute         = 60.0
)

// NewClient returns a session rooted at the canonical API path of baseURL.
// If a nil httpClient is provided, http.DefaultClient will be used.
func NewClient(httpClient *http.Client, baseURL string, opts Options) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	validator := NewValidator()
	root, err := validator.NormalizeBaseURL(baseURL)
	if err != nil {
		return nil, pkgerrs.NewBuild(err)
	}
	if opts.UserAgent != "" {
		if err := validator.ValidateUserAgent(opts.UserAgent); err != nil {
			return nil, pkgerrs.NewBuild(err)
		}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	c := &Client{
		client:    httpClient,
		BaseURL:   root,
		UserAgent: opts.UserAgent,
		validator: validator,
		logger:    logger,
		metrics:   opts.Metrics,
		tracer:    tp.Tracer(TracerName),
	}
	if opts.RateLimit != nil {
		c.limiter = buildLimiter(*opts.RateLimit)
	}

	return c, nil
}

// SetCredentials assigns the credentials used for basic authentication. Only
// the first call has any effect; it reports whether this call assigned them.
func (c *Client) SetCredentials(creds types.Credentials) bool {
	return c.credentials.CompareAndSwap(nil, &creds)
}

// Credentials returns the assigned credentials, if any.
func (c *Client) Credentials() (types.Credentials, bool) {
	creds := c.credentials.Load()
	if creds == nil {
		return types.Credentials{}, false
	}
	return *creds, true
}

// Logger returns the session logger.
func (c *Client) Logger() *slog.Logger {
	return c.logger
}

// Metrics returns the session collectors, possibly nil.
func (c *Client) Metrics() *Metrics {
	return c.metrics
}

// Tracer returns the tracer used for session spans.
func (c *Client) Tracer() trace.Tracer {
	return c.tracer
}

// NewRequest creates an API request for endpoint, which is resolved relative
// to BaseURL. GET and HEAD carry params in the query string; every other
// method sends them as a form-encoded body.
func (c *Client) NewRequest(ctx context.Context, method, endpoint string, params url.Values) (*http.Request, error) {
	if err := c.validator.ValidateEndpoint(endpoint); err != nil {
		return nil, err
	}

	u, err := c.BaseURL.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve endpoint %q: %w", endpoint, err)
	}

	var body io.Reader
	encoded := params.Encode()
	if usesQueryString(method) {
		u.RawQuery = encoded
	} else {
		body = strings.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if creds := c.credentials.Load(); creds != nil {
		req.SetBasicAuth(creds.Identity, creds.SecretValue())
	}

	return req, nil
}

// Send performs one request and decodes a successful JSON body into v. A nil
// v skips decoding. Every failure is returned as a *pkgerrs.Error.
func (c *Client) Send(ctx context.Context, method, endpoint string, params url.Values, v any) error {
	ctx, span := c.tracer.Start(ctx, "zulip "+method+" "+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("zulip.endpoint", endpoint),
	)

	start := time.Now()
	zerr := c.send(ctx, method, endpoint, params, v)
	elapsed := time.Since(start)

	outcome := "success"
	if zerr != nil {
		zerr.WithRequest(method, endpoint)
		outcome = zerr.Kind.String()
		span.RecordError(zerr)
		span.SetStatus(codes.Error, zerr.Error())
	}
	if zerr != nil && zerr.StatusCode != 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", zerr.StatusCode))
	}
	c.metrics.ObserveRequest(endpoint, method, outcome, elapsed)

	c.logger.DebugContext(ctx, "zulip request",
		"method", method,
		"endpoint", endpoint,
		"outcome", outcome,
		"duration", elapsed,
	)

	if zerr != nil {
		return zerr
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, params url.Values, v any) *pkgerrs.Error {
	req, err := c.NewRequest(ctx, method, endpoint, params)
	if err != nil {
		return pkgerrs.NewBuild(err)
	}

	if err := c.waitForRateLimit(ctx); err != nil {
		return pkgerrs.NewTransport(err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return pkgerrs.NewTransport(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &pkgerrs.Error{
			Kind:       pkgerrs.KindTransport,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to read response body: %w", err),
		}
	}

	if zerr := pkgerrs.FromStatus(resp.StatusCode, resp.Status, body); zerr != nil {
		return zerr
	}

	if v == nil {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &pkgerrs.Error{
			Kind:       pkgerrs.KindTransport,
			StatusCode: resp.StatusCode,
			Err:        &DecodeError{Endpoint: endpoint, Err: err},
		}
	}

	return nil
}

func buildLimiter(cfg RateLimitConfig) *rate.Limiter {
	requestsPerMinute := cfg.RequestsPerMinute
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = DefaultRateLimitBurst
	}

	return rate.NewLimiter(rate.Limit(requestsPerMinute/SecondsPerMinute), burst)
}

func (c *Client) waitForRateLimit(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

// DecodeError reports a success response whose body was not the expected JSON.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s response: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var decodeErr *DecodeError
	return errors.As(err, &decodeErr)
}
