package gzaw

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jamesprial/go-zulip-api-wrapper/internal"
	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultUserAgent is the default user agent string
	DefaultUserAgent = "go-zulip-api-wrapper/0.1"
	// DefaultTimeout is the default HTTP client timeout. It must outlast the
	// server's long-poll interval, after which the server sends a heartbeat.
	DefaultTimeout = 90 * time.Second
)

// RateLimitConfig throttles outgoing requests on the client side.
type RateLimitConfig = internal.RateLimitConfig

// Config holds the configuration for the Zulip client.
//
// The credentials fields select how the client authenticates:
//
//   - Email and APIKey: requests are signed with the key as given.
//   - Email and Password: Connect exchanges them for an API key.
//   - Email only: Connect asks a development server for the user's key.
//   - Neither: requests are sent without credentials.
type Config struct {
	// Site is the address of the Zulip server, e.g. "https://chat.zulip.org".
	// Any path on it is replaced by the API root.
	Site string

	Email    string
	APIKey   string
	Password string

	// UserAgent identifies your application to the server.
	// Defaults to DefaultUserAgent if not specified.
	UserAgent string

	// HTTPClient to use for requests.
	// Defaults to a client with DefaultTimeout if not specified.
	HTTPClient *http.Client

	// Logger for structured diagnostics. Optional.
	Logger *slog.Logger

	// RateLimit enables client-side throttling. Nil disables it.
	RateLimit *RateLimitConfig

	// MetricsRegisterer receives the client's Prometheus collectors. Optional.
	MetricsRegisterer prometheus.Registerer

	// TracerProvider supplies the tracer for request spans.
	// Defaults to the global OpenTelemetry provider.
	TracerProvider trace.TracerProvider
}

// Session is the transport a queue talks through.
type Session interface {
	// Send performs one request against an endpoint relative to the API root
	// and decodes a successful body into v unless v is nil.
	Send(ctx context.Context, method, endpoint string, params url.Values, v any) error
}

// Client is the Zulip API client. It is safe for concurrent use, and any
// number of event queues may share one Client.
type Client struct {
	session   *internal.Client
	connector *internal.Connector
	config    *Config
	logger    *slog.Logger
}

// NewClient creates a client for the configured site. It validates the site
// address and sets up credential resolution but performs no network I/O; an
// API key given in the config is applied immediately.
//
// Errors are *errors.Error values of kind KindBuild.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, pkgerrs.NewBuild(errors.New("config cannot be nil"))
	}
	if config.APIKey != "" && config.Email == "" {
		return nil, pkgerrs.NewBuild(errors.New("an API key requires an email"))
	}
	if config.Password != "" && config.Email == "" {
		return nil, pkgerrs.NewBuild(errors.New("a password requires an email"))
	}

	// Set defaults
	if config.UserAgent == "" {
		config.UserAgent = DefaultUserAgent
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var metrics *internal.Metrics
	if config.MetricsRegisterer != nil {
		metrics = internal.NewMetrics(config.MetricsRegisterer)
	}

	session, err := internal.NewClient(config.HTTPClient, config.Site, internal.Options{
		UserAgent:      config.UserAgent,
		RateLimit:      config.RateLimit,
		Logger:         logger,
		Metrics:        metrics,
		TracerProvider: config.TracerProvider,
	})
	if err != nil {
		return nil, err
	}

	c := &Client{
		session: session,
		config:  config,
		logger:  logger,
	}
	c.connector = internal.NewConnector(session, c.resolver())

	if config.APIKey != "" {
		// No handshake needed; resolve now so IsAuthenticated is accurate before Connect.
		if err := c.connector.Connect(context.Background()); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// resolver picks the credential resolution mode from the config.
func (c *Client) resolver() internal.ResolveFunc {
	email, apiKey, password := c.config.Email, c.config.APIKey, c.config.Password
	auth := internal.NewAuthenticator(c.session)

	switch {
	case apiKey != "":
		return func(context.Context) (types.Credentials, error) {
			return types.NewCredentials(email, apiKey), nil
		}
	case password != "":
		return func(ctx context.Context) (types.Credentials, error) {
			return auth.FetchAPIKey(ctx, email, password)
		}
	case email != "":
		return func(ctx context.Context) (types.Credentials, error) {
			return auth.FetchDevAPIKey(ctx, email)
		}
	default:
		return nil
	}
}

// Connect resolves the client's credentials. It is safe to call Connect
// multiple times; resolution only happens once and its result, success or
// failure, is returned to every caller.
//
// Registering a queue connects implicitly, so calling Connect is only needed
// to surface authentication failures early.
func (c *Client) Connect(ctx context.Context) error {
	return c.connector.Connect(ctx)
}

// ensureConnected lazily resolves credentials before handling a request.
func (c *Client) ensureConnected(ctx context.Context) error {
	return c.Connect(ctx)
}

// IsAuthenticated returns true if requests are signed with an API key.
func (c *Client) IsAuthenticated() bool {
	creds, ok := c.session.Credentials()
	return ok && creds.HasSecret()
}

// Identity returns the email requests are signed with, or "" when unauthenticated.
func (c *Client) Identity() string {
	creds, ok := c.session.Credentials()
	if !ok {
		return ""
	}
	return creds.Identity
}

// BaseURL returns the canonical API root every request is resolved against.
func (c *Client) BaseURL() string {
	return c.session.BaseURL.String()
}

// Queue starts configuring a new event queue.
func (c *Client) Queue() *QueueBuilder {
	return newQueueBuilder(c)
}
