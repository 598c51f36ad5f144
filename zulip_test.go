package gzaw

import (
	"context"
	"net/http"
	"sync"
	"testing"

	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/test_helpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewClient_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
	}{
		{name: "nil config", config: nil},
		{name: "empty site", config: &Config{}},
		{name: "relative site", config: &Config{Site: "chat.example.com"}},
		{name: "malformed site", config: &Config{Site: "https://chat.example.com:port"}},
		{name: "unsupported scheme", config: &Config{Site: "ftp://chat.example.com"}},
		{name: "api key without email", config: &Config{Site: "https://chat.example.com", APIKey: "k"}},
		{name: "password without email", config: &Config{Site: "https://chat.example.com", Password: "p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.config)
			assert.Nil(t, client)
			require.Error(t, err)
			assert.Equal(t, pkgerrs.KindBuild, pkgerrs.KindOf(err))
		})
	}
}

func TestNewClient_BaseURLNormalization(t *testing.T) {
	root, err := NewClient(&Config{Site: "https://h/"})
	require.NoError(t, err)
	nested, err := NewClient(&Config{Site: "https://h/some/path"})
	require.NoError(t, err)

	assert.Equal(t, "https://h/api/v1/", root.BaseURL())
	assert.Equal(t, root.BaseURL(), nested.BaseURL())
}

func TestNewClient_Defaults(t *testing.T) {
	config := &Config{Site: "https://chat.example.com"}
	_, err := NewClient(config)
	require.NoError(t, err)

	assert.Equal(t, DefaultUserAgent, config.UserAgent)
	require.NotNil(t, config.HTTPClient)
	assert.Equal(t, DefaultTimeout, config.HTTPClient.Timeout)
}

func TestClient_ConnectModes(t *testing.T) {
	tests := []struct {
		name         string
		config       Config
		wantAuth     bool
		wantIdentity string
		wantPath     string
		wantForm     map[string]string
	}{
		{
			name:         "api key",
			config:       Config{Email: testEmail, APIKey: testAPIKey},
			wantAuth:     true,
			wantIdentity: testEmail,
		},
		{
			name:         "password",
			config:       Config{Email: testEmail, Password: "hunter2"},
			wantAuth:     true,
			wantIdentity: testEmail,
			wantPath:     "/api/v1/fetch_api_key",
			wantForm:     map[string]string{"username": testEmail, "password": "hunter2"},
		},
		{
			name:         "development server",
			config:       Config{Email: testEmail},
			wantAuth:     true,
			wantIdentity: testEmail,
			wantPath:     "/api/v1/dev_fetch_api_key",
			wantForm:     map[string]string{"username": testEmail},
		},
		{
			name:     "unauthenticated",
			config:   Config{},
			wantAuth: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t)
			config := tt.config
			config.Site = server.URL()
			config.HTTPClient = server.Client()

			client, err := NewClient(&config)
			require.NoError(t, err)
			require.NoError(t, client.Connect(context.Background()))

			assert.Equal(t, tt.wantAuth, client.IsAuthenticated())
			assert.Equal(t, tt.wantIdentity, client.Identity())

			log := server.GetRequestLog()
			if tt.wantPath == "" {
				assert.Empty(t, log)
				return
			}
			require.Len(t, log, 1)
			assert.Equal(t, tt.wantPath, log[0].Path)
			assert.False(t, log[0].HasAuth)
			assert.Len(t, log[0].Form, len(tt.wantForm))
			for key, want := range tt.wantForm {
				assert.Equal(t, want, log[0].Form.Get(key))
			}
		})
	}
}

func TestClient_ConnectWrongPassword(t *testing.T) {
	server := newTestServer(t)
	client, err := NewClient(&Config{
		Site:       server.URL(),
		Email:      testEmail,
		Password:   "wrong",
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrs.IsAuthFailed(err))
	assert.False(t, client.IsAuthenticated())

	// The failure is sticky and registration reports it without a request.
	_, err = client.Queue().Register(context.Background())
	assert.True(t, pkgerrs.IsAuthFailed(err))
	assert.Empty(t, server.RequestsTo(http.MethodPost, "/api/v1/register"))
	assert.Len(t, server.RequestsTo(http.MethodPost, "/api/v1/fetch_api_key"), 1)
}

func TestClient_RegisterConnectsLazily(t *testing.T) {
	server := newTestServer(t)
	client, err := NewClient(&Config{
		Site:       server.URL(),
		Email:      testEmail,
		Password:   "hunter2",
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	assert.False(t, client.IsAuthenticated())

	queue, err := client.Queue().ForEvent("message").Register(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, queue.ID())
	assert.True(t, client.IsAuthenticated())

	log := server.GetRequestLog()
	require.Len(t, log, 2)
	assert.Equal(t, "/api/v1/fetch_api_key", log[0].Path)
	assert.Equal(t, "/api/v1/register", log[1].Path)
	assert.Equal(t, testEmail, log[1].User)
}

func TestClient_ConcurrentQueuesShareSession(t *testing.T) {
	server := newTestServer(t)
	client, err := NewClient(&Config{
		Site:       server.URL(),
		Email:      testEmail,
		Password:   "hunter2",
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	ids := make(chan string, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			queue, err := client.Queue().ForEvent("message").Register(context.Background())
			if err != nil {
				errs <- err
				return
			}
			ids <- queue.ID()
			if err := queue.Unregister(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(ids)
	close(errs)

	for err := range errs {
		t.Errorf("worker failed: %v", err)
	}

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "duplicate queue id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, workers)
	assert.Len(t, server.RequestsTo(http.MethodPost, "/api/v1/fetch_api_key"), 1, "credentials resolve once")
	assert.Empty(t, server.QueueIDs())
}

func TestClient_TracesRequests(t *testing.T) {
	server := newTestServer(t)
	recorder := tracetest.NewSpanRecorder()
	client, err := NewClient(&Config{
		Site:           server.URL(),
		Email:          testEmail,
		APIKey:         testAPIKey,
		HTTPClient:     server.Client(),
		TracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)),
	})
	require.NoError(t, err)

	queue := registerTestQueue(t, server, client, -1)
	server.PushBatch(test_helpers.Heartbeat(0))
	server.PushBatch(test_helpers.MessageEvent(1, "hi"))

	_, err = queue.Events(context.Background())
	require.NoError(t, err)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Equal(t, []string{
		"zulip POST register",
		"zulip GET events",
		"zulip GET events",
		"zulip queue events",
	}, names)

	spans := recorder.Ended()
	queueSpan := spans[len(spans)-1]
	for _, child := range spans[1:3] {
		assert.Equal(t, queueSpan.SpanContext().SpanID(), child.Parent().SpanID())
	}
}
