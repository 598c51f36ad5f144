package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/test_helpers"
)

const (
	testEmail  = "bot@example.com"
	testAPIKey = "abcdef0123456789"
)

// setupCLI points the environment at a fresh mock server and returns it with
// a config path that does not exist.
func setupCLI(t *testing.T) (*test_helpers.MockServer, string) {
	t.Helper()

	server := test_helpers.NewMockServer()
	t.Cleanup(server.Close)
	server.AddUser(test_helpers.MockUser{Email: testEmail, Password: "hunter2", APIKey: testAPIKey})

	t.Setenv("ZULIP_URI", server.URL())
	t.Setenv("ZULIP_USERNAME", testEmail)
	t.Setenv("ZULIP_API_KEY", "")
	t.Setenv("ZULIP_PASSWORD", "")

	return server, filepath.Join(t.TempDir(), "missing.toml")
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func TestListen_PrintsEventsAndDeletesQueue(t *testing.T) {
	server, configPath := setupCLI(t)
	t.Setenv("ZULIP_API_KEY", testAPIKey)

	server.PushBatch(test_helpers.MessageEvent(1, "hello"))
	server.PushBatch(test_helpers.Heartbeat(2))
	server.PushBatch(test_helpers.MessageEvent(3, "again"), test_helpers.TypedEvent(4, "typing", "start"))

	out, err := execute(t, "--config", configPath, "listen",
		"--event", "message", "--event", "typing",
		"--narrow", "stream:general",
		"--apply-markdown=false",
		"--max-events", "3",
	)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	var ids []int64
	for _, line := range lines {
		var event struct {
			ID   int64  `json:"id"`
			Type string `json:"type"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		assert.NotEqual(t, "heartbeat", event.Type)
		ids = append(ids, event.ID)
	}
	assert.Equal(t, []int64{1, 3, 4}, ids)

	register := server.RequestsTo(http.MethodPost, "/api/v1/register")
	require.Len(t, register, 1)
	assert.JSONEq(t, `["message","typing"]`, register[0].Form.Get("event_types"))
	assert.JSONEq(t, `[["stream","general"]]`, register[0].Form.Get("narrow"))
	assert.Equal(t, "false", register[0].Form.Get("apply_markdown"))

	assert.Len(t, server.RequestsTo(http.MethodDelete, "/api/v1/events"), 1)
	assert.Empty(t, server.QueueIDs())
}

func TestListen_InvalidNarrowSendsNothing(t *testing.T) {
	server, configPath := setupCLI(t)
	t.Setenv("ZULIP_API_KEY", testAPIKey)

	_, err := execute(t, "--config", configPath, "listen", "--narrow", "general")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator:operand")
	assert.Empty(t, server.GetRequestLog())
}

func TestListen_RegisterFailure(t *testing.T) {
	server, configPath := setupCLI(t)
	t.Setenv("ZULIP_API_KEY", testAPIKey)

	server.FailNext("register", test_helpers.MockReply{
		Status: http.StatusTooManyRequests,
		Body:   test_helpers.ErrorBody("RATE_LIMIT_HIT", "API usage exceeded rate limit", map[string]any{"retry-after": 2.5}),
	})

	_, err := execute(t, "--config", configPath, "listen")
	require.Error(t, err)
	assert.True(t, pkgerrs.IsRateLimitHit(err))
	assert.Contains(t, err.Error(), "retry after 2.5s")
}

func TestListen_PollFailureStillDeletesQueue(t *testing.T) {
	server, configPath := setupCLI(t)
	t.Setenv("ZULIP_API_KEY", testAPIKey)

	server.PushReply(test_helpers.MockReply{
		Status: http.StatusBadRequest,
		Body:   test_helpers.ErrorBody("BAD_REQUEST", "Bad event queue ID", nil),
	})

	_, err := execute(t, "--config", configPath, "listen")
	require.Error(t, err)
	assert.Equal(t, pkgerrs.KindApplication, pkgerrs.KindOf(err))
	assert.Empty(t, server.QueueIDs())
}

func TestListen_MissingSite(t *testing.T) {
	_, configPath := setupCLI(t)
	t.Setenv("ZULIP_URI", "")

	_, err := execute(t, "--config", configPath, "listen")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "site is required")
}

func TestFetchKey(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantPath string
	}{
		{name: "password", password: "hunter2", wantPath: "/api/v1/fetch_api_key"},
		{name: "development server", wantPath: "/api/v1/dev_fetch_api_key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, configPath := setupCLI(t)
			t.Setenv("ZULIP_PASSWORD", tt.password)

			out, err := execute(t, "--config", configPath, "fetch-key")
			require.NoError(t, err)
			assert.Equal(t, testAPIKey+"\n", out)

			log := server.GetRequestLog()
			require.Len(t, log, 1)
			assert.Equal(t, tt.wantPath, log[0].Path)
		})
	}
}

func TestFetchKey_WrongPassword(t *testing.T) {
	_, configPath := setupCLI(t)
	t.Setenv("ZULIP_PASSWORD", "wrong")

	out, err := execute(t, "--config", configPath, "fetch-key")
	require.Error(t, err)
	assert.True(t, pkgerrs.IsAuthFailed(err))
	assert.Empty(t, out)
}

func TestConfigCmd_MasksSecrets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
site = "https://chat.example.com"
email = "bot@example.com"
api_key = "abcdef0123456789"
log_level = "warn"

[rate_limit]
requests_per_minute = 30
burst = 5
`), 0o600))
	t.Setenv("ZULIP_URI", "")
	t.Setenv("ZULIP_USERNAME", "")
	t.Setenv("ZULIP_API_KEY", "")
	t.Setenv("ZULIP_PASSWORD", "")

	out, err := execute(t, "--config", path, "config")
	require.NoError(t, err)

	assert.Contains(t, out, "https://chat.example.com")
	assert.Contains(t, out, "abcd********6789")
	assert.NotContains(t, out, testAPIKey)
	assert.Contains(t, out, "Password:   (not set)")
	assert.Contains(t, out, "Log Level:  WARN")
	assert.Contains(t, out, "30/min (burst 5)")
}

func TestLogLevelFlag(t *testing.T) {
	_, configPath := setupCLI(t)

	out, err := execute(t, "--config", configPath, "--log-level", "debug", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "Log Level:  DEBUG")

	_, err = execute(t, "--config", configPath, "--log-level", "loud", "config")
	require.Error(t, err)
}

func TestVersionCmd(t *testing.T) {
	_, configPath := setupCLI(t)

	out, err := execute(t, "--config", configPath, "version")
	require.NoError(t, err)
	assert.Equal(t, "zulipctl dev\n", out)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", maskSecret(""))
	assert.Equal(t, "*****", maskSecret("short"))
	assert.Equal(t, "abcd**ghij", maskSecret("abcdefghij"))
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "zulipctl_test_total", Help: "test counter"})
	reg.MustRegister(counter)
	counter.Add(3)

	handler := newMetricsHandler(reg)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "zulipctl_test_total 3")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServeMetrics(t *testing.T) {
	shutdown, err := serveMetrics("127.0.0.1:0", prometheus.NewRegistry())
	require.NoError(t, err)
	shutdown()

	_, err = serveMetrics("not-an-address", prometheus.NewRegistry())
	assert.Error(t, err)
}
