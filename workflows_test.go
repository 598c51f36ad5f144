package gzaw

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
	"github.com/jamesprial/go-zulip-api-wrapper/test_helpers"
	"github.com/jamesprial/go-zulip-api-wrapper/test_utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messagePayload struct {
	Message struct {
		ID      int64  `json:"id"`
		Content string `json:"content"`
	} `json:"message"`
}

// TestCompleteBotWorkflow logs in with a password, listens to one stream,
// echoes message contents and tears the queue down.
func TestCompleteBotWorkflow(t *testing.T) {
	server := newTestServer(t)
	client, err := NewClient(&Config{
		Site:       server.URL(),
		Email:      testEmail,
		Password:   "hunter2",
		UserAgent:  "workflow-bot/1.0",
		HTTPClient: server.Client(),
	})
	require.NoError(t, err)
	require.False(t, client.IsAuthenticated())

	server.SeedNextQueue(test_helpers.QueueSeed{QueueID: "bot-queue", LastEventID: -1})
	queue, err := client.Queue().
		ForEvent("message").
		Narrow("stream", "general").
		ApplyMarkdown(false).
		Register(context.Background())
	require.NoError(t, err)
	assert.True(t, client.IsAuthenticated())
	assert.Equal(t, "9.0", queue.ServerInfo().Version)
	assert.Equal(t, 90, queue.ServerInfo().LongpollTimeoutSecs)

	server.PushBatch(test_helpers.MessageEvent(0, "hello"), test_helpers.MessageEvent(1, "world"))
	server.PushBatch(test_helpers.Heartbeat(2))
	server.PushBatch(test_helpers.MessageEvent(3, "bye"))

	var contents []string
	for event, err := range queue.All(context.Background()) {
		require.NoError(t, err)
		var msg messagePayload
		require.NoError(t, event.Decode(&msg))
		assert.Equal(t, 1000+event.ID, msg.Message.ID)
		contents = append(contents, msg.Message.Content)
		if len(contents) == 3 {
			break
		}
	}
	assert.Equal(t, []string{"hello", "world", "bye"}, contents)
	assert.Equal(t, int64(3), queue.LastEventID())

	require.NoError(t, queue.Unregister(context.Background()))
	assert.Empty(t, server.QueueIDs())

	log := server.GetRequestLog()
	require.NotEmpty(t, log)
	assert.Equal(t, "/api/v1/fetch_api_key", log[0].Path)
	assert.False(t, log[0].HasAuth)
	for _, entry := range log[1:] {
		assert.Equal(t, testEmail, entry.User)
		assert.Equal(t, "workflow-bot/1.0", entry.UserAgent)
	}

	params, ok := server.QueueParams("bot-queue")
	assert.False(t, ok, "deleted queue should be gone")
	assert.Empty(t, params)
}

// TestQueueExpiryWorkflow re-registers after the server forgets a queue and
// resumes from the new queue's cursor.
func TestQueueExpiryWorkflow(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(t, server)
	queue := registerTestQueue(t, server, client, 10)

	server.FailNext("events", test_helpers.MockReply{
		Status: http.StatusBadRequest,
		Body:   test_helpers.ErrorBody("BAD_EVENT_QUEUE_ID", "Bad event queue ID: abc", map[string]any{"queue_id": "abc"}),
	})

	_, err := queue.Events(context.Background())
	require.NoError(t, test_utils.AssertErrorKind(err, pkgerrs.KindApplication))
	require.NoError(t, test_utils.AssertApplicationTag(err, ""))
	assert.False(t, pkgerrs.IsDeactivated(err))

	server.SeedNextQueue(test_helpers.QueueSeed{QueueID: "def", LastEventID: 42})
	fresh, err := client.Queue().Register(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "def", fresh.ID())

	server.PushBatch(test_helpers.MessageEvent(43, "resumed"))
	events, err := fresh.Events(context.Background())
	require.NoError(t, err)
	require.NoError(t, test_utils.AssertEventIDs(events, 43))

	polls := server.RequestsTo(http.MethodGet, "/api/v1/events")
	require.Len(t, polls, 2)
	assert.Equal(t, "abc", polls[0].Query.Get("queue_id"))
	assert.Equal(t, "10", polls[0].Query.Get("last_event_id"))
	assert.Equal(t, "def", polls[1].Query.Get("queue_id"))
	assert.Equal(t, "42", polls[1].Query.Get("last_event_id"))
}

// TestRateLimitedRegistrationWorkflow backs off for the advertised delay and
// registers with a fresh builder.
func TestRateLimitedRegistrationWorkflow(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(t, server)

	server.FailNext("register", test_helpers.MockReply{
		Status: http.StatusTooManyRequests,
		Body:   test_helpers.ErrorBody("RATE_LIMIT_HIT", "API usage exceeded rate limit", map[string]any{"retry-after": 0.05}),
	})

	register := func() (*Queue, error) {
		return client.Queue().ForEvent("message").Register(context.Background())
	}

	var queue *Queue
	var waited time.Duration
	for attempt := 0; attempt < 3; attempt++ {
		q, err := register()
		if err == nil {
			queue = q
			break
		}
		delay, ok := pkgerrs.RetryAfter(err)
		require.True(t, ok, "unexpected failure: %v", err)
		waited += delay
		time.Sleep(delay)
	}

	require.NotNil(t, queue)
	assert.Equal(t, 50*time.Millisecond, waited)
	assert.Len(t, server.RequestsTo(http.MethodPost, "/api/v1/register"), 2)
	assert.Equal(t, []string{queue.ID()}, server.QueueIDs())
}

// TestDeactivatedAccountWorkflow stops listening for good once the account
// is deactivated.
func TestDeactivatedAccountWorkflow(t *testing.T) {
	tests := []struct {
		name string
		code string
		tag  string
	}{
		{name: "user", code: "USER_DEACTIVATED", tag: pkgerrs.TagUserDeactivated},
		{name: "realm", code: "REALM_DEACTIVATED", tag: pkgerrs.TagRealmDeactivated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newTestServer(t)
			client := newTestClient(t, server)
			queue := registerTestQueue(t, server, client, 0)

			server.PushBatch(test_helpers.MessageEvent(1, "last words"))
			server.PushReply(test_helpers.MockReply{
				Status: http.StatusForbidden,
				Body:   test_helpers.ErrorBody(tt.code, "Account is deactivated", nil),
			})

			var delivered []int64
			var stopErr error
			for event, err := range queue.All(context.Background()) {
				if err != nil {
					stopErr = err
					break
				}
				delivered = append(delivered, event.ID)
			}

			assert.Equal(t, []int64{1}, delivered)
			assert.True(t, pkgerrs.IsDeactivated(stopErr))
			assert.NoError(t, test_utils.AssertApplicationTag(stopErr, tt.tag))
		})
	}
}

// TestMixedEventTypesWorkflow routes events by type and op.
func TestMixedEventTypesWorkflow(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(t, server)
	queue := registerTestQueue(t, server, client, 0)

	reaction := test_helpers.TypedEvent(3, "reaction", "add")
	reaction["emoji_name"] = "tada"
	server.PushBatch(
		test_helpers.MessageEvent(1, "hi"),
		test_helpers.TypedEvent(2, "typing", "start"),
		reaction,
		test_helpers.TypedEvent(4, "typing", "stop"),
	)

	events, err := queue.Events(context.Background())
	require.NoError(t, err)
	require.NoError(t, test_utils.AssertEventListValid(0, events))
	require.NoError(t, test_utils.AssertNoHeartbeatLast(events))

	byType := map[string][]types.Event{}
	for _, event := range events {
		byType[event.Type] = append(byType[event.Type], event)
	}
	require.Len(t, byType["typing"], 2)
	assert.Equal(t, types.EventOp("start"), *byType["typing"][0].Op)
	assert.Equal(t, types.EventOp("stop"), *byType["typing"][1].Op)

	require.Len(t, byType["reaction"], 1)
	var payload struct {
		EmojiName string `json:"emoji_name"`
	}
	require.NoError(t, byType["reaction"][0].Decode(&payload))
	assert.Equal(t, "tada", payload.EmojiName)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(byType["message"][0].Raw, &raw))
	assert.Equal(t, "message", raw["type"])
}
