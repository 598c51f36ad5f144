package gzaw

import (
	"context"
	"net/http"
	"testing"

	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/test_helpers"
	"github.com/jamesprial/go-zulip-api-wrapper/test_utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_All(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(t, server)
	queue := registerTestQueue(t, server, client, -1)

	server.PushBatch(test_helpers.MessageEvent(0, "a"), test_helpers.MessageEvent(1, "b"))
	server.PushBatch(test_helpers.Heartbeat(2))
	server.PushBatch()
	server.PushBatch(test_helpers.MessageEvent(3, "c"))
	server.PushReply(test_helpers.MockReply{Status: http.StatusBadGateway, Body: "gone"})

	var ids []int64
	var lastErr error
	for event, err := range queue.All(context.Background()) {
		if err != nil {
			lastErr = err
			break
		}
		ids = append(ids, event.ID)
	}

	assert.Equal(t, []int64{0, 1, 3}, ids)
	assert.Equal(t, pkgerrs.KindTransport, pkgerrs.KindOf(lastErr))
	assert.Equal(t, int64(3), queue.LastEventID())
}

func TestQueue_AllStopsWithConsumer(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(t, server)
	queue := registerTestQueue(t, server, client, -1)

	server.PushBatch(test_helpers.MessageEvent(0, "a"), test_helpers.MessageEvent(1, "b"))

	for event, err := range queue.All(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, int64(0), event.ID)
		break
	}
	assert.Len(t, pollCursors(t, server), 1)
}

func TestQueue_AllYieldsErrorOnce(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(t, server)
	queue := registerTestQueue(t, server, client, -1)

	server.PushBatch(test_helpers.MessageEvent(0, "a"))
	server.PushReply(test_helpers.MockReply{
		Status: http.StatusBadRequest,
		Body:   test_helpers.ErrorBody("BAD_REQUEST", "Bad event queue ID: abc", nil),
	})

	yields, errs := 0, 0
	for _, err := range queue.All(context.Background()) {
		yields++
		if err != nil {
			errs++
			assert.NoError(t, test_utils.AssertApplicationTag(err, pkgerrs.TagBadRequest))
		}
	}

	assert.Equal(t, 2, yields)
	assert.Equal(t, 1, errs)
	assert.Len(t, pollCursors(t, server), 2)
}

func TestQueue_AllCancelledContext(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(t, server)
	queue := registerTestQueue(t, server, client, -1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for _, err := range queue.All(ctx) {
		require.Error(t, err)
		assert.Equal(t, pkgerrs.KindTransport, pkgerrs.KindOf(err))
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Empty(t, pollCursors(t, server))
}

func TestQueue_AllResumesFromCursor(t *testing.T) {
	server := newTestServer(t)
	client := newTestClient(t, server)
	queue := registerTestQueue(t, server, client, 9)

	server.PushBatch(test_helpers.MessageEvent(10, "a"), test_helpers.MessageEvent(11, "b"))
	server.PushReply(test_helpers.MockReply{Status: http.StatusServiceUnavailable, Body: "maintenance"})
	server.PushBatch(test_helpers.MessageEvent(12, "c"))

	var first []int64
	for event, err := range queue.All(context.Background()) {
		if err != nil {
			break
		}
		first = append(first, event.ID)
	}

	var second []int64
	for event, err := range queue.All(context.Background()) {
		require.NoError(t, err)
		second = append(second, event.ID)
		break
	}

	assert.Equal(t, []int64{10, 11}, first)
	assert.Equal(t, []int64{12}, second)
	assert.Equal(t, []string{"9", "11", "11"}, pollCursors(t, server))
}
