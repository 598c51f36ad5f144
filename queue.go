package gzaw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jamesprial/go-zulip-api-wrapper/internal"
	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/validation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

var errBuilderConsumed = errors.New("queue builder has already registered a queue")

// QueueBuilder accumulates the options of an event queue registration.
// Every option is optional; unset options are left to the server's defaults.
// A builder registers at most one queue.
type QueueBuilder struct {
	client *Client

	applyMarkdown      *bool
	clientGravatar     *bool
	slimPresence       *bool
	allPublicStreams   *bool
	includeSubscribers *bool

	eventTypes   []string
	narrow       []types.NarrowFilter
	capabilities types.ClientCapabilities

	consumed bool
}

func newQueueBuilder(c *Client) *QueueBuilder {
	return &QueueBuilder{
		client:       c,
		capabilities: types.DefaultClientCapabilities(),
	}
}

// ApplyMarkdown sets whether message content is rendered to HTML.
func (b *QueueBuilder) ApplyMarkdown(v bool) *QueueBuilder {
	b.applyMarkdown = &v
	return b
}

// ClientGravatar sets whether the client computes gravatar URLs itself.
func (b *QueueBuilder) ClientGravatar(v bool) *QueueBuilder {
	b.clientGravatar = &v
	return b
}

// SlimPresence sets whether presence events use the compact format.
func (b *QueueBuilder) SlimPresence(v bool) *QueueBuilder {
	b.slimPresence = &v
	return b
}

// AllPublicStreams sets whether events from every public stream are delivered.
func (b *QueueBuilder) AllPublicStreams(v bool) *QueueBuilder {
	b.allPublicStreams = &v
	return b
}

// IncludeSubscribers sets whether stream subscriber lists are included.
func (b *QueueBuilder) IncludeSubscribers(v bool) *QueueBuilder {
	b.includeSubscribers = &v
	return b
}

// ForEvent adds an event type to receive. Adding a type twice has no effect;
// types are sent in the order they were first added.
func (b *QueueBuilder) ForEvent(eventType string) *QueueBuilder {
	for _, existing := range b.eventTypes {
		if existing == eventType {
			return b
		}
	}
	b.eventTypes = append(b.eventTypes, eventType)
	return b
}

// Narrow adds a (condition, value) filter. Adding the same pair twice has no
// effect; pairs are sent in the order they were first added.
func (b *QueueBuilder) Narrow(condition, value string) *QueueBuilder {
	filter := types.NarrowFilter{Condition: condition, Value: value}
	for _, existing := range b.narrow {
		if existing == filter {
			return b
		}
	}
	b.narrow = append(b.narrow, filter)
	return b
}

// Capabilities replaces the capability block announced to the server.
func (b *QueueBuilder) Capabilities(caps types.ClientCapabilities) *QueueBuilder {
	b.capabilities = caps
	return b
}

// EventTypes returns the accumulated event types in insertion order.
func (b *QueueBuilder) EventTypes() []string {
	return append([]string(nil), b.eventTypes...)
}

// Narrows returns the accumulated narrow filters in insertion order.
func (b *QueueBuilder) Narrows() []types.NarrowFilter {
	return append([]types.NarrowFilter(nil), b.narrow...)
}

// Params encodes the registration request.
func (b *QueueBuilder) Params() (url.Values, error) {
	params := url.Values{}

	setBool := func(key string, v *bool) {
		if v != nil {
			params.Set(key, strconv.FormatBool(*v))
		}
	}
	setBool("apply_markdown", b.applyMarkdown)
	setBool("client_gravatar", b.clientGravatar)
	setBool("slim_presence", b.slimPresence)
	setBool("all_public_streams", b.allPublicStreams)
	setBool("include_subscribers", b.includeSubscribers)

	if len(b.eventTypes) > 0 {
		encoded, err := json.Marshal(b.eventTypes)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event types: %w", err)
		}
		params.Set("event_types", string(encoded))
	}

	if len(b.narrow) > 0 {
		encoded, err := json.Marshal(b.narrow)
		if err != nil {
			return nil, fmt.Errorf("failed to encode narrow: %w", err)
		}
		params.Set("narrow", string(encoded))
	}

	encoded, err := json.Marshal(b.capabilities)
	if err != nil {
		return nil, fmt.Errorf("failed to encode client capabilities: %w", err)
	}
	params.Set("client_capabilities", string(encoded))

	return params, nil
}

// Register creates the event queue on the server. It connects the client
// first if needed. The builder is consumed by the call whatever its outcome;
// calling Register again returns a build error.
func (b *QueueBuilder) Register(ctx context.Context) (*Queue, error) {
	if b.consumed {
		return nil, pkgerrs.NewBuild(errBuilderConsumed).WithRequest(http.MethodPost, internal.EndpointRegisterQueue)
	}
	b.consumed = true

	if err := b.client.ensureConnected(ctx); err != nil {
		return nil, err
	}

	params, err := b.Params()
	if err != nil {
		return nil, pkgerrs.NewBuild(err).WithRequest(http.MethodPost, internal.EndpointRegisterQueue)
	}

	var resp types.RegisterResponse
	if err := b.client.session.Send(ctx, http.MethodPost, internal.EndpointRegisterQueue, params, &resp); err != nil {
		return nil, err
	}
	if resp.QueueID == "" {
		zerr := pkgerrs.NewTransport(errors.New("registration response has no queue_id"))
		return nil, zerr.WithRequest(http.MethodPost, internal.EndpointRegisterQueue)
	}
	if resp.LastEventID == nil {
		zerr := pkgerrs.NewTransport(errors.New("registration response has no last_event_id"))
		return nil, zerr.WithRequest(http.MethodPost, internal.EndpointRegisterQueue)
	}

	b.client.logger.InfoContext(ctx, "zulip event queue registered",
		slog.String("queue_id", resp.QueueID),
		slog.Int64("last_event_id", *resp.LastEventID),
		slog.Int("event_types", len(b.eventTypes)),
	)

	return newQueue(b.client.session, resp, queueOptions{
		logger:  b.client.logger,
		metrics: b.client.session.Metrics(),
		tracer:  b.client.session.Tracer(),
	}), nil
}

// ServerInfo is the informational part of a registration response.
type ServerInfo struct {
	Version             string
	FeatureLevel        int
	MergeBase           string
	MaxMessageID        int64
	LongpollTimeoutSecs int
}

type queueOptions struct {
	logger  *slog.Logger
	metrics *internal.Metrics
	tracer  trace.Tracer
}

// Queue is a registered event queue. A Queue must not be polled from more
// than one goroutine at a time; distinct queues may share a Client freely.
type Queue struct {
	session     Session
	id          string
	lastEventID int64
	info        ServerInfo

	logger  *slog.Logger
	metrics *internal.Metrics
	tracer  trace.Tracer
}

// newQueue expects resp to carry both a queue id and a cursor.
func newQueue(session Session, resp types.RegisterResponse, opts queueOptions) *Queue {
	logger := opts.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tracer := opts.tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer(internal.TracerName)
	}

	return &Queue{
		session:     session,
		id:          resp.QueueID,
		lastEventID: *resp.LastEventID,
		info: ServerInfo{
			Version:             resp.ZulipVersion,
			FeatureLevel:        resp.ZulipFeatureLevel,
			MergeBase:           resp.ZulipMergeBase,
			MaxMessageID:        resp.MaxMessageID,
			LongpollTimeoutSecs: resp.EventQueueLongpoll,
		},
		logger:  logger.With(slog.String("queue_id", resp.QueueID)),
		metrics: opts.metrics,
		tracer:  tracer,
	}
}

// ID returns the server-assigned queue id.
func (q *Queue) ID() string {
	return q.id
}

// LastEventID returns the cursor: the id of the last event observed,
// including heartbeats. It starts at the value returned by registration.
func (q *Queue) LastEventID() int64 {
	return q.lastEventID
}

// ServerInfo returns the server metadata reported at registration.
func (q *Queue) ServerInfo() ServerInfo {
	return q.info
}

// Events returns the next batch of events after the cursor, blocking until
// the server has something to deliver.
//
// A batch whose last event is a heartbeat is consumed silently and the queue
// is polled again, so callers never see a heartbeat-terminated batch. A
// heartbeat elsewhere in a batch is returned with the rest. An empty batch is
// returned as is. The cursor advances to the last event of every non-empty
// batch, delivered or not, and is left untouched on error.
func (q *Queue) Events(ctx context.Context) ([]types.Event, error) {
	ctx, span := q.tracer.Start(ctx, "zulip queue events", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("zulip.queue_id", q.id))

	polls := 0
	for {
		params := url.Values{}
		params.Set("queue_id", q.id)
		params.Set("last_event_id", strconv.FormatInt(q.lastEventID, 10))

		var resp types.EventsResponse
		polls++
		if err := q.session.Send(ctx, http.MethodGet, internal.EndpointEvents, params, &resp); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if len(resp.Events) == 0 {
			span.SetAttributes(attribute.Int("zulip.polls", polls), attribute.Int("zulip.events", 0))
			return resp.Events, nil
		}

		if err := validation.ValidateBatch(q.lastEventID, resp.Events); err != nil {
			q.logger.WarnContext(ctx, "zulip event batch anomaly", slog.Any("error", err))
		}

		last := resp.Events[len(resp.Events)-1]
		q.lastEventID = last.ID

		if last.IsHeartbeat() {
			q.metrics.ObserveHeartbeat()
			q.logger.DebugContext(ctx, "zulip heartbeat suppressed", slog.Int64("last_event_id", last.ID))
			continue
		}

		q.metrics.ObserveDelivered(len(resp.Events))
		span.SetAttributes(
			attribute.Int("zulip.polls", polls),
			attribute.Int("zulip.events", len(resp.Events)),
			attribute.Int64("zulip.last_event_id", q.lastEventID),
		)
		return resp.Events, nil
	}
}

// Unregister deletes the queue on the server. The Queue must not be used
// afterwards.
func (q *Queue) Unregister(ctx context.Context) error {
	params := url.Values{}
	params.Set("queue_id", q.id)

	if err := q.session.Send(ctx, http.MethodDelete, internal.EndpointEvents, params, nil); err != nil {
		return err
	}

	q.logger.InfoContext(ctx, "zulip event queue unregistered")
	return nil
}
