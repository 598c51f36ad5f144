// Package gzaw is a Go client for the Zulip chat server's real-time events API.
//
// # Overview
//
// Zulip delivers real-time updates through event queues. A client registers a
// queue describing which events it wants, then long-polls the queue for
// batches of events, and finally deletes it. This package covers that
// lifecycle and classifies every failure into a single structured error type.
//
// # Features
//
//   - API key, password, and development-server credential resolution
//   - Queue registration with event type and narrow filters
//   - Long-polling with automatic heartbeat suppression and cursor tracking
//   - Structured errors distinguishing build, transport, and server failures
//   - Structured logging via Go's slog package
//   - Optional Prometheus metrics, OpenTelemetry spans, and client-side rate limiting
//
// # Quick Start
//
//	client, err := gzaw.NewClient(&gzaw.Config{
//		Site:   "https://chat.example.com",
//		Email:  "weather-bot@chat.example.com",
//		APIKey: os.Getenv("ZULIP_API_KEY"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	queue, err := client.Queue().
//		ForEvent("message").
//		Narrow("stream", "weather").
//		ApplyMarkdown(false).
//		Register(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer queue.Unregister(context.Background())
//
//	for {
//		events, err := queue.Events(ctx)
//		if err != nil {
//			log.Fatal(err)
//		}
//		for _, event := range events {
//			fmt.Println(event.ID, event.Type)
//		}
//	}
//
// # Connection Lifecycle
//
// NewClient validates the configuration and the site address but does no
// network I/O. Credentials are resolved by Connect, which registering a
// queue calls implicitly. Resolution happens once per Client; its result,
// including a failure, is shared by every later caller.
//
// # Authentication Modes
//
// API key:
//   - Set Email and APIKey
//   - Requests are signed immediately, no handshake
//
// Password:
//   - Set Email and Password
//   - Connect exchanges them for an API key
//
// Development server:
//   - Set Email only
//   - Connect asks the server for the account's key without a password
//
// Unauthenticated:
//   - Leave all three empty
//   - Requests carry no credentials
//
// # Heartbeats and the Cursor
//
// While a long-poll waits, the server periodically answers with a heartbeat
// event so intermediaries do not time the connection out. Events discards a
// batch whose last event is a heartbeat and polls again at once, so callers
// only see batches with content. The queue's cursor (LastEventID) always
// moves to the id of the last event in the latest batch, heartbeat or not.
//
// # Error Handling
//
// Every operation returns a *errors.Error from the pkg/errors package:
//
//	queue, err := client.Queue().Register(ctx)
//	if err != nil {
//		var zerr *errors.Error
//		if stderrors.As(err, &zerr) {
//			switch zerr.Kind {
//			case errors.KindBuild:
//				// Bad site address or a reused builder; retrying will not help
//			case errors.KindTransport:
//				// Network failure, timeout, 5xx, or an unreadable response
//			case errors.KindApplication:
//				// The server rejected the request; see zerr.Application()
//			}
//		}
//	}
//
// The client never retries. When the server reports RATE_LIMIT_HIT, the
// advised delay is available through errors.RetryAfter.
//
// # Logging
//
// Enable debug logging by providing a logger in the config:
//
//	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
//		Level: slog.LevelDebug,
//	}))
//
//	config := &gzaw.Config{
//		// ... other config ...
//		Logger: logger,
//	}
//
// API keys and passwords are never logged.
//
// # Thread Safety
//
// A Client is safe for concurrent use and any number of queues may share it.
// A single Queue must not be polled from more than one goroutine at a time.
//
// # Timeouts
//
// The default HTTP client times out after DefaultTimeout, which is longer
// than the server's heartbeat interval. A custom HTTPClient with a shorter
// timeout will turn quiet long-polls into transport errors.
package gzaw
