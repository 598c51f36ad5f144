package internal

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jamesprial/go-zulip-api-wrapper/pkg/types"
)

// ResolveFunc produces the credentials a session should sign requests with.
type ResolveFunc func(context.Context) (types.Credentials, error)

// Connector resolves session credentials exactly once. Concurrent callers
// block until the first resolution finishes and all observe its result.
type Connector struct {
	session *Client
	resolve ResolveFunc

	once sync.Once
	err  error
	done chan struct{}
}

// NewConnector creates a connector that assigns the result of resolve to session.
// A nil resolve leaves the session unauthenticated.
func NewConnector(session *Client, resolve ResolveFunc) *Connector {
	return &Connector{
		session: session,
		resolve: resolve,
		done:    make(chan struct{}),
	}
}

// Connect runs the resolution on first use. The context of the first caller
// governs the handshake; later callers only wait for it.
func (c *Connector) Connect(ctx context.Context) error {
	c.once.Do(func() {
		defer close(c.done)
		if c.resolve == nil {
			return
		}

		creds, err := c.resolve(ctx)
		if err != nil {
			c.err = err
			return
		}
		if c.session.SetCredentials(creds) {
			c.session.Logger().InfoContext(ctx, "zulip credentials resolved",
				slog.String("identity", creds.Identity),
				slog.Bool("has_key", creds.HasSecret()),
			)
		}
	})

	return c.err
}

// Err returns the resolution error, or nil if resolution succeeded or has not finished.
func (c *Connector) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Done reports whether resolution has been attempted.
func (c *Connector) Done() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
