package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	gzaw "github.com/jamesprial/go-zulip-api-wrapper"
	pkgerrs "github.com/jamesprial/go-zulip-api-wrapper/pkg/errors"
	"github.com/jamesprial/go-zulip-api-wrapper/pkg/validation"
)

const unregisterTimeout = 10 * time.Second

type listenOptions struct {
	events           []string
	narrows          []string
	applyMarkdown    bool
	allPublicStreams bool
	metricsAddr      string
	maxEvents        int
}

func listenCmd(a *app) *cobra.Command {
	opts := &listenOptions{}

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Register an event queue and print its events",
		Long: `Register an event queue and print every delivered event as one JSON
object per line. Heartbeats are not printed. The queue is deleted on exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var markdown *bool
			if cmd.Flags().Changed("apply-markdown") {
				markdown = &opts.applyMarkdown
			}
			return runListen(ctx, a, opts, markdown, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringArrayVarP(&opts.events, "event", "e", nil, "event type to subscribe to (repeatable, default all)")
	cmd.Flags().StringArrayVarP(&opts.narrows, "narrow", "n", nil, "narrow filter as operator:operand, e.g. stream:general (repeatable)")
	cmd.Flags().BoolVar(&opts.applyMarkdown, "apply-markdown", true, "ask the server to render message content as HTML")
	cmd.Flags().BoolVar(&opts.allPublicStreams, "all-public-streams", false, "receive events for every public stream")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	cmd.Flags().IntVar(&opts.maxEvents, "max-events", 0, "exit after printing this many events (0 means no limit)")

	return cmd
}

func runListen(ctx context.Context, a *app, opts *listenOptions, markdown *bool, out io.Writer) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	builder, err := opts.builderOptions()
	if err != nil {
		return err
	}

	clientConfig := a.cfg.ClientConfig(a.logger)
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		clientConfig.MetricsRegisterer = reg

		shutdown, err := serveMetrics(opts.metricsAddr, reg)
		if err != nil {
			return err
		}
		defer shutdown()
		a.logger.Info("serving metrics", "addr", opts.metricsAddr)
	}

	client, err := gzaw.NewClient(clientConfig)
	if err != nil {
		return err
	}

	qb := builder(client.Queue())
	if markdown != nil {
		qb.ApplyMarkdown(*markdown)
	}

	queue, err := qb.Register(ctx)
	if err != nil {
		return describe(err)
	}
	defer func() {
		unregisterCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unregisterTimeout)
		defer cancel()
		if err := queue.Unregister(unregisterCtx); err != nil {
			a.logger.Warn("failed to delete event queue", "queue_id", queue.ID(), "error", err)
		}
	}()

	info := queue.ServerInfo()
	a.logger.Info("listening", "queue_id", queue.ID(), "server_version", info.Version, "feature_level", info.FeatureLevel)

	printed := 0
	for event, err := range queue.All(ctx) {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return describe(err)
		}
		if err := writeEvent(out, event.Raw); err != nil {
			return err
		}
		printed++
		if opts.maxEvents > 0 && printed >= opts.maxEvents {
			return nil
		}
	}
	return nil
}

// builderOptions validates the flags up front so a bad narrow never reaches
// the server.
func (o *listenOptions) builderOptions() (func(*gzaw.QueueBuilder) *gzaw.QueueBuilder, error) {
	if o.maxEvents < 0 {
		return nil, fmt.Errorf("--max-events must not be negative")
	}
	for _, eventType := range o.events {
		if !validation.IsValidEventType(eventType) {
			return nil, fmt.Errorf("invalid event type %q", eventType)
		}
	}

	var errs []error
	narrows := make([][2]string, 0, len(o.narrows))
	for _, raw := range o.narrows {
		filter, err := validation.ParseNarrow(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		narrows = append(narrows, [2]string{filter.Condition, filter.Value})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return func(qb *gzaw.QueueBuilder) *gzaw.QueueBuilder {
		for _, eventType := range o.events {
			qb.ForEvent(eventType)
		}
		for _, n := range narrows {
			qb.Narrow(n[0], n[1])
		}
		if o.allPublicStreams {
			qb.AllPublicStreams(true)
		}
		return qb
	}, nil
}

func writeEvent(out io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return fmt.Errorf("compact event: %w", err)
	}
	buf.WriteByte('\n')
	_, err := out.Write(buf.Bytes())
	return err
}

// describe appends the server's retry advice to rate limit errors.
func describe(err error) error {
	if delay, ok := pkgerrs.RetryAfter(err); ok {
		return fmt.Errorf("%w (retry after %s)", err, delay)
	}
	return err
}

func newMetricsHandler(gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return r
}

func serveMetrics(addr string, gatherer prometheus.Gatherer) (func(), error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           newMetricsHandler(gatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.Serve(listener)
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
