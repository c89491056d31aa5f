package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dreamware/comboq/internal/api"
	"github.com/dreamware/comboq/internal/auth"
	"github.com/dreamware/comboq/internal/combo"
	"github.com/dreamware/comboq/internal/config"
	"github.com/dreamware/comboq/internal/events"
	"github.com/dreamware/comboq/internal/notify"
	"github.com/dreamware/comboq/internal/storage"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = clog.FatalContextf

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx, nil)
	if err != nil {
		logFatal(ctx, "%v", err)
		return
	}
	ctx = clog.WithLogger(ctx, clog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if err := run(ctx, cfg); err != nil {
		logFatal(ctx, "%v", err)
	}
	clog.FromContext(ctx).Info("coordinator stopped")
}

// run serves until ctx is done or the listener fails.
func run(ctx context.Context, cfg *config.Config) error {
	session, err := openSession(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer session.Close()

	a, err := newApp(ctx, cfg, session)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
		// Requests keep the logger but are not cancelled by the signal;
		// Shutdown drains them instead.
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		clog.FromContext(ctx).Infof("coordinator listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func openSession(cfg *config.Config) (storage.Session, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return storage.NewMemorySession(), nil
	case config.DriverCassandra:
		return storage.NewCassandraSession(cfg.CassandraConfig())
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

type app struct {
	registry *combo.Registry
	hub      *events.Hub
	handler  http.Handler
}

// newApp wires the queue and both surfaces over session. Schema creation
// failures are logged and do not prevent startup.
func newApp(ctx context.Context, cfg *config.Config, session storage.Session) (*app, error) {
	log := clog.FromContext(ctx)

	registry, err := combo.NewRegistry(session, cfg.ShardCount, cfg.CategoryList(),
		combo.WithFetchLimit(cfg.BatchSize),
		combo.WithReplicationFactor(cfg.ReplicationFactor),
	)
	if err != nil {
		return nil, err
	}
	if err := registry.EnsureSchema(ctx); err != nil {
		log.Errorf("Schema creation incomplete: %v", err)
	}

	allow := auth.New(cfg.Keys()...)
	hub := events.NewHub(cfg.PingInterval, cfg.PingFailures)
	gateway := events.NewGateway(events.Options{
		Registry: registry,
		Auth:     allow,
		Sink:     buildSink(ctx, cfg),
		Settings: events.Settings{BatchSize: cfg.BatchSize, Workers: cfg.RestWorkers},
		Hub:      hub,
		Rate:     rate.Limit(cfg.EventRate),
		Burst:    cfg.EventBurst,
		// Peers are worker processes, not browsers; the origin check only
		// applies when EVENT_ORIGINS is set.
		OriginPatterns:     cfg.Origins(),
		InsecureSkipVerify: len(cfg.Origins()) == 0,
	})

	routes := prometheus.NewRegistry()
	if err := routes.Register(registry.Collector()); err != nil {
		return nil, err
	}
	metrics := promhttp.HandlerFor(prometheus.Gatherers{prometheus.DefaultGatherer, routes}, promhttp.HandlerOpts{})

	log.Infof("Serving %d categories over %d shards each", len(registry.Categories()), registry.NumShards())
	return &app{
		registry: registry,
		hub:      hub,
		handler: api.NewHandler(api.Options{
			Registry: registry,
			Auth:     allow,
			Workers:  cfg.RestWorkers,
			Events:   gateway,
			Metrics:  metrics,
			Peers:    hub,
		}),
	}, nil
}

// buildSink always logs notifications and adds every configured channel.
// A channel that cannot be set up is skipped.
func buildSink(ctx context.Context, cfg *config.Config) notify.Sink {
	sinks := notify.Multi{notify.LogSink{}}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL, nil))
	}
	if cfg.TelegramToken != "" {
		tg, err := notify.DialTelegram(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			clog.FromContext(ctx).Errorf("Telegram notifications disabled: %v", err)
		} else {
			sinks = append(sinks, tg)
		}
	}
	return sinks
}
