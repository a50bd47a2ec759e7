package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowwatch/flowwatch/config"
	"github.com/flowwatch/flowwatch/pkg/api"
	"github.com/flowwatch/flowwatch/pkg/api/handlers"
	"github.com/flowwatch/flowwatch/pkg/api/middleware"
	grpcserver "github.com/flowwatch/flowwatch/pkg/grpc"
	"github.com/flowwatch/flowwatch/pkg/logger"
	"github.com/flowwatch/flowwatch/pkg/metrics"
	"github.com/flowwatch/flowwatch/pkg/monitor"
	"github.com/flowwatch/flowwatch/pkg/snapshot"
	"github.com/flowwatch/flowwatch/pkg/storage"
	"github.com/flowwatch/flowwatch/pkg/telemetry/tracing"
	"github.com/flowwatch/flowwatch/pkg/version"
)

const grpcProbeInterval = 10 * time.Second

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the monitor with its HTTP, WebSocket and gRPC endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			log := logger.New(cfg.Log.ToLoggerConfig())
			logger.SetGlobal(log)
			defer log.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d, err := newDaemon(runCtx, cfg, ctx.configPath(), log)
			if err != nil {
				return err
			}
			return d.run(runCtx)
		},
	}
}

// daemon owns every long-lived component of a serve process.
type daemon struct {
	cfg        *config.Config
	configPath string
	log        logger.Logger

	tracingShutdown tracing.ShutdownFunc
	metrics         *metrics.Manager
	store           storage.Storage
	events          *eventStack
	closeSource     func()
	manager         *monitor.Manager
	health          *handlers.HealthHandler
	websocket       *handlers.WebSocketHandler
	http            *api.HTTPServer
	httpAddr        net.Addr
	grpc            *grpcserver.Server
	checks          map[string]handlers.ReadinessCheck
}

// newDaemon wires the components and binds the HTTP listener. Nothing is
// served until run is called.
func newDaemon(ctx context.Context, cfg *config.Config, configPath string, log logger.Logger) (_ *daemon, err error) {
	if cfg.App.Debug {
		log.SetLevel(logger.DebugLevel)
	}
	id := instanceID(cfg)
	log = log.With("instance_id", id)

	d := &daemon{cfg: cfg, configPath: configPath, log: log}
	defer func() {
		if err != nil {
			d.close(context.Background())
		}
	}()

	d.tracingShutdown, err = tracing.Init(ctx, cfg.Tracing.ToTracingConfig(id), cfg.App.Name, version.Version)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	d.metrics = metrics.NewManager(cfg.Metrics.ToMetricsConfig())

	if d.store, err = openStorage(cfg, log); err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if d.events, err = openEvents(ctx, cfg, log, d.metrics); err != nil {
		return nil, err
	}
	src, closeSource, err := openSource(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	d.closeSource = closeSource

	opts := []monitor.Option{
		monitor.WithInterval(cfg.Monitor.PollInterval),
		monitor.WithLimits(cfg.Monitor.Limits()),
		monitor.WithLogger(log),
		monitor.WithMetrics(d.metrics),
		monitor.WithTracer(tracing.Tracer()),
		monitor.WithPublisher(d.events.publisher),
		monitor.WithContext(context.WithoutCancel(ctx)),
	}
	if d.store != nil {
		opts = append(opts, monitor.WithStorage(d.store))
	}
	d.manager = monitor.NewManager(src, opts...)

	d.checks = map[string]handlers.ReadinessCheck{}
	if d.store != nil {
		d.checks["storage"] = func(ctx context.Context) error {
			_, err := d.store.ListUsers(ctx)
			return err
		}
	}
	if d.events.relay != nil {
		d.checks["redis"] = d.events.healthy
	}

	var limiter *middleware.RateLimiter
	if rl := cfg.Server.RateLimit; rl.Enabled {
		limiter = middleware.NewRateLimiter(rl.RequestsPerSecond, rl.Burst)
	}

	d.health = handlers.NewHealthHandler(d.manager.Users, d.checks)
	d.websocket = handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{
		AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
		Lookup:         d.lookup,
	})

	h := &api.Handlers{
		Sessions:       handlers.NewSessionHandler(d.manager, limiter, log),
		Health:         d.health,
		WebSocket:      d.websocket,
		RefreshLimiter: limiter,
	}
	if d.metrics.Enabled() {
		h.Metrics = d.metrics
	}
	d.http = api.NewHTTPServer(cfg, log, h)
	if d.httpAddr, err = d.http.Listen(); err != nil {
		return nil, fmt.Errorf("listen http: %w", err)
	}

	if cfg.Server.GRPC.Enabled {
		if d.grpc, err = grpcserver.New(cfg.ToGRPCConfig(), log); err != nil {
			return nil, err
		}
	}

	return d, nil
}

func (d *daemon) lookup(userID string) (*snapshot.WorkflowSnapshot, bool) {
	m, ok := d.manager.Get(userID)
	if !ok {
		return nil, false
	}
	return m.Snapshot(), true
}

// run serves until ctx is cancelled or a server fails, then shuts down.
func (d *daemon) run(ctx context.Context) error {
	cfg := d.cfg
	errCh := make(chan error, 2)

	go d.websocket.Run(ctx, d.events.local.Subscribe(cfg.Events.Buffer))

	if d.metrics.Enabled() {
		go func() {
			d.log.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := d.metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil {
				d.log.Error("metrics server error", "error", err)
			}
		}()
	}

	go func() {
		if err := d.http.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if d.grpc != nil {
		if err := d.grpc.Start(); err != nil {
			d.close(context.Background())
			return err
		}
		go d.probeGRPC(ctx)
	}

	if d.configPath != "" {
		d.watchConfig(ctx)
	}

	d.log.Info("flowwatch is running",
		"version", version.Version,
		"http_address", d.httpAddr.String(),
		"grpc_enabled", d.grpc != nil,
		"source", cfg.Source.Type,
		"storage", cfg.Storage.Type,
		"events", cfg.Events.Type,
	)

	var runErr error
	select {
	case <-ctx.Done():
		d.log.Info("shutdown requested")
	case runErr = <-errCh:
		d.log.Error("server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
	defer cancel()
	d.close(shutdownCtx)

	d.log.Info("flowwatch stopped")
	return runErr
}

// probeGRPC mirrors the readiness checks into the gRPC health service.
func (d *daemon) probeGRPC(ctx context.Context) {
	checks := make([]grpcserver.HealthCheck, 0, len(d.checks))
	for _, check := range d.checks {
		checks = append(checks, grpcserver.HealthCheck(check))
	}

	ticker := time.NewTicker(grpcProbeInterval)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := d.grpc.Health().Probe(probeCtx, checks...); err != nil {
			d.log.Warn("grpc health probe failed", "error", err)
		}
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// watchConfig applies hot-reloadable settings when the file changes.
func (d *daemon) watchConfig(ctx context.Context) {
	w, err := config.NewWatcher(d.configPath, nil, config.WithWatcherLogger(d.log))
	if err != nil {
		d.log.Warn("config hot reload disabled", "path", d.configPath, "error", err)
		return
	}

	current := config.ExtractHotReloadable(d.cfg)
	w.OnChange(func(next *config.Config) {
		updated := config.ExtractHotReloadable(next)
		if !updated.Changed(current) {
			return
		}
		if updated.LogLevel != current.LogLevel {
			d.log.SetLevel(logger.ParseLevel(updated.LogLevel))
		}
		if updated.PollInterval != current.PollInterval {
			d.manager.SetInterval(updated.PollInterval)
		}
		d.log.Info("applied config changes", "log_level", updated.LogLevel, "poll_interval", updated.PollInterval.String())
		current = updated
	})

	go func() {
		defer w.Stop()
		if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.log.Warn("config watcher stopped", "error", err)
		}
	}()
}

// close releases components in reverse dependency order. Nil components
// are skipped so it can clean up a partially built daemon.
func (d *daemon) close(ctx context.Context) {
	if d.health != nil {
		d.health.SetReady(false)
	}
	if d.http != nil && d.httpAddr != nil {
		if err := d.http.Shutdown(ctx); err != nil {
			d.log.Error("error shutting down http server", "error", err)
		}
	}
	if d.grpc != nil {
		if err := d.grpc.Stop(ctx); err != nil {
			d.log.Error("error stopping grpc server", "error", err)
		}
	}
	if d.manager != nil {
		d.manager.Close()
	}
	if d.websocket != nil {
		d.websocket.Close()
	}
	if d.events != nil {
		if err := d.events.Close(); err != nil {
			d.log.Error("error closing event transport", "error", err)
		}
	}
	if d.closeSource != nil {
		d.closeSource()
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.log.Error("error closing storage", "error", err)
		}
	}
	if d.tracingShutdown != nil {
		if err := d.tracingShutdown(ctx); err != nil {
			d.log.Error("error shutting down tracing", "error", err)
		}
	}
}
