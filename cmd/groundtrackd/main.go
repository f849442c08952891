// Command groundtrackd serves live satellite ground tracks over HTTP,
// WebSocket and gRPC.
package main

import (
	"context"
	"errors"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/signalsfoundry/groundtrack/core"
	"github.com/signalsfoundry/groundtrack/internal/feed"
	"github.com/signalsfoundry/groundtrack/internal/httpapi"
	"github.com/signalsfoundry/groundtrack/internal/logging"
	"github.com/signalsfoundry/groundtrack/internal/observability"
	"github.com/signalsfoundry/groundtrack/internal/rpc"
	"github.com/signalsfoundry/groundtrack/internal/service"
	"github.com/signalsfoundry/groundtrack/internal/tracker"
	"github.com/signalsfoundry/groundtrack/timectrl"
)

func main() {
	log := logging.NewFromEnv()

	cfg, err := loadConfig(os.Args[1:], os.Getenv, log)
	if err != nil {
		log.Error(context.Background(), "invalid configuration", logging.Err(err))
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for HTTP", logging.String("addr", cfg.HTTPAddr), logging.Err(err))
		os.Exit(1)
	}
	var grpcLis net.Listener
	if cfg.GRPCAddr != "" {
		grpcLis, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.GRPCAddr), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, log, httpLis, grpcLis); err != nil {
		log.Error(ctx, "groundtrackd exited", logging.Err(err))
		os.Exit(1)
	}
}

// run wires every component and blocks until ctx is cancelled or a server
// fails. grpcLis may be nil.
func run(ctx context.Context, cfg config, log logging.Logger, httpLis, grpcLis net.Listener) error {
	tracing := observability.TracingConfigFromEnv(os.Getenv)
	tracing.Gravity = cfg.Gravity.String()
	tracing.FeedSource = cfg.FeedURL
	tracing.TimeMode = cfg.Mode.String()
	shutdownTracing, err := observability.InitTracing(ctx, tracing, log)
	if err != nil {
		return err
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	svcMetrics, err := observability.NewServiceCollector(reg)
	if err != nil {
		return err
	}
	engMetrics, err := observability.NewEngineCollector(reg)
	if err != nil {
		return err
	}

	tc := timectrl.NewTimeController(cfg.Start, cfg.Tick, cfg.Mode)

	engine := core.NewEngine(
		core.WithGravity(cfg.Gravity),
		core.WithMaxEpochAge(cfg.MaxEpochAge),
		core.WithClock(tc.RequestClock()),
		core.WithObserver(engMetrics),
	)
	cached := core.NewCachedEngine(engine, core.NewTrackCache(0), engMetrics)

	var cache *feed.DiskCache
	if cfg.CacheDir != "" {
		cache = feed.NewDiskCache(cfg.CacheDir, cfg.MaxCacheFiles)
	}
	loader := feed.NewLoader(feed.NewFetcher(cfg.FeedURL, log, feed.WithExtraURLs(cfg.ExtraFeedURLs...)), cache, log)
	cat, err := loader.Load(ctx)
	if err != nil {
		log.Warn(ctx, "starting without a fresh catalog", logging.Err(err))
	}

	tr := tracker.New(engine, cat, cfg.Satellite,
		tracker.WithLogger(log),
		tracker.WithMetricsRecorder(svcMetrics),
		tracker.WithWindow(cfg.Span, cfg.Step),
	)
	svc := service.New(tr, cached,
		service.WithLoader(loader),
		service.WithCatalogMetrics(svcMetrics),
		service.WithLogger(log),
		service.WithClock(tc.RequestClock()),
	)

	tc.AddListener(func(now time.Time) {
		tickCtx, span := observability.StartTick(ctx, now)
		snap := tr.Tick(tickCtx, now)
		observability.EndTick(span, snap.Satellite, string(snap.Status), snap.Reason)
		cached.Cache().Prune()
	})

	httpSrv := httpapi.NewServer(httpapi.Config{
		Addr:          cfg.HTTPAddr,
		RateLimit:     cfg.RateLimit,
		Burst:         cfg.Burst,
		TrustProxy:    cfg.TrustProxy,
		AutocertHosts: cfg.AutocertHosts,
		AutocertDir:   cfg.AutocertDir,
	}, svc, svcMetrics, log)

	errCh := make(chan error, 2)
	go func() {
		log.Info(ctx, "starting HTTP server", logging.String("addr", httpLis.Addr().String()))
		if err := httpSrv.Serve(httpLis); err != nil && !httpapi.IsClosed(err) {
			errCh <- err
		}
	}()

	grpcSrv, health := rpc.NewGRPCServer(rpc.NewServer(svc, log), log, svcMetrics)
	if grpcLis != nil {
		go func() {
			log.Info(ctx, "starting gRPC server", logging.String("addr", grpcLis.Addr().String()))
			if err := grpcSrv.Serve(grpcLis); err != nil {
				errCh <- err
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = tc.Run(runCtx) }()
	if cfg.ReloadEvery > 0 {
		go reloadLoop(runCtx, svc, cfg.ReloadEvery, log)
	}

	log.Info(ctx, "groundtrackd running",
		logging.String("satellite", cfg.Satellite),
		logging.String("mode", cfg.Mode.String()),
		logging.Duration("tick", cfg.Tick),
		logging.Int("catalog", cat.Len()),
	)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}
	cancel()

	log.Info(context.Background(), "shutting down groundtrackd")
	health.Shutdown()
	grpcSrv.GracefulStop()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, err)
	}
	return serveErr
}

// reloadLoop refreshes the catalog on a fixed interval. Failures keep the
// current catalog.
func reloadLoop(ctx context.Context, svc *service.Service, every time.Duration, log logging.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svc.Reload(ctx); err != nil {
				log.Warn(ctx, "scheduled catalog reload failed", logging.Err(err))
			}
		}
	}
}
