package serverfx

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/joeydtaylor/hermes/pkg/bundlefx"
	"github.com/joeydtaylor/hermes/pkg/config"
	"github.com/joeydtaylor/hermes/pkg/core"
	"github.com/joeydtaylor/hermes/pkg/dispatch"
	"github.com/joeydtaylor/hermes/pkg/gateway"
	"github.com/joeydtaylor/hermes/pkg/limiter"
	"github.com/joeydtaylor/hermes/pkg/manifest"
	"github.com/joeydtaylor/hermes/pkg/middleware/logger"
	"github.com/joeydtaylor/hermes/pkg/tracing"
)

// Options identify the running service in logs, traces and /health.
type Options struct {
	Service string
	Version string
}

// ---- Config snapshot ----

func provideSnapshot(cfg *config.Config, log *zap.Logger) (*core.Snapshot, error) {
	snap, err := core.LoadSnapshot(cfg.ConfigPath)
	if err != nil {
		for _, ce := range manifest.ConfigErrors(err) {
			log.Error("config error", zap.String("entry", ce.Entry), zap.Error(ce.Err), zap.String("path", cfg.ConfigPath))
		}
		return nil, err
	}
	for _, ep := range snap.Registry.Endpoints() {
		targets := make([]string, 0, len(ep.Targets))
		for _, t := range ep.Targets {
			targets = append(targets, t.Method+" "+t.Raw)
		}
		log.Info("registered", zap.String("endpoint", ep.Key()), zap.Strings("targets", targets))
	}
	log.Info("config loaded",
		zap.String("path", cfg.ConfigPath),
		zap.Int("endpoints", snap.Registry.Len()),
		zap.Int("templates", snap.Store.Len()),
	)
	return snap, nil
}

// ---- Tracing ----

func provideTracing(lc fx.Lifecycle, cfg *config.Config, opts Options) (*tracing.Provider, error) {
	tp, err := tracing.NewProvider(tracing.Config{Exporter: cfg.TracingExporter, ServiceName: opts.Service})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: tp.Shutdown})
	return tp, nil
}

// ---- Dispatch ----

func provideLimiter(cfg *config.Config) *limiter.Limiter {
	return limiter.New(cfg.MaxConcurrentRequests)
}

type dispatcherDeps struct {
	fx.In
	Snap   *core.Snapshot
	Cfg    *config.Config
	Log    *zap.Logger
	Tracer *tracing.Provider
}

func provideDispatcher(lc fx.Lifecycle, d dispatcherDeps) (*dispatch.Dispatcher, error) {
	pol, err := dispatch.PolicyFromSettings(d.Snap.Settings)
	if err != nil {
		return nil, err
	}
	disp, err := dispatch.New(d.Snap.Registry, d.Snap.Store, dispatch.Options{
		Retry:          pol,
		AttemptTimeout: d.Cfg.RequestTimeout,
		Logger:         d.Log.Named("dispatch"),
		Tracer:         d.Tracer.Tracer(),
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return disp.Close() }})
	return disp, nil
}

// ---- Gateway ----

type gatewayDeps struct {
	fx.In
	Opts    Options
	Cfg     *config.Config
	Snap    *core.Snapshot
	Disp    *dispatch.Dispatcher
	Lim     *limiter.Limiter
	LogMW   *logger.Middleware
	Log     *zap.Logger
	Metrics http.Handler `name:"metrics"`
}

func provideGateway(d gatewayDeps) *gateway.Gateway {
	var metricsHandler http.Handler
	if d.Snap.Settings.MetricsEnabled() {
		metricsHandler = d.Metrics
	}
	return gateway.New(d.Snap.Registry, d.Disp, d.Lim, gateway.Options{
		RequestDeadline: d.Cfg.RequestDeadline,
		MaxBodyBytes:    d.Cfg.MaxBodyBytes,
		HealthCheck:     d.Cfg.HealthCheckEnabled,
		Debug:           d.Snap.Settings.DebugEndpoint,
		Metrics:         metricsHandler,
		Access:          d.LogMW,
		Logger:          d.Log.Named("gateway"),
		Service:         d.Opts.Service,
		Version:         d.Opts.Version,
	})
}

func provideApp(g *gateway.Gateway) http.Handler { return g.Handler() }

// ---- Server lifecycle ----

type serverDeps struct {
	fx.In
	Opts    Options
	Cfg     *config.Config
	Logger  *zap.Logger
	Gateway *gateway.Gateway
	App     http.Handler `name:"app"`
}

func registerHooks(lc fx.Lifecycle, d serverDeps) {
	addr := d.Cfg.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      d.App,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: d.Cfg.RequestDeadline + 15*time.Second,
		IdleTimeout:  60 * time.Second,
		TLSConfig:    &tls.Config{MinVersion: tls.VersionTLS13, MaxVersion: tls.VersionTLS13},
	}
	useTLS := d.Cfg.TLSEnabled()

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if useTLS {
				d.Logger.Info("server starting (TLS)",
					zap.String("service", d.Opts.Service),
					zap.String("addr", addr),
					zap.String("cert", d.Cfg.TLSCert),
				)
				go func() {
					if err := srv.ListenAndServeTLS(d.Cfg.TLSCert, d.Cfg.TLSKey); err != nil && !errors.Is(err, http.ErrServerClosed) {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
			} else {
				d.Logger.Info("server starting (PLAINTEXT)",
					zap.String("service", d.Opts.Service),
					zap.String("addr", addr),
				)
				go func() {
					srv.TLSConfig = nil
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Logger.Info("server stopping",
				zap.String("service", d.Opts.Service),
				zap.Int("inFlight", d.Gateway.InFlight()),
				zap.Duration("grace", d.Cfg.ShutdownGrace),
			)
			return shutdown(ctx, srv, d.Gateway, d.Cfg.ShutdownGrace, d.Logger)
		},
	})
}

// shutdown stops admission, waits up to grace for in-flight requests, then
// cancels whatever is left.
func shutdown(ctx context.Context, srv *http.Server, g *gateway.Gateway, grace time.Duration, log *zap.Logger) error {
	g.Drain()
	graceCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	err := srv.Shutdown(graceCtx)
	if err == nil {
		return nil
	}
	log.Warn("grace period elapsed, cancelling in-flight dispatches",
		zap.Int("inFlight", g.InFlight()), zap.Error(err))
	g.Abort()
	return srv.Close()
}

// ---- Public Fx module ----

func Module(opts Options) fx.Option {
	if opts.Service == "" {
		opts.Service = "hermes"
	}
	return fx.Options(
		fx.Supply(opts),
		fx.Provide(config.Load),

		// Loggers, access log middleware, named "metrics" handler
		bundlefx.Module,

		fx.Provide(
			provideTracing,
			provideSnapshot,
			provideLimiter,
			provideDispatcher,
			provideGateway,
			fx.Annotate(provideApp, fx.ResultTags(`name:"app"`)),
		),

		fx.Invoke(registerHooks),
	)
}
