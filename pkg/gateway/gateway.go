// Package gateway admits inbound webhook requests, dispatches them and maps
// the aggregated delivery result onto an HTTP response.
package gateway

import (
	"context"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/joeydtaylor/hermes/pkg/dispatch"
	"github.com/joeydtaylor/hermes/pkg/limiter"
	"github.com/joeydtaylor/hermes/pkg/middleware/logger"
	hmetrics "github.com/joeydtaylor/hermes/pkg/middleware/metrics"
	"github.com/joeydtaylor/hermes/pkg/registry"
	"github.com/joeydtaylor/hermes/pkg/template"
)

const (
	defaultDeadline     = 60 * time.Second
	defaultMaxBodyBytes = 1 << 20
	defaultRetryAfter   = time.Second
)

// Dispatcher is the part of dispatch.Dispatcher the gateway needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, ep *registry.Endpoint, rc template.Context) dispatch.Result
}

type Options struct {
	// RequestDeadline bounds one whole dispatch, retries included.
	RequestDeadline time.Duration
	MaxBodyBytes    int64
	// RetryAfter is advertised on 503 overload responses.
	RetryAfter  time.Duration
	HealthCheck bool
	Debug       bool
	// Metrics is served on GET /metrics when set.
	Metrics http.Handler
	Access  *logger.Middleware
	Logger  *zap.Logger
	Service string
	Version string
}

type Gateway struct {
	reg   *registry.Registry
	disp  Dispatcher
	lim   *limiter.Limiter
	rates map[string]*rate.Limiter
	opts  Options
	log   *zap.Logger

	draining   atomic.Bool
	hard       context.Context
	hardCancel context.CancelFunc
}

func New(reg *registry.Registry, disp Dispatcher, lim *limiter.Limiter, opts Options) *Gateway {
	if opts.RequestDeadline <= 0 {
		opts.RequestDeadline = defaultDeadline
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = defaultRetryAfter
	}
	if opts.Service == "" {
		opts.Service = "hermes"
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	g := &Gateway{
		reg:   reg,
		disp:  disp,
		lim:   lim,
		rates: map[string]*rate.Limiter{},
		opts:  opts,
		log:   opts.Logger,
	}
	g.hard, g.hardCancel = context.WithCancel(context.Background())
	for _, ep := range reg.Endpoints() {
		if rl := ep.RateLimit; rl != nil && rl.RPS > 0 {
			burst := rl.Burst
			if burst < 1 {
				burst = 1
			}
			g.rates[ep.Key()] = rate.NewLimiter(rate.Limit(rl.RPS), burst)
		}
	}
	return g
}

// Handle runs one request through lookup, admission and dispatch. The
// permit, when taken, is released exactly once before Handle returns.
func (g *Gateway) Handle(ctx context.Context, method, path string, rc template.Context) Response {
	ep, ok := g.reg.Lookup(method, path)
	if !ok {
		hmetrics.Rejected("not_found")
		return errorResponse(http.StatusNotFound, StatusNotFound, "Endpoint not found")
	}
	if g.draining.Load() {
		hmetrics.Rejected("draining")
		return errorResponse(http.StatusServiceUnavailable, StatusUnavailable, "gateway is shutting down")
	}
	if rl := g.rates[ep.Key()]; rl != nil && !rl.Allow() {
		hmetrics.Rejected("rate_limited")
		r := errorResponse(http.StatusTooManyRequests, StatusRateLimited, "endpoint rate limit exceeded")
		r.RetryAfter = g.opts.RetryAfter
		return r
	}

	permit, err := g.lim.Acquire()
	if err != nil {
		hmetrics.Rejected("overloaded")
		r := errorResponse(http.StatusServiceUnavailable, StatusOverloaded, err.Error())
		r.RetryAfter = g.opts.RetryAfter
		return r
	}
	hmetrics.SetInFlight(g.lim.InFlight())
	defer func() {
		permit.Release()
		hmetrics.SetInFlight(g.lim.InFlight())
	}()

	ctx, cancel := context.WithTimeout(ctx, g.opts.RequestDeadline)
	defer cancel()
	stop := context.AfterFunc(g.hard, cancel)
	defer stop()

	res := g.disp.Dispatch(ctx, ep, rc)
	g.logResult(ep, res)
	return fromResult(res)
}

func (g *Gateway) logResult(ep *registry.Endpoint, res dispatch.Result) {
	fields := []zap.Field{
		zap.String("deliveryId", res.DeliveryID),
		zap.String("endpoint", ep.Key()),
		zap.String("classification", string(res.Classification)),
		zap.Duration("elapsed", res.Elapsed),
	}
	switch res.Classification {
	case dispatch.AllSucceeded:
		g.log.Info("dispatched", fields...)
	case dispatch.RenderFailed:
		g.log.Warn("render failed", append(fields, zap.Error(res.RenderErr))...)
	default:
		for _, o := range res.Failed() {
			fields = append(fields, zap.NamedError("target"+strconv.Itoa(o.Index), o.Err))
		}
		g.log.Warn("delivery failures", fields...)
	}
}

// Drain stops admitting new dispatches. In-flight ones continue.
func (g *Gateway) Drain() { g.draining.Store(true) }

// Draining reports whether Drain was called.
func (g *Gateway) Draining() bool { return g.draining.Load() }

// Abort cancels every in-flight dispatch.
func (g *Gateway) Abort() { g.hardCancel() }

// InFlight reports the number of dispatches holding a permit.
func (g *Gateway) InFlight() int { return g.lim.InFlight() }
