// Package dispatch renders a payload once and delivers it to every target of
// an endpoint, each target under its own retry loop.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/joeydtaylor/hermes/pkg/registry"
	"github.com/joeydtaylor/hermes/pkg/template"
)

const (
	HeaderRequestID  = "X-Request-Id"
	HeaderDeliveryID = "X-Hermes-Delivery"

	defaultAttemptTimeout = 30 * time.Second
)

type Options struct {
	// Retry is the gateway default; endpoints may override fields.
	Retry Policy
	// AttemptTimeout applies when neither target nor endpoint set one.
	AttemptTimeout time.Duration
	HTTPClient     *http.Client
	// Senders replaces the sender factory for a scheme.
	Senders map[string]Factory
	Logger  *zap.Logger
	Tracer  trace.Tracer
}

// link is everything needed to deliver to one target. Links are built once
// and never mutated; breakers synchronize internally.
type link struct {
	target  *registry.Target
	sender  Sender
	breaker *gobreaker.CircuitBreaker
	creds   credentials
}

type Dispatcher struct {
	store  *template.Store
	opts   Options
	log    *zap.Logger
	tracer trace.Tracer
	links  map[string][]*link
}

// New prepares senders, credentials and breakers for every target in reg.
func New(reg *registry.Registry, store *template.Store, opts Options) (*Dispatcher, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.AttemptTimeout <= 0 {
		opts.AttemptTimeout = defaultAttemptTimeout
	}
	opts.Retry = opts.Retry.normalized()
	d := &Dispatcher{
		store:  store,
		opts:   opts,
		log:    opts.Logger,
		tracer: opts.Tracer,
		links:  make(map[string][]*link, reg.Len()),
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	if d.tracer == nil {
		d.tracer = otel.Tracer("github.com/joeydtaylor/hermes/pkg/dispatch")
	}

	factories := defaultFactories(opts.HTTPClient)
	for scheme, f := range opts.Senders {
		factories[scheme] = f
	}

	var errs error
	for _, ep := range reg.Endpoints() {
		links := make([]*link, 0, len(ep.Targets))
		for i := range ep.Targets {
			t := &ep.Targets[i]
			f, ok := factories[t.Scheme()]
			if !ok {
				errs = multierr.Append(errs, fmt.Errorf("%s target %d: no sender for scheme %q", ep.Key(), i, t.Scheme()))
				continue
			}
			s, err := f(t)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s target %d: %w", ep.Key(), i, err))
				continue
			}
			c, err := newCredentials(t.Auth)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s target %d: %w", ep.Key(), i, err))
				_ = s.Close()
				continue
			}
			links = append(links, &link{target: t, sender: s, creds: c, breaker: newBreaker(ep, t)})
		}
		d.links[ep.Key()] = links
	}
	if errs != nil {
		_ = d.Close()
		return nil, errs
	}
	return d, nil
}

// Close releases broker connections.
func (d *Dispatcher) Close() error {
	var errs error
	for _, ls := range d.links {
		for _, l := range ls {
			errs = multierr.Append(errs, l.sender.Close())
		}
	}
	return errs
}

// Dispatch renders once and fans out. It always returns a finalized Result;
// when ctx ends, outstanding targets are reported as failed.
func (d *Dispatcher) Dispatch(ctx context.Context, ep *registry.Endpoint, rc template.Context) Result {
	start := time.Now()
	res := Result{DeliveryID: uuid.NewString()}

	ctx, span := d.tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("hermes.endpoint", ep.Key()),
		attribute.String("hermes.delivery_id", res.DeliveryID),
		attribute.Int("hermes.targets", len(ep.Targets)),
	))
	defer span.End()

	body, err := d.store.RenderFor(ep.TemplateID, rc, ep.ContentType)
	if err != nil {
		res.Classification = RenderFailed
		res.RenderErr = err
		res.Elapsed = time.Since(start)
		span.RecordError(err)
		span.SetStatus(codes.Error, "render failed")
		resultsTotal.WithLabelValues(ep.Key(), string(res.Classification)).Inc()
		d.log.Warn("render failed",
			zap.String("endpoint", ep.Key()),
			zap.String("template", ep.TemplateID),
			zap.Error(err),
		)
		return res
	}

	links, ok := d.links[ep.Key()]
	if !ok || len(links) != len(ep.Targets) {
		res.Outcomes = make([]Outcome, len(ep.Targets))
		for i, t := range ep.Targets {
			res.Outcomes[i] = Outcome{Index: t.Index, Target: t.Raw, Status: Failed,
				Err: &DeliveryError{Class: ClassConfig, Err: errors.New("endpoint not prepared by dispatcher")}}
		}
		res.Classification = AllFailed
		res.Elapsed = time.Since(start)
		return res
	}

	pol := d.opts.Retry.Merge(ep.Retry)
	hdr := d.baseHeaders(ctx, ep, rc, res.DeliveryID)

	res.Outcomes = make([]Outcome, len(links))
	var wg sync.WaitGroup
	for i, l := range links {
		wg.Add(1)
		go func(i int, l *link) {
			defer wg.Done()
			// Each goroutine owns exactly one slot.
			res.Outcomes[i] = d.deliver(ctx, ep, l, pol, body, hdr, res.DeliveryID)
		}(i, l)
	}
	wg.Wait()

	res.Classification = classify(res.Outcomes)
	res.Elapsed = time.Since(start)
	resultsTotal.WithLabelValues(ep.Key(), string(res.Classification)).Inc()
	span.SetAttributes(attribute.String("hermes.classification", string(res.Classification)))
	if res.Classification != AllSucceeded {
		span.SetStatus(codes.Error, string(res.Classification))
	}
	return res
}

func (d *Dispatcher) deliver(ctx context.Context, ep *registry.Endpoint, l *link, pol Policy, body []byte, hdr http.Header, deliveryID string) Outcome {
	start := time.Now()
	out := Outcome{Index: l.target.Index, Target: l.target.Raw, Status: Failed}
	bo := pol.backOff()

	for {
		if err := ctx.Err(); err != nil {
			if out.Err == nil {
				out.Err = &DeliveryError{Class: ClassCancelled, Err: err}
			}
			break
		}

		code, err := d.attempt(ctx, ep, l, body, hdr, deliveryID, out.Attempts+1)
		var de *DeliveryError
		if errors.As(err, &de) && de.Class == ClassCircuitOpen {
			out.Err = err
			break
		}
		out.Attempts++
		out.LastStatusCode = code
		if err == nil {
			out.Status = Succeeded
			out.Err = nil
			break
		}
		out.Err = err

		if out.Attempts >= pol.MaxAttempts || !pol.Retryable(err) {
			break
		}
		delay := bo.NextBackOff()
		d.log.Debug("retrying target",
			zap.String("endpoint", ep.Key()),
			zap.Int("target", l.target.Index),
			zap.Int("attempt", out.Attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if wait(ctx, delay) != nil {
			break
		}
	}
	out.Elapsed = time.Since(start)

	if out.Status != Succeeded {
		d.log.Warn("target delivery failed",
			zap.String("endpoint", ep.Key()),
			zap.String("deliveryId", deliveryID),
			zap.Int("target", l.target.Index),
			zap.String("url", l.target.Raw),
			zap.Int("attempts", out.Attempts),
			zap.Int("lastStatus", out.LastStatusCode),
			zap.Error(out.Err),
		)
	}
	return out
}

// attempt performs one bounded send. The returned error is a *DeliveryError.
func (d *Dispatcher) attempt(ctx context.Context, ep *registry.Endpoint, l *link, body []byte, base http.Header, deliveryID string, n int) (int, error) {
	timeout := l.target.Timeout
	if timeout <= 0 {
		timeout = ep.Timeout
	}
	if timeout <= 0 {
		timeout = d.opts.AttemptTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	actx, span := d.tracer.Start(actx, "dispatch.attempt", trace.WithAttributes(
		attribute.Int("hermes.target", l.target.Index),
		attribute.String("hermes.scheme", l.target.Scheme()),
		attribute.Int("hermes.attempt", n),
	))
	defer span.End()

	hdr := base.Clone()
	for k, v := range l.target.Headers {
		hdr.Set(k, v)
	}
	if err := l.creds.apply(hdr, deliveryID, time.Now()); err != nil {
		return 0, &DeliveryError{Class: ClassConfig, Err: err}
	}
	msg := Message{DeliveryID: deliveryID, Method: l.target.Method, Body: body, Headers: hdr}

	started := time.Now()
	send := func() (int, error) {
		code, err := l.sender.Send(actx, msg)
		return code, classifyAttempt(ctx, actx, code, err)
	}

	var code int
	var err error
	if l.breaker != nil {
		var v any
		v, err = l.breaker.Execute(func() (any, error) {
			c, e := send()
			return c, e
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = &DeliveryError{Class: ClassCircuitOpen, Err: err}
		}
		code, _ = v.(int)
	} else {
		code, err = send()
	}

	result := "success"
	if err != nil {
		var de *DeliveryError
		if errors.As(err, &de) {
			result = string(de.Class)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
	}
	if code > 0 {
		span.SetAttributes(attribute.Int("http.response.status_code", code))
	}
	attemptsTotal.WithLabelValues(ep.Key(), l.target.Scheme(), result).Inc()
	attemptDuration.WithLabelValues(l.target.Scheme()).Observe(time.Since(started).Seconds())
	return code, err
}

// classifyAttempt maps a raw send result onto a DeliveryError class. A
// cancelled parent is terminal; an expired attempt deadline is a timeout.
func classifyAttempt(parent, attempt context.Context, code int, err error) error {
	if err != nil {
		if parent.Err() != nil {
			return &DeliveryError{Class: ClassCancelled, Err: err}
		}
		var ne net.Error
		if errors.Is(attempt.Err(), context.DeadlineExceeded) ||
			errors.Is(err, context.DeadlineExceeded) ||
			(errors.As(err, &ne) && ne.Timeout()) {
			return &DeliveryError{Class: ClassTimeout, Err: err}
		}
		return &DeliveryError{Class: ClassNetwork, Err: err}
	}
	if code != 0 && (code < 200 || code > 299) {
		return &DeliveryError{Class: ClassStatus, StatusCode: code}
	}
	return nil
}

func (d *Dispatcher) baseHeaders(ctx context.Context, ep *registry.Endpoint, rc template.Context, deliveryID string) http.Header {
	h := http.Header{}
	for _, name := range ep.ForwardHeaders {
		for _, v := range rc.Headers.Values(name) {
			h.Add(name, v)
		}
	}
	h.Set("Content-Type", ep.ContentType)
	h.Set(HeaderDeliveryID, deliveryID)
	if id := chimd.GetReqID(ctx); id != "" {
		h.Set(HeaderRequestID, id)
	}
	return h
}

func newBreaker(ep *registry.Endpoint, t *registry.Target) *gobreaker.CircuitBreaker {
	b := ep.Breaker
	if b == nil {
		return nil
	}
	minReq := uint32(b.MinRequests)
	if minReq == 0 {
		minReq = 5
	}
	openFor := time.Duration(b.OpenForMS) * time.Millisecond
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	threshold := b.FailureRateThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        ep.Key() + " #" + strconv.Itoa(t.Index),
		MaxRequests: 1,
		Interval:    openFor,
		Timeout:     openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= minReq && float64(c.TotalFailures)/float64(c.Requests) >= threshold
		},
		IsSuccessful: func(err error) bool {
			var de *DeliveryError
			return err == nil || (errors.As(err, &de) && de.Class == ClassCancelled)
		},
	})
}
