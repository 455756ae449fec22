// Package registry maps (method, path) to endpoint definitions. A Registry is
// built once from validated config and is read-only afterwards.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/joeydtaylor/hermes/pkg/manifest"
	"github.com/joeydtaylor/hermes/pkg/template"
)

// Target is one resolved downstream destination.
type Target struct {
	Index   int
	URL     *url.URL
	Raw     string
	Method  string
	Headers map[string]string
	Timeout time.Duration // zero: inherit
	Auth    *manifest.TargetAuth
}

// Scheme is the lower-cased URI scheme; it selects the sender.
func (t *Target) Scheme() string { return t.URL.Scheme }

// RetryOverride carries endpoint-level retry settings. Zero fields inherit
// the dispatcher defaults.
type RetryOverride struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	RetryOn     *manifest.RetryClasses
}

type Endpoint struct {
	Method         string
	Path           string
	TemplateID     string
	ContentType    string
	Timeout        time.Duration // zero: inherit
	Retry          *RetryOverride
	RateLimit      *manifest.RateLimit
	Breaker        *manifest.Breaker
	ForwardHeaders []string
	LogBody        bool
	Tags           []string
	Targets        []Target
}

// Key is the registry key "METHOD path".
func (e *Endpoint) Key() string { return key(e.Method, e.Path) }

type Registry struct {
	byKey map[string]*Endpoint
	order []*Endpoint
}

// Load builds a registry from normalized endpoint definitions. Every problem
// is reported; on any error no registry is returned.
func Load(defs []manifest.Endpoint, store *template.Store) (*Registry, error) {
	if store == nil {
		return nil, errors.New("registry: nil template store")
	}
	r := &Registry{byKey: make(map[string]*Endpoint, len(defs))}
	var errs error

	for i := range defs {
		d := &defs[i]
		entry := d.Entry(i)
		fail := func(err error) {
			errs = multierr.Append(errs, &manifest.ConfigError{Entry: entry, Err: err})
		}

		ep, err := build(d)
		if err != nil {
			for _, e := range multierr.Errors(err) {
				fail(e)
			}
			continue
		}
		if !store.Has(ep.TemplateID) {
			fail(fmt.Errorf("template %q not found", ep.TemplateID))
		}
		k := ep.Key()
		if _, dup := r.byKey[k]; dup {
			fail(fmt.Errorf("duplicate endpoint %s", k))
			continue
		}
		r.byKey[k] = ep
		r.order = append(r.order, ep)
	}
	if errs != nil {
		return nil, errs
	}
	return r, nil
}

// Lookup is an exact match on path; method is case-insensitive.
func (r *Registry) Lookup(method, path string) (*Endpoint, bool) {
	ep, ok := r.byKey[key(strings.ToUpper(method), path)]
	return ep, ok
}

// Endpoints returns definitions in declaration order.
func (r *Registry) Endpoints() []*Endpoint {
	return append([]*Endpoint(nil), r.order...)
}

func (r *Registry) Len() int { return len(r.order) }

func key(method, path string) string { return method + " " + path }

func build(d *manifest.Endpoint) (*Endpoint, error) {
	ep := &Endpoint{
		Method:         strings.ToUpper(d.Method),
		Path:           d.Path,
		TemplateID:     d.Template,
		ContentType:    d.ContentType,
		Timeout:        ms(d.TimeoutMS),
		RateLimit:      d.RateLimit,
		Breaker:        d.Breaker,
		ForwardHeaders: d.ForwardHeaders,
		LogBody:        d.LogBody,
		Tags:           d.Tags,
	}
	if ep.ContentType == "" {
		ep.ContentType = manifest.DefaultContentType
	}
	if ep.Method == "" {
		ep.Method = "POST"
	}

	var errs error
	if d.Retry != nil {
		ro := &RetryOverride{
			MaxAttempts: d.Retry.MaxAttempts,
			BaseDelay:   ms(d.Retry.BaseDelayMS),
			MaxDelay:    ms(d.Retry.MaxDelayMS),
			Multiplier:  d.Retry.Multiplier,
		}
		if len(d.Retry.RetryOn) > 0 {
			rc, err := manifest.ParseRetryOn(d.Retry.RetryOn)
			if err != nil {
				errs = multierr.Append(errs, err)
			}
			ro.RetryOn = &rc
		}
		ep.Retry = ro
	}
	if len(d.Targets) == 0 {
		errs = multierr.Append(errs, errors.New("at least one target is required"))
	}
	for i, td := range d.Targets {
		u, err := parseTargetURL(td.URL)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("target %d: %w", i, err))
			continue
		}
		if u.Scheme == manifest.SchemeRelay && td.Auth != nil && td.Auth.Type != "" && td.Auth.Type != manifest.AuthNone {
			errs = multierr.Append(errs, fmt.Errorf("target %d: auth is not supported on relay targets (use the relay OAuth settings)", i))
			continue
		}
		m := strings.ToUpper(td.Method)
		if m == "" {
			m = "POST"
		}
		ep.Targets = append(ep.Targets, Target{
			Index:   i,
			URL:     u,
			Raw:     td.URL,
			Method:  m,
			Headers: td.Headers,
			Timeout: ms(td.TimeoutMS),
			Auth:    td.Auth,
		})
	}
	return ep, errs
}

func parseTargetURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("url %q: %w", raw, err)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	switch u.Scheme {
	case manifest.SchemeHTTP, manifest.SchemeHTTPS, manifest.SchemeKafka, manifest.SchemeRelay:
	default:
		return nil, fmt.Errorf("url %q: unsupported scheme %q", raw, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("url %q: missing host", raw)
	}
	if (u.Scheme == manifest.SchemeKafka || u.Scheme == manifest.SchemeRelay) && strings.Trim(u.Path, "/") == "" {
		return nil, fmt.Errorf("url %q: missing topic", raw)
	}
	return u, nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
