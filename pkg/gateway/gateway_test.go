package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joeydtaylor/hermes/pkg/core"
	"github.com/joeydtaylor/hermes/pkg/dispatch"
	"github.com/joeydtaylor/hermes/pkg/limiter"
	"github.com/joeydtaylor/hermes/pkg/manifest"
	"github.com/joeydtaylor/hermes/pkg/registry"
	"github.com/joeydtaylor/hermes/pkg/template"
)

const githubTmpl = `{"repo": {{ json .repository.name }}}`

var retryDelayMS = 1

func snapshot(t *testing.T, eps ...manifest.Endpoint) *core.Snapshot {
	t.Helper()
	s, err := core.Build(manifest.Config{
		Settings:  manifest.Settings{RetryAttempts: 3, RetryDelayMS: &retryDelayMS, MaxBackoffMS: 5},
		Templates: map[string]string{"github": githubTmpl},
		Endpoints: eps,
	})
	require.NoError(t, err)
	return s
}

func endpoint(path string, urls ...string) manifest.Endpoint {
	e := manifest.Endpoint{Path: path, Template: "github"}
	for _, u := range urls {
		e.Targets = append(e.Targets, manifest.Target{URL: u})
	}
	return e
}

// stubDispatcher returns a fixed result, optionally blocking until release
// is closed or ctx ends.
type stubDispatcher struct {
	res     dispatch.Result
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
	lastCtx context.Context
	mu      sync.Mutex
}

func (s *stubDispatcher) Dispatch(ctx context.Context, _ *registry.Endpoint, _ template.Context) dispatch.Result {
	s.calls.Add(1)
	s.mu.Lock()
	s.lastCtx = ctx
	s.mu.Unlock()
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return dispatch.Result{Classification: dispatch.AllFailed}
		}
	}
	return s.res
}

func TestHandleMapsClassifications(t *testing.T) {
	snap := snapshot(t, endpoint("/hook", "http://x.internal/a", "http://x.internal/b"))
	cases := []struct {
		res    dispatch.Result
		code   int
		status string
	}{
		{dispatch.Result{Classification: dispatch.AllSucceeded}, http.StatusOK, StatusOK},
		{dispatch.Result{Classification: dispatch.Partial, Outcomes: []dispatch.Outcome{
			{Index: 0, Status: dispatch.Succeeded},
			{Index: 1, Target: "http://x.internal/b", Status: dispatch.Failed, Err: errors.New("boom")},
		}}, http.StatusMultiStatus, StatusPartial},
		{dispatch.Result{Classification: dispatch.AllFailed}, http.StatusBadGateway, StatusDeliveryFailed},
		{dispatch.Result{Classification: dispatch.RenderFailed, RenderErr: errors.New("missing")}, http.StatusUnprocessableEntity, StatusRenderFailed},
	}
	for _, c := range cases {
		g := New(snap.Registry, &stubDispatcher{res: c.res}, limiter.New(1), Options{Logger: zaptest.NewLogger(t)})
		r := g.Handle(context.Background(), "POST", "/hook", template.Context{})
		assert.Equal(t, c.code, r.Code, c.status)
		assert.Equal(t, c.status, r.Status)
		assert.Equal(t, 0, g.InFlight(), "permit released")
	}

	g := New(snap.Registry, &stubDispatcher{res: cases[1].res}, limiter.New(1), Options{})
	r := g.Handle(context.Background(), "POST", "/hook", template.Context{})
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "target 1 (http://x.internal/b): boom")
}

func TestHandleNotFoundTakesNoPermit(t *testing.T) {
	snap := snapshot(t, endpoint("/hook", "http://x.internal/a"))
	d := &stubDispatcher{}
	lim := limiter.New(1)
	hold, err := lim.Acquire()
	require.NoError(t, err)
	defer hold.Release()

	g := New(snap.Registry, d, lim, Options{})
	r := g.Handle(context.Background(), "POST", "/nope", template.Context{})
	assert.Equal(t, http.StatusNotFound, r.Code)
	r = g.Handle(context.Background(), "GET", "/hook", template.Context{})
	assert.Equal(t, http.StatusNotFound, r.Code)
	assert.Zero(t, d.calls.Load())
}

func TestHandleAppliesRequestDeadline(t *testing.T) {
	snap := snapshot(t, endpoint("/hook", "http://x.internal/a"))
	d := &stubDispatcher{}
	g := New(snap.Registry, d, limiter.New(1), Options{RequestDeadline: time.Minute})
	g.Handle(context.Background(), "POST", "/hook", template.Context{})

	d.mu.Lock()
	defer d.mu.Unlock()
	dl, ok := d.lastCtx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), dl, 5*time.Second)
}

func TestRateLimitedEndpoint(t *testing.T) {
	ep := endpoint("/hook", "http://x.internal/a")
	ep.RateLimit = &manifest.RateLimit{RPS: 0.001, Burst: 1}
	snap := snapshot(t, ep)
	g := New(snap.Registry, &stubDispatcher{res: dispatch.Result{Classification: dispatch.AllSucceeded}}, limiter.New(4), Options{})

	assert.Equal(t, http.StatusOK, g.Handle(context.Background(), "POST", "/hook", template.Context{}).Code)
	r := g.Handle(context.Background(), "POST", "/hook", template.Context{})
	assert.Equal(t, http.StatusTooManyRequests, r.Code)
	assert.Equal(t, time.Second, r.RetryAfter)
}

func TestDrainAndAbort(t *testing.T) {
	snap := snapshot(t, endpoint("/hook", "http://x.internal/a"))
	d := &stubDispatcher{entered: make(chan struct{}, 1), release: make(chan struct{})}
	g := New(snap.Registry, d, limiter.New(2), Options{})

	done := make(chan Response, 1)
	go func() { done <- g.Handle(context.Background(), "POST", "/hook", template.Context{}) }()
	<-d.entered

	g.Drain()
	assert.True(t, g.Draining())
	r := g.Handle(context.Background(), "POST", "/hook", template.Context{})
	assert.Equal(t, http.StatusServiceUnavailable, r.Code)
	assert.Equal(t, StatusUnavailable, r.Status)
	assert.Equal(t, 1, g.InFlight())

	g.Abort()
	select {
	case r := <-done:
		assert.Equal(t, http.StatusBadGateway, r.Code)
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not cancel in-flight dispatch")
	}
	assert.Equal(t, 0, g.InFlight())
}

func TestScenarioOverloadWhileInFlight(t *testing.T) {
	slow := make(chan struct{})
	entered := make(chan struct{}, 1)
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-slow
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(target.Close)

	snap := snapshot(t, endpoint("/webhook/github", target.URL))
	disp, err := dispatch.New(snap.Registry, snap.Store, dispatch.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = disp.Close() })

	srv := httptest.NewServer(New(snap.Registry, disp, limiter.New(1), Options{}).Handler())
	t.Cleanup(srv.Close)

	first := make(chan *http.Response, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/webhook/github", "application/json", strings.NewReader(`{"repository":{"name":"demo"}}`))
		if err == nil {
			first <- resp
		}
		close(first)
	}()
	<-entered

	resp, err := http.Post(srv.URL+"/webhook/github", "application/json", strings.NewReader(`{"repository":{"name":"demo"}}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, StatusOverloaded, body["status"])

	close(slow)
	r1, ok := <-first
	require.True(t, ok)
	defer r1.Body.Close()
	assert.Equal(t, http.StatusOK, r1.StatusCode)
}

func TestHandlerEndToEnd(t *testing.T) {
	var got atomic.Value
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got.Store(string(b))
	}))
	t.Cleanup(target.Close)

	snap := snapshot(t, endpoint("/webhook/github", target.URL))
	disp, err := dispatch.New(snap.Registry, snap.Store, dispatch.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = disp.Close() })
	h := New(snap.Registry, disp, limiter.New(4), Options{HealthCheck: true, Version: "test"}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(`{"repository":{"name":"demo"}}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"repo":"demo"}`, got.Load().(string))
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusOK, resp.Status)
	assert.NotEmpty(t, resp.DeliveryID)
	require.Len(t, resp.Targets, 1)
	assert.Equal(t, 1, resp.Targets[0].Attempts)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(`{bad`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid JSON")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/missing", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"status":"not_found","error":"Endpoint not found"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook/github", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	var health map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "test", health["version"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code, "debug disabled by default")
}

func TestRenderFailureReachesNoTarget(t *testing.T) {
	var hits atomic.Int32
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	t.Cleanup(target.Close)

	snap := snapshot(t, endpoint("/webhook/github", target.URL, target.URL+"/second"))
	disp, err := dispatch.New(snap.Registry, snap.Store, dispatch.Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = disp.Close() })
	srv := httptest.NewServer(New(snap.Registry, disp, limiter.New(2), Options{}).Handler())
	t.Cleanup(srv.Close)

	for _, payload := range []string{`{}`, `{"repository":{}}`} {
		resp, err := http.Post(srv.URL+"/webhook/github", "application/json", strings.NewReader(payload))
		require.NoError(t, err)
		var body Response
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, payload)
		assert.Equal(t, StatusRenderFailed, body.Status, payload)
		assert.Contains(t, body.Error, "repository", payload)
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestBodyLimit(t *testing.T) {
	snap := snapshot(t, endpoint("/hook", "http://x.internal/a"))
	d := &stubDispatcher{}
	h := New(snap.Registry, d, limiter.New(1), Options{MaxBodyBytes: 8}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/hook", strings.NewReader(`{"a":"0123456789"}`)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Zero(t, d.calls.Load())
}

func TestReadyAndDebug(t *testing.T) {
	obs, logs := observer.New(zap.InfoLevel)
	snap := snapshot(t, endpoint("/hook", "http://x.internal/a"))
	g := New(snap.Registry, &stubDispatcher{}, limiter.New(1), Options{HealthCheck: true, Debug: true, Logger: zap.New(obs)})
	h := g.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"config":"ok","endpoints":"1"}}`, rec.Body.String())

	g.Drain()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/debug", strings.NewReader(`{"x":1}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, logs.FilterMessage("debug request payload").Len())
}
