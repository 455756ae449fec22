package gateway

import (
	"io"
	"net/http"
	"strconv"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/joeydtaylor/hermes/pkg/codec"
	hmetrics "github.com/joeydtaylor/hermes/pkg/middleware/metrics"
	"github.com/joeydtaylor/hermes/pkg/registry"
	"github.com/joeydtaylor/hermes/pkg/template"
	httpx "github.com/joeydtaylor/hermes/pkg/transport/httpx"
)

var reservedPaths = map[string]bool{"/health": true, "/ready": true, "/metrics": true, "/ping": true, "/debug": true}

// Handler builds the HTTP surface: one exact route per endpoint plus the
// operational routes.
func (g *Gateway) Handler() http.Handler {
	r := httpx.NewChi()
	r.Use(chimd.RequestID, chimd.RealIP, chimd.Recoverer, chimd.Heartbeat("/ping"))
	if g.opts.Access != nil {
		r.Use(g.opts.Access.Middleware)
	}
	hmetrics.AddMetricsSkipPaths("/health", "/ready")
	r.Use(hmetrics.Collect)

	for _, ep := range g.reg.Endpoints() {
		if reservedPaths[ep.Path] {
			g.log.Warn("endpoint shadows a built-in route", zap.String("endpoint", ep.Key()))
		}
		if ep.LogBody && g.opts.Access != nil {
			g.opts.Access.AddBodyLogPaths(ep.Path)
		}
		r.Handle(ep.Method, ep.Path, g.endpointHandler(ep))
	}

	if g.opts.HealthCheck {
		r.Get("/health", http.HandlerFunc(g.health))
		r.Get("/ready", http.HandlerFunc(g.ready))
	}
	if g.opts.Metrics != nil {
		r.Get("/metrics", g.opts.Metrics)
	}
	if g.opts.Debug {
		r.Post("/debug", http.HandlerFunc(g.debug))
	}
	r.NotFound(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hmetrics.Rejected("not_found")
		writeResponse(w, errorResponse(http.StatusNotFound, StatusNotFound, "Endpoint not found"))
	}))
	r.MethodNotAllowed(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, errorResponse(http.StatusMethodNotAllowed, StatusNotAllowed, "method not allowed"))
	}))
	g.log.Debug("routes", zap.Strings("routes", r.Routes()))
	return r.Mux()
}

func (g *Gateway) endpointHandler(ep *registry.Endpoint) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received := time.Now().UTC()
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.opts.MaxBodyBytes))
		if err != nil {
			writeResponse(w, bodyError(err))
			return
		}
		var payload any
		if err := codec.JSONPayload.Unmarshal(body, &payload); err != nil {
			writeResponse(w, bodyError(err))
			return
		}

		rc := template.Context{
			Payload:  payload,
			Method:   r.Method,
			Path:     ep.Path,
			Headers:  r.Header.Clone(),
			Query:    r.URL.Query(),
			Received: received,
		}
		writeResponse(w, g.Handle(r.Context(), ep.Method, ep.Path, rc))
	})
}

func (g *Gateway) health(w http.ResponseWriter, _ *http.Request) {
	b, _ := codec.JSONStrict.Marshal(map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   g.opts.Service,
		"version":   g.opts.Version,
	})
	writeJSON(w, b, http.StatusOK)
}

func (g *Gateway) ready(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]string{"config": "ok", "endpoints": strconv.Itoa(g.reg.Len())}
	status, code := "ready", http.StatusOK
	if g.draining.Load() {
		checks["admission"] = "draining"
		status, code = "draining", http.StatusServiceUnavailable
	}
	b, _ := codec.JSONStrict.Marshal(map[string]any{"status": status, "checks": checks})
	writeJSON(w, b, code)
}

func (g *Gateway) debug(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.opts.MaxBodyBytes))
	if err != nil {
		writeResponse(w, bodyError(err))
		return
	}
	g.log.Info("debug request payload", zap.ByteString("payload", body))
	writeJSON(w, []byte(`{"status":"success","message":"Payload logged"}`), http.StatusOK)
}
