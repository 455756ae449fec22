package httpx

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// Router is the HTTP router contract the gateway builds on. Paths are exact;
// callers never register patterns.
type Router interface {
	Handle(method, path string, h http.Handler)
	Get(path string, h http.Handler)
	Post(path string, h http.Handler)
	NotFound(h http.Handler)
	MethodNotAllowed(h http.Handler)
	Use(mw ...func(http.Handler) http.Handler)
	// Routes lists "METHOD path" for every registered route, sorted.
	Routes() []string
	Mux() http.Handler
}

// chiRouter is the default Router, backed by go-chi.
type chiRouter struct{ mux *chi.Mux }

// NewChi returns a chi-backed Router.
func NewChi() Router { return &chiRouter{mux: chi.NewRouter()} }

func (c *chiRouter) Handle(method, path string, h http.Handler) { c.mux.Method(method, path, h) }

func (c *chiRouter) Get(path string, h http.Handler)  { c.Handle(http.MethodGet, path, h) }
func (c *chiRouter) Post(path string, h http.Handler) { c.Handle(http.MethodPost, path, h) }

func (c *chiRouter) NotFound(h http.Handler)         { c.mux.NotFound(h.ServeHTTP) }
func (c *chiRouter) MethodNotAllowed(h http.Handler) { c.mux.MethodNotAllowed(h.ServeHTTP) }

func (c *chiRouter) Use(mw ...func(http.Handler) http.Handler) { c.mux.Use(mw...) }

func (c *chiRouter) Routes() []string {
	var out []string
	_ = chi.Walk(c.mux, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		out = append(out, method+" "+route)
		return nil
	})
	sort.Strings(out)
	return out
}

func (c *chiRouter) Mux() http.Handler { return c.mux }
