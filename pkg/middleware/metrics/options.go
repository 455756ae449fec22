package metrics

import (
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
)

// Unmatched is the uri label for requests that hit no route.
const Unmatched = "unmatched"

var (
	labelMu    sync.RWMutex
	skipPaths  = map[string]struct{}{"/metrics": {}}
	normalizer = RoutePattern
)

// AddMetricsSkipPaths excludes exact paths from collection. /metrics is
// always skipped.
func AddMetricsSkipPaths(paths ...string) {
	labelMu.Lock()
	defer labelMu.Unlock()
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			skipPaths[p] = struct{}{}
		}
	}
}

// SetPathNormalizer replaces the uri label function. nil restores
// RoutePattern.
func SetPathNormalizer(fn func(*http.Request) string) {
	if fn == nil {
		fn = RoutePattern
	}
	labelMu.Lock()
	normalizer = fn
	labelMu.Unlock()
}

// RoutePattern labels a request with the chi pattern it matched, which keeps
// the label set bounded to configured endpoints.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return Unmatched
}

// uriLabel returns the label for r, or ok=false when r is not collected.
func uriLabel(r *http.Request) (string, bool) {
	labelMu.RLock()
	_, skip := skipPaths[r.URL.Path]
	fn := normalizer
	labelMu.RUnlock()
	if skip {
		return "", false
	}
	return fn(r), true
}
