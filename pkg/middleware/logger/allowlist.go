package logger

import (
	"net/http"
	"strings"

	"github.com/joeydtaylor/hermes/pkg/codec"
)

// AddBodyLogPaths marks exact paths whose small JSON bodies are logged.
func (m *Middleware) AddBodyLogPaths(paths ...string) {
	m.bodyMu.Lock()
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p != "" {
			m.bodyPaths[p] = struct{}{}
		}
	}
	m.bodyMu.Unlock()
}

// maxLogBody caps both the logged body and how much of it is buffered.
const maxLogBody = 1 << 16

// Only log small JSON request bodies on allowlisted routes.
func (m *Middleware) shouldLogBody(r *http.Request, body []byte) bool {
	if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodPatch {
		return false
	}
	if len(body) == 0 || len(body) > maxLogBody {
		return false
	}
	if !codec.IsJSON(r.Header.Get("Content-Type")) {
		return false
	}
	m.bodyMu.RLock()
	_, ok := m.bodyPaths[r.URL.Path]
	m.bodyMu.RUnlock()
	return ok
}
