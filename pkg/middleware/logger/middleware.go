package logger

import (
	"bytes"
	"io"
	"net/http"
	"sync"
	"time"

	chimd "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Middleware writes one access-log line per request.
type Middleware struct {
	access *zap.Logger

	bodyMu    sync.RWMutex
	bodyPaths map[string]struct{}
}

func New(access *zap.Logger) *Middleware {
	if access == nil {
		access = zap.NewNop()
	}
	return &Middleware{access: access, bodyPaths: map[string]struct{}{}}
}

func (m *Middleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimd.NewWrapResponseWriter(w, r.ProtoMajor)

		// Peek at most maxLogBody+1 bytes and only when the body may be
		// logged. The handler still reads the full stream, so its own size
		// limit applies.
		var body []byte
		if r.Body != nil && m.pathAllowed(r.URL.Path) {
			b, _ := io.ReadAll(io.LimitReader(r.Body, maxLogBody+1))
			body = b
			r.Body = readCloser{io.MultiReader(bytes.NewReader(b), r.Body), r.Body}
		}

		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}

		start := time.Now()
		defer func() {
			log := m.access.With(
				zap.String("dateTime", start.UTC().Format(time.RFC1123)),
				zap.String("requestId", chimd.GetReqID(r.Context())),
				zap.String("httpScheme", scheme),
				zap.String("httpProto", r.Proto),
				zap.String("httpMethod", r.Method),
				zap.String("remoteAddr", r.RemoteAddr),
				zap.String("uri", r.URL.Path),
				zap.Duration("lat", time.Since(start)),
				zap.Int("responseSize", ww.BytesWritten()),
				zap.Int("status", ww.Status()),
			)

			// Redact by default; allowlist small JSON bodies only.
			if m.shouldLogBody(r, body) {
				log.Info("", zap.ByteString("requestData", body))
			} else {
				log.Info("")
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

func (m *Middleware) pathAllowed(p string) bool {
	m.bodyMu.RLock()
	_, ok := m.bodyPaths[p]
	m.bodyMu.RUnlock()
	return ok
}

type readCloser struct {
	io.Reader
	io.Closer
}
