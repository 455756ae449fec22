package logger

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestAccessLogFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := New(zap.New(core))
	m.AddBodyLogPaths("/webhook/github")

	var seen string
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		seen = string(b)
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(`{"a":1}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, `{"a":1}`, seen, "body restored for the handler")
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(http.StatusAccepted), fields["status"])
	assert.Equal(t, "/webhook/github", fields["uri"])
	assert.Equal(t, "POST", fields["httpMethod"])
	assert.Equal(t, `{"a":1}`, fields["requestData"])
}

func TestAccessLogRedactsByDefault(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := New(zap.New(core))

	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodPost, "/other", strings.NewReader(`{"secret":true}`))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1, logs.Len())
	_, logged := logs.All()[0].ContextMap()["requestData"]
	assert.False(t, logged)
}

func TestAccessLogBuffersBoundedPrefix(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	m := New(zap.New(core))
	m.AddBodyLogPaths("/webhook/github")

	large := `{"pad":"` + strings.Repeat("x", 2*maxLogBody) + `"}`
	var seen int
	var limited bool
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 1024)
		b, err := io.ReadAll(r.Body)
		seen = len(b)
		var mbe *http.MaxBytesError
		limited = errors.As(err, &mbe)
	}))

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(large))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, limited, "handler limit still applies")
	assert.Equal(t, 1024, seen)
	require.Equal(t, 1, logs.Len())
	_, logged := logs.All()[0].ContextMap()["requestData"]
	assert.False(t, logged, "oversized body is not logged")

	var full int
	h = m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		full = len(b)
	}))
	req = httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(large))
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, len(large), full, "prefix and remainder are rejoined")
}

func TestNewLogWritesFile(t *testing.T) {
	dir := t.TempDir()
	l := NewLog(Options{Dir: dir, Level: "warn"}, "system.log")
	l.Info("", zap.String("d", "dropped"))
	l.Warn("", zap.String("k", "v"))
	_ = l.Sync()

	b, err := os.ReadFile(filepath.Join(dir, "system.log"))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"k":"v"`)
	assert.NotContains(t, string(b), "dropped")
}
