package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoneIsNoop(t *testing.T) {
	p, err := NewProvider(Config{Exporter: "none"})
	require.NoError(t, err)
	assert.False(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "x")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestStdoutExportsOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewProvider(Config{Exporter: "stdout", ServiceName: "hermes-test", Writer: &buf})
	require.NoError(t, err)
	assert.True(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "dispatch")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"dispatch"`)
}

func TestUnknownExporter(t *testing.T) {
	_, err := NewProvider(Config{Exporter: "zipkin"})
	require.Error(t, err)
}
