package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/joeydtaylor/hermes/pkg/manifest"
	"github.com/joeydtaylor/hermes/pkg/registry"
)

// Message is one rendered delivery attempt.
type Message struct {
	DeliveryID string
	Method     string
	Body       []byte
	Headers    http.Header
}

// Sender delivers to one target. StatusCode is the downstream HTTP status
// for http(s) targets and zero for brokers; err is a transport failure.
type Sender interface {
	Send(ctx context.Context, m Message) (statusCode int, err error)
	Close() error
}

// Factory builds the sender for one target at construction time.
type Factory func(t *registry.Target) (Sender, error)

func defaultFactories(client *http.Client) map[string]Factory {
	h := func(t *registry.Target) (Sender, error) { return &httpSender{client: client, url: t.URL.String()}, nil }
	return map[string]Factory{
		manifest.SchemeHTTP:  h,
		manifest.SchemeHTTPS: h,
		manifest.SchemeKafka: newKafkaSender,
		manifest.SchemeRelay: newRelaySender,
	}
}

type httpSender struct {
	client *http.Client
	url    string
}

func (s *httpSender) Send(ctx context.Context, m Message) (int, error) {
	req, err := http.NewRequestWithContext(ctx, m.Method, s.url, bytes.NewReader(m.Body))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if m.Headers != nil {
		req.Header = m.Headers.Clone()
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	// Drain so the connection returns to the pool.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func (s *httpSender) Close() error { return nil }
