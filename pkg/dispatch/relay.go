package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/joeydtaylor/hermes/pkg/electrician"
	"github.com/joeydtaylor/hermes/pkg/registry"
)

// relaySender forwards to an Electrician receiver. Target form:
//
//	relay://host:port/topic
//
// The relay only carries headers fixed at connect time, so the target's
// configured headers ride as static headers and per-delivery headers are
// not sent. Credentials come from the relay OAuth environment.
type relaySender struct {
	pub *electrician.Publisher
}

func newRelaySender(t *registry.Target) (Sender, error) {
	opts, err := electrician.OptionsFromEnv()
	if err != nil {
		return nil, fmt.Errorf("relay target %q: %w", t.Raw, err)
	}
	opts.StaticHeaders = relayHeaders(opts.StaticHeaders, t.Headers)
	pub, err := electrician.NewPublisher(t.URL.Host, strings.Trim(t.URL.Path, "/"), opts)
	if err != nil {
		return nil, fmt.Errorf("relay target %q: %w", t.Raw, err)
	}
	return &relaySender{pub: pub}, nil
}

func (s *relaySender) Send(ctx context.Context, m Message) (int, error) {
	return 0, s.pub.Publish(ctx, m.Body)
}

func (s *relaySender) Close() error { return s.pub.Close() }

// relayHeaders merges target headers over the environment defaults.
func relayHeaders(env, target map[string]string) map[string]string {
	out := make(map[string]string, len(env)+len(target))
	for k, v := range env {
		out[k] = v
	}
	for k, v := range target {
		out[k] = v
	}
	return out
}
