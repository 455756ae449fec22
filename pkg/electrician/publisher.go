// pkg/electrician/publisher.go
package electrician

// Publisher forwards rendered deliveries over an Electrician ForwardRelay.
// Builder internals are captured by closures, never stored on the struct.

import (
	"context"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joeydtaylor/electrician/pkg/builder"
)

// Options tune the relay connection. OptionsFromEnv fills them from the
// environment; all features are off by default.
type Options struct {
	TLS         bool
	TLSCert     string
	TLSKey      string
	TLSCA       string
	TLSInsecure bool // OAuth token client only; dev use

	Snappy bool
	AESKey string // raw 32 bytes; empty disables AES-GCM

	StaticHeaders map[string]string

	OAuthIssuer   string
	OAuthJWKS     string
	OAuthClientID string
	OAuthSecret   string
	OAuthScopes   []string
	OAuthLeeway   time.Duration
}

// OptionsFromEnv reads:
//
//	ELECTRICIAN_TLS_ENABLE      = "true" | "false"
//	ELECTRICIAN_TLS_CLIENT_CRT  = path (default: keys/tls/client.crt)
//	ELECTRICIAN_TLS_CLIENT_KEY  = path (default: keys/tls/client.key)
//	ELECTRICIAN_TLS_CA          = path (default: keys/tls/ca.crt)
//	ELECTRICIAN_TLS_INSECURE    = "true" | "false"
//	ELECTRICIAN_COMPRESS        = "snappy" | ""
//	ELECTRICIAN_ENCRYPT         = "aesgcm" | ""
//	ELECTRICIAN_AES256_KEY_HEX  = 64 hex chars (32 bytes)
//	ELECTRICIAN_STATIC_HEADERS  = "k=v,k2=v2"
//	OAUTH_ISSUER_BASE, OAUTH_JWKS_URL, OAUTH_CLIENT_ID, OAUTH_CLIENT_SECRET,
//	OAUTH_SCOPES ("s1,s2"), OAUTH_REFRESH_LEEWAY (default 20s)
func OptionsFromEnv() (Options, error) {
	o := Options{
		TLS:           strings.EqualFold(os.Getenv("ELECTRICIAN_TLS_ENABLE"), "true"),
		TLSCert:       envOr("ELECTRICIAN_TLS_CLIENT_CRT", "keys/tls/client.crt"),
		TLSKey:        envOr("ELECTRICIAN_TLS_CLIENT_KEY", "keys/tls/client.key"),
		TLSCA:         envOr("ELECTRICIAN_TLS_CA", "keys/tls/ca.crt"),
		TLSInsecure:   strings.EqualFold(os.Getenv("ELECTRICIAN_TLS_INSECURE"), "true"),
		Snappy:        strings.EqualFold(os.Getenv("ELECTRICIAN_COMPRESS"), "snappy"),
		StaticHeaders: parseKV(os.Getenv("ELECTRICIAN_STATIC_HEADERS")),
		OAuthIssuer:   strings.TrimSpace(os.Getenv("OAUTH_ISSUER_BASE")),
		OAuthJWKS:     strings.TrimSpace(os.Getenv("OAUTH_JWKS_URL")),
		OAuthClientID: strings.TrimSpace(os.Getenv("OAUTH_CLIENT_ID")),
		OAuthSecret:   strings.TrimSpace(os.Getenv("OAUTH_CLIENT_SECRET")),
		OAuthScopes:   splitCSV(os.Getenv("OAUTH_SCOPES")),
		OAuthLeeway:   parseDur(envOr("OAUTH_REFRESH_LEEWAY", "20s")),
	}
	if strings.EqualFold(os.Getenv("ELECTRICIAN_ENCRYPT"), "aesgcm") {
		k := strings.TrimSpace(os.Getenv("ELECTRICIAN_AES256_KEY_HEX"))
		raw, err := hex.DecodeString(k)
		if err != nil || len(raw) != 32 {
			return Options{}, fmt.Errorf("ELECTRICIAN_AES256_KEY_HEX must be 64 hex chars (32 bytes): %w", err)
		}
		o.AESKey = string(raw)
	}
	return o, nil
}

func (o Options) oauthEnabled() bool {
	return o.OAuthIssuer != "" && o.OAuthClientID != "" && o.OAuthSecret != ""
}

// Publisher is a publish-only client for one relay address and topic. The
// relay is started on first use so an unreachable peer does not block boot.
type Publisher struct {
	topic  string
	once   sync.Once
	start  func() error
	submit func(context.Context, []byte) error
	cancel context.CancelFunc
	err    error
}

// NewPublisher wires a wire -> ForwardRelay pipeline toward addr
// ("host:port[,host2:port2]"). The topic rides as a static header.
func NewPublisher(addr, topic string, o Options) (*Publisher, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, errors.New("relay: missing address")
	}
	if topic == "" {
		return nil, errors.New("relay: missing topic")
	}
	targets := splitCSV(addr)

	headers := map[string]string{"topic": topic}
	for k, v := range o.StaticHeaders {
		headers[k] = v
	}

	logger := builder.NewLogger(builder.LoggerWithDevelopment(false))
	ctx, cancel := context.WithCancel(context.Background())
	wire := builder.NewWire[[]byte](ctx, builder.WireWithLogger[[]byte](logger))

	perf := builder.NewPerformanceOptions(o.Snappy, builder.COMPRESS_SNAPPY)
	sec := builder.NewSecurityOptions(o.AESKey != "", builder.ENCRYPTION_AES_GCM)
	tlsCfg := builder.NewTlsClientConfig(
		o.TLS,
		o.TLSCert, o.TLSKey, o.TLSCA,
		tls.VersionTLS13, tls.VersionTLS13,
	)

	var relayStart func(context.Context) error
	if o.oauthEnabled() {
		var authOpts = builder.NewForwardRelayAuthenticationOptionsOAuth2(nil)
		if o.OAuthJWKS != "" {
			authOpts = builder.NewForwardRelayAuthenticationOptionsOAuth2(
				builder.NewForwardRelayOAuth2JWTOptions(o.OAuthIssuer, o.OAuthJWKS, []string{}, o.OAuthScopes, 300),
			)
		}
		authHTTP := &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion:         tls.VersionTLS13,
					MaxVersion:         tls.VersionTLS13,
					InsecureSkipVerify: o.TLSInsecure,
				},
			},
		}
		ts := builder.NewForwardRelayRefreshingClientCredentialsSource(
			o.OAuthIssuer, o.OAuthClientID, o.OAuthSecret, o.OAuthScopes, o.OAuthLeeway, authHTTP,
		)
		relay := builder.NewForwardRelay[[]byte](
			ctx,
			builder.ForwardRelayWithLogger[[]byte](logger),
			builder.ForwardRelayWithTarget[[]byte](targets...),
			builder.ForwardRelayWithPerformanceOptions[[]byte](perf),
			builder.ForwardRelayWithSecurityOptions[[]byte](sec, o.AESKey),
			builder.ForwardRelayWithTLSConfig[[]byte](tlsCfg),
			builder.ForwardRelayWithStaticHeaders[[]byte](headers),
			builder.ForwardRelayWithAuthenticationOptions[[]byte](authOpts),
			builder.ForwardRelayWithOAuthBearer[[]byte](ts),
			builder.ForwardRelayWithInput(wire),
		)
		relayStart = relay.Start
	} else {
		relay := builder.NewForwardRelay[[]byte](
			ctx,
			builder.ForwardRelayWithLogger[[]byte](logger),
			builder.ForwardRelayWithTarget[[]byte](targets...),
			builder.ForwardRelayWithPerformanceOptions[[]byte](perf),
			builder.ForwardRelayWithSecurityOptions[[]byte](sec, o.AESKey),
			builder.ForwardRelayWithTLSConfig[[]byte](tlsCfg),
			builder.ForwardRelayWithStaticHeaders[[]byte](headers),
			builder.ForwardRelayWithInput(wire),
		)
		relayStart = relay.Start
	}

	return &Publisher{
		topic: topic,
		start: func() error {
			if err := wire.Start(ctx); err != nil {
				return fmt.Errorf("relay wire start: %w", err)
			}
			if err := relayStart(ctx); err != nil {
				return fmt.Errorf("relay start: %w", err)
			}
			return nil
		},
		submit: func(ctx context.Context, b []byte) error { return wire.Submit(ctx, b) },
		cancel: cancel,
	}, nil
}

// Publish submits body into the relay pipeline.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	p.once.Do(func() { p.err = p.start() })
	if p.err != nil {
		return p.err
	}
	return p.submit(ctx, body)
}

func (p *Publisher) Topic() string { return p.topic }

// Close stops the pipeline.
func (p *Publisher) Close() error {
	p.cancel()
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if x := strings.TrimSpace(p); x != "" {
			out = append(out, x)
		}
	}
	return out
}

func parseKV(s string) map[string]string {
	if s == "" {
		return nil
	}
	out := map[string]string{}
	for _, kv := range strings.Split(s, ",") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		p := strings.SplitN(kv, "=", 2)
		if len(p) == 2 {
			out[strings.TrimSpace(p[0])] = strings.TrimSpace(p[1])
		}
	}
	return out
}

func parseDur(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	if d == 0 {
		d = 20 * time.Second
	}
	return d
}
