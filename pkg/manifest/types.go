package manifest

import "time"

// Target schemes understood by the dispatcher.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
	SchemeKafka = "kafka"
	SchemeRelay = "relay"
)

// Downstream credential kinds for TargetAuth.Type.
const (
	AuthNone         = "none"
	AuthStaticBearer = "static-bearer"
	AuthJWT          = "jwt"
)

// DefaultContentType is applied to endpoints that do not declare one.
const DefaultContentType = "application/json"

// InlineTemplatePrefix namespaces templates declared inline on an endpoint.
const InlineTemplatePrefix = "inline:"

// Methods is the fixed verb set accepted for endpoints and targets.
var Methods = []string{"GET", "POST", "PUT", "PATCH", "DELETE"}

// Target is one downstream destination of an endpoint.
type Target struct {
	URL       string            `toml:"url" yaml:"url"`
	Method    string            `toml:"method" yaml:"method"` // outbound verb, default POST
	Headers   map[string]string `toml:"headers" yaml:"headers"`
	TimeoutMS int               `toml:"timeout_ms" yaml:"timeout_ms"`
	Auth      *TargetAuth       `toml:"auth" yaml:"auth"`
}

// TargetAuth describes credentials attached to outbound requests.
type TargetAuth struct {
	Type       string `toml:"type" yaml:"type"`             // "none" | "static-bearer" | "jwt"
	Header     string `toml:"header" yaml:"header"`         // default: Authorization
	TokenEnv   string `toml:"token_env" yaml:"token_env"`   // static-bearer token source
	SecretEnv  string `toml:"secret_env" yaml:"secret_env"` // jwt HS256 secret source
	Issuer     string `toml:"issuer" yaml:"issuer"`
	Audience   string `toml:"audience" yaml:"audience"`
	Subject    string `toml:"subject" yaml:"subject"`
	TTLSeconds int    `toml:"ttl_seconds" yaml:"ttl_seconds"`
}

type RetryPolicy struct {
	MaxAttempts int      `toml:"max_attempts" yaml:"max_attempts"`
	BaseDelayMS int      `toml:"base_delay_ms" yaml:"base_delay_ms"`
	Multiplier  float64  `toml:"multiplier" yaml:"multiplier"`
	MaxDelayMS  int      `toml:"max_delay_ms" yaml:"max_delay_ms"`
	RetryOn     []string `toml:"retry_on" yaml:"retry_on"` // "network", "timeout", "5xx", "429", "500-504"
}

type RateLimit struct {
	RPS   float64 `toml:"rps" yaml:"rps"`
	Burst int     `toml:"burst" yaml:"burst"`
}

type Breaker struct {
	FailureRateThreshold float64 `toml:"failure_rate_threshold" yaml:"failure_rate_threshold"`
	MinRequests          int     `toml:"min_requests" yaml:"min_requests"`
	OpenForMS            int     `toml:"open_for_ms" yaml:"open_for_ms"`
}

// Settings carries document-level defaults.
type Settings struct {
	RetryAttempts     int      `toml:"retry_attempts" yaml:"retry_attempts"`
	RetryDelayMS      *int     `toml:"retry_delay_ms" yaml:"retry_delay_ms"`
	BackoffMultiplier float64  `toml:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxBackoffMS      int      `toml:"max_backoff_ms" yaml:"max_backoff_ms"`
	RetryOn           []string `toml:"retry_on" yaml:"retry_on"`
	EnableMetrics     *bool    `toml:"enable_metrics" yaml:"enable_metrics"`
	DebugEndpoint     bool     `toml:"debug_endpoint" yaml:"debug_endpoint"`
	TemplateDir       string   `toml:"template_dir" yaml:"template_dir"`
}

// RetryDelay is the base backoff delay. Unset means one second; an explicit
// zero retries immediately.
func (s Settings) RetryDelay() time.Duration {
	if s.RetryDelayMS == nil {
		return time.Second
	}
	return time.Duration(*s.RetryDelayMS) * time.Millisecond
}

// MetricsEnabled reports whether /metrics should be served (default true).
func (s Settings) MetricsEnabled() bool {
	return s.EnableMetrics == nil || *s.EnableMetrics
}
