package manifest

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/multierr"
)

// Endpoint describes a single inbound webhook route and where it forwards.
type Endpoint struct {
	Method         string       `toml:"method" yaml:"method"`
	Path           string       `toml:"path" yaml:"path"`
	Template       string       `toml:"template" yaml:"template"`
	TemplateInline string       `toml:"template_inline" yaml:"template_inline"`
	ContentType    string       `toml:"content_type" yaml:"content_type"`
	TimeoutMS      int          `toml:"timeout_ms" yaml:"timeout_ms"`
	Retry          *RetryPolicy `toml:"retry" yaml:"retry"`
	RateLimit      *RateLimit   `toml:"rate_limit" yaml:"rate_limit"`
	Breaker        *Breaker     `toml:"breaker" yaml:"breaker"`
	ForwardHeaders []string     `toml:"forward_headers" yaml:"forward_headers"`
	LogBody        bool         `toml:"log_body" yaml:"log_body"`
	Tags           []string     `toml:"tags" yaml:"tags"`
	Targets        []Target     `toml:"target" yaml:"targets"`
}

// Entry names the endpoint for error messages.
func (e *Endpoint) Entry(i int) string {
	return fmt.Sprintf("endpoint %d (%s %s)", i, e.Method, e.Path)
}

// Clone returns a deep copy; normalizing the copy leaves e untouched.
func (e Endpoint) Clone() Endpoint {
	c := e
	if e.Retry != nil {
		r := *e.Retry
		r.RetryOn = append([]string(nil), e.Retry.RetryOn...)
		c.Retry = &r
	}
	if e.RateLimit != nil {
		rl := *e.RateLimit
		c.RateLimit = &rl
	}
	if e.Breaker != nil {
		b := *e.Breaker
		c.Breaker = &b
	}
	c.ForwardHeaders = append([]string(nil), e.ForwardHeaders...)
	c.Tags = append([]string(nil), e.Tags...)
	c.Targets = make([]Target, len(e.Targets))
	for i, t := range e.Targets {
		if t.Headers != nil {
			h := make(map[string]string, len(t.Headers))
			for k, v := range t.Headers {
				h[k] = v
			}
			t.Headers = h
		}
		if t.Auth != nil {
			a := *t.Auth
			t.Auth = &a
		}
		c.Targets[i] = t
	}
	return c
}

// InlineTemplateID is the id under which an inline template is compiled.
func InlineTemplateID(method, p string) string {
	return InlineTemplatePrefix + method + " " + p
}

// normalize path/method/content type and resolve the template reference.
func (e *Endpoint) normalize() error {
	if strings.TrimSpace(e.Path) == "" {
		return errors.New("path is required")
	}
	e.Path = strings.TrimSpace(e.Path)
	if !strings.HasPrefix(e.Path, "/") {
		e.Path = "/" + e.Path
	}
	if e.Path != "/" {
		e.Path = path.Clean(e.Path)
	}
	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	if e.Method == "" {
		e.Method = "POST"
	}
	e.ContentType = strings.ToLower(strings.TrimSpace(e.ContentType))
	if e.ContentType == "" {
		e.ContentType = DefaultContentType
	}
	e.Template = strings.TrimSpace(e.Template)
	if e.Template == "" && strings.TrimSpace(e.TemplateInline) != "" {
		e.Template = InlineTemplateID(e.Method, e.Path)
	}
	for i := range e.Targets {
		t := &e.Targets[i]
		t.URL = strings.TrimSpace(t.URL)
		t.Method = strings.ToUpper(strings.TrimSpace(t.Method))
		if t.Method == "" {
			t.Method = "POST"
		}
		if t.Auth != nil {
			t.Auth.Type = strings.ToLower(strings.TrimSpace(t.Auth.Type))
			if t.Auth.Type == "" {
				t.Auth.Type = AuthNone
			}
		}
	}
	return nil
}

// validate fields that are independent of the template store and of other
// endpoints. URI parsing and uniqueness belong to the registry.
func (e *Endpoint) validate() error {
	var errs error

	if !validMethod(e.Method) {
		errs = multierr.Append(errs, fmt.Errorf("method %q invalid", e.Method))
	}
	if strings.ContainsAny(e.Path, "{}*") {
		errs = multierr.Append(errs, errors.New("path must be an exact path (no '{', '}' or '*')"))
	}
	switch {
	case strings.TrimSpace(e.TemplateInline) != "" && !strings.HasPrefix(e.Template, InlineTemplatePrefix):
		errs = multierr.Append(errs, errors.New("template and template_inline are mutually exclusive"))
	case e.Template == "":
		errs = multierr.Append(errs, errors.New("template is required"))
	}
	if e.TimeoutMS < 0 {
		errs = multierr.Append(errs, errors.New("timeout_ms must be >= 0"))
	}

	if len(e.Targets) == 0 {
		errs = multierr.Append(errs, errors.New("at least one target is required"))
	}
	for i, t := range e.Targets {
		if t.URL == "" {
			errs = multierr.Append(errs, fmt.Errorf("target %d: url is required", i))
		}
		if !validMethod(t.Method) {
			errs = multierr.Append(errs, fmt.Errorf("target %d: method %q invalid", i, t.Method))
		}
		if t.TimeoutMS < 0 {
			errs = multierr.Append(errs, fmt.Errorf("target %d: timeout_ms must be >= 0", i))
		}
		if a := t.Auth; a != nil {
			switch a.Type {
			case AuthNone:
			case AuthStaticBearer:
				if strings.TrimSpace(a.TokenEnv) == "" {
					errs = multierr.Append(errs, fmt.Errorf("target %d: auth.token_env required for static-bearer", i))
				}
			case AuthJWT:
				if strings.TrimSpace(a.SecretEnv) == "" {
					errs = multierr.Append(errs, fmt.Errorf("target %d: auth.secret_env required for jwt", i))
				}
				if a.TTLSeconds < 0 {
					errs = multierr.Append(errs, fmt.Errorf("target %d: auth.ttl_seconds must be >= 0", i))
				}
			default:
				errs = multierr.Append(errs, fmt.Errorf("target %d: auth.type %q invalid", i, a.Type))
			}
		}
	}

	if rp := e.Retry; rp != nil {
		if rp.MaxAttempts < 0 {
			errs = multierr.Append(errs, errors.New("retry.max_attempts must be >= 1"))
		}
		if rp.BaseDelayMS < 0 {
			errs = multierr.Append(errs, errors.New("retry.base_delay_ms must be >= 0"))
		}
		if rp.Multiplier != 0 && rp.Multiplier < 1 {
			errs = multierr.Append(errs, errors.New("retry.multiplier must be >= 1"))
		}
		if rp.MaxDelayMS < 0 {
			errs = multierr.Append(errs, errors.New("retry.max_delay_ms must be >= 0"))
		}
		if len(rp.RetryOn) > 0 {
			if _, err := ParseRetryOn(rp.RetryOn); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("retry: %w", err))
			}
		}
	}
	if rl := e.RateLimit; rl != nil {
		if rl.RPS <= 0 {
			errs = multierr.Append(errs, errors.New("rate_limit.rps must be > 0"))
		}
		if rl.Burst < 0 {
			errs = multierr.Append(errs, errors.New("rate_limit.burst must be >= 0"))
		}
	}
	if br := e.Breaker; br != nil {
		if br.FailureRateThreshold <= 0 || br.FailureRateThreshold > 1 {
			errs = multierr.Append(errs, errors.New("breaker.failure_rate_threshold must be in (0,1]"))
		}
		if br.MinRequests < 0 {
			errs = multierr.Append(errs, errors.New("breaker.min_requests must be >= 0"))
		}
		if br.OpenForMS < 0 {
			errs = multierr.Append(errs, errors.New("breaker.open_for_ms must be >= 0"))
		}
	}
	return errs
}

func validMethod(m string) bool {
	for _, v := range Methods {
		if m == v {
			return true
		}
	}
	return false
}
