package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/multierr"
)

// Config is the top-level gateway document.
type Config struct {
	Settings  Settings          `toml:"settings" yaml:"settings"`
	Endpoints []Endpoint        `toml:"endpoint" yaml:"endpoints"`
	Templates map[string]string `toml:"templates" yaml:"templates"`
}

// Validate normalizes every endpoint, applies settings defaults, and reports
// every problem found. The returned error combines *ConfigError values; use
// multierr.Errors to enumerate them.
func (c *Config) Validate() error {
	var errs error

	if len(c.Endpoints) == 0 {
		errs = multierr.Append(errs, &ConfigError{Entry: "config", Err: errors.New("no endpoints defined")})
	}
	for _, err := range multierr.Errors(c.Settings.applyDefaults()) {
		errs = multierr.Append(errs, &ConfigError{Entry: "settings", Err: err})
	}

	for _, id := range c.TemplateIDs() {
		if strings.TrimSpace(id) == "" {
			errs = multierr.Append(errs, &ConfigError{Entry: "templates", Err: errors.New("template id must not be empty")})
		}
		if strings.HasPrefix(id, InlineTemplatePrefix) {
			errs = multierr.Append(errs, &ConfigError{
				Entry: fmt.Sprintf("template %q", id),
				Err:   fmt.Errorf("prefix %q is reserved for inline templates", InlineTemplatePrefix),
			})
		}
	}

	for i := range c.Endpoints {
		if err := c.Endpoints[i].normalize(); err != nil {
			errs = multierr.Append(errs, &ConfigError{Entry: fmt.Sprintf("endpoint %d", i), Err: err})
			continue
		}
		for _, err := range multierr.Errors(c.Endpoints[i].validate()) {
			errs = multierr.Append(errs, &ConfigError{Entry: c.Endpoints[i].Entry(i), Err: err})
		}
	}
	return errs
}

// TemplateIDs returns the ids declared in the templates table, sorted.
func (c *Config) TemplateIDs() []string {
	ids := make([]string, 0, len(c.Templates))
	for id := range c.Templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Settings) applyDefaults() error {
	if s.RetryAttempts == 0 {
		s.RetryAttempts = 3
	}
	if s.RetryDelayMS == nil {
		d := 1000
		s.RetryDelayMS = &d
	}
	if s.BackoffMultiplier == 0 {
		s.BackoffMultiplier = 2.0
	}
	if s.MaxBackoffMS == 0 {
		s.MaxBackoffMS = 30_000
	}
	if len(s.RetryOn) == 0 {
		s.RetryOn = DefaultRetryOn()
	}

	var errs error
	if s.RetryAttempts < 1 {
		errs = multierr.Append(errs, errors.New("retry_attempts must be >= 1"))
	}
	if *s.RetryDelayMS < 0 {
		errs = multierr.Append(errs, errors.New("retry_delay_ms must be >= 0"))
	}
	if s.BackoffMultiplier < 1 {
		errs = multierr.Append(errs, errors.New("backoff_multiplier must be >= 1"))
	}
	if s.MaxBackoffMS < *s.RetryDelayMS {
		errs = multierr.Append(errs, errors.New("max_backoff_ms must be >= retry_delay_ms"))
	}
	if _, err := ParseRetryOn(s.RetryOn); err != nil {
		errs = multierr.Append(errs, err)
	}
	return errs
}
