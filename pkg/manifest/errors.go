package manifest

import (
	"errors"

	"go.uber.org/multierr"
)

// ConfigError reports a configuration problem tied to one entry of the
// document. It is fatal at startup.
type ConfigError struct {
	Entry string // e.g. `endpoint 2 (POST /webhook/github)` or `template "push"`
	Err   error
}

func (e *ConfigError) Error() string { return e.Entry + ": " + e.Err.Error() }

func (e *ConfigError) Unwrap() error { return e.Err }

// ConfigErrors flattens a combined error into its *ConfigError parts. Parts
// that are not ConfigErrors are wrapped under the "config" entry.
func ConfigErrors(err error) []*ConfigError {
	var out []*ConfigError
	for _, e := range multierr.Errors(err) {
		var ce *ConfigError
		if errors.As(e, &ce) {
			out = append(out, ce)
			continue
		}
		out = append(out, &ConfigError{Entry: "config", Err: e})
	}
	return out
}
