package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"

	manifest "github.com/joeydtaylor/hermes/pkg/manifest"
	"github.com/joeydtaylor/hermes/pkg/registry"
	"github.com/joeydtaylor/hermes/pkg/template"
)

// TemplateExt is the file extension picked up from settings.template_dir.
const TemplateExt = ".tmpl"

// Snapshot is the immutable result of compiling a validated document.
type Snapshot struct {
	Settings manifest.Settings
	Store    *template.Store
	Registry *registry.Registry
}

// Build validates cfg, compiles every template the document references and
// loads the endpoint registry. All problems are reported together as
// *manifest.ConfigError values; on any error the snapshot is nil.
func Build(cfg manifest.Config) (*Snapshot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store := template.NewStore()
	var errs error

	for id, src := range templateSources(cfg, &errs) {
		if err := store.Compile(id, src); err != nil {
			errs = multierr.Append(errs, &manifest.ConfigError{Entry: fmt.Sprintf("template %q", id), Err: err})
		}
	}
	if errs != nil {
		return nil, errs
	}

	reg, err := registry.Load(cfg.Endpoints, store)
	if err != nil {
		return nil, err
	}
	return &Snapshot{Settings: cfg.Settings, Store: store, Registry: reg}, nil
}

// LoadSnapshot is LoadConfig followed by Build.
func LoadSnapshot(path string) (*Snapshot, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return Build(cfg)
}

// Endpoint returns the endpoint registered for method and path.
func (s *Snapshot) Endpoint(method, path string) (*registry.Endpoint, bool) {
	return s.Registry.Lookup(method, path)
}

// templateSources merges the templates table, template_dir files and inline
// endpoint templates. The table wins over a file of the same id.
func templateSources(cfg manifest.Config, errs *error) map[string]string {
	out := map[string]string{}

	if dir := cfg.Settings.TemplateDir; dir != "" {
		files, err := filepath.Glob(filepath.Join(dir, "*"+TemplateExt))
		if err != nil {
			*errs = multierr.Append(*errs, &manifest.ConfigError{Entry: "settings.template_dir", Err: err})
		}
		sort.Strings(files)
		for _, f := range files {
			b, err := os.ReadFile(f)
			if err != nil {
				*errs = multierr.Append(*errs, &manifest.ConfigError{Entry: "settings.template_dir", Err: err})
				continue
			}
			out[strings.TrimSuffix(filepath.Base(f), TemplateExt)] = string(b)
		}
		if len(files) == 0 {
			if _, err := os.Stat(dir); err != nil {
				*errs = multierr.Append(*errs, &manifest.ConfigError{Entry: "settings.template_dir", Err: err})
			}
		}
	}

	for id, src := range cfg.Templates {
		out[id] = src
	}

	for i, ep := range cfg.Endpoints {
		if strings.TrimSpace(ep.TemplateInline) == "" {
			continue
		}
		if _, dup := out[ep.Template]; dup {
			*errs = multierr.Append(*errs, &manifest.ConfigError{
				Entry: ep.Entry(i),
				Err:   errors.New("inline template id collides with another template"),
			})
			continue
		}
		out[ep.Template] = ep.TemplateInline
	}
	return out
}
