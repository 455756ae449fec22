package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	manifest "github.com/joeydtaylor/hermes/pkg/manifest"
)

// LoadConfig reads the gateway document at path. Files ending in .yml or
// .yaml are decoded as YAML, everything else as TOML. The returned config is
// normalized and validated.
func LoadConfig(path string) (manifest.Config, error) {
	cfg, err := ReadConfig(path)
	if err != nil {
		return manifest.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return manifest.Config{}, err
	}
	return cfg, nil
}

// ReadConfig decodes the document at path without validating it. A relative
// settings.template_dir is resolved against the document's directory.
func ReadConfig(path string) (manifest.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return manifest.Config{}, err
	}
	cfg, err := ParseConfig(b, filepath.Ext(path))
	if err != nil {
		return manifest.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	if cfg.Settings.TemplateDir != "" && !filepath.IsAbs(cfg.Settings.TemplateDir) {
		cfg.Settings.TemplateDir = filepath.Join(filepath.Dir(path), cfg.Settings.TemplateDir)
	}
	return cfg, nil
}

// ParseConfig decodes a document without validating it. ext selects the
// format the same way LoadConfig does.
func ParseConfig(b []byte, ext string) (manifest.Config, error) {
	var cfg manifest.Config
	switch strings.ToLower(ext) {
	case ".yml", ".yaml":
		dec := yaml.NewDecoder(bytes.NewReader(b))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return manifest.Config{}, fmt.Errorf("decode yaml: %w", err)
		}
	default:
		dec := toml.NewDecoder(bytes.NewReader(b))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return manifest.Config{}, fmt.Errorf("decode toml: %w", err)
		}
	}
	return cfg, nil
}
