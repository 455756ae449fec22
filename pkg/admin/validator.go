// Package admin is the offline operator surface: configuration checks and
// dry-run rendering. Nothing here sends to a target.
package admin

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joeydtaylor/hermes/pkg/codec"
	"github.com/joeydtaylor/hermes/pkg/core"
	"github.com/joeydtaylor/hermes/pkg/manifest"
	"github.com/joeydtaylor/hermes/pkg/template"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

type Issue struct {
	Severity Severity `json:"severity"`
	Entry    string   `json:"entry"`
	Message  string   `json:"message"`
}

func (i Issue) String() string { return fmt.Sprintf("%s: %s: %s", i.Severity, i.Entry, i.Message) }

// Report is the outcome of ValidateConfig. OK is false when any issue has
// error severity.
type Report struct {
	OK        bool    `json:"ok"`
	Endpoints int     `json:"endpoints"`
	Templates int     `json:"templates"`
	Issues    []Issue `json:"issues,omitempty"`
}

// ValidateConfig checks a parsed document the same way startup does and
// reports every problem found.
func ValidateConfig(cfg manifest.Config) Report {
	var rep Report
	for i, ep := range cfg.Endpoints {
		p := strings.TrimSpace(ep.Path)
		if p != "" && !strings.HasPrefix(p, "/") {
			rep.Issues = append(rep.Issues, Issue{
				Severity: SeverityWarning,
				Entry:    fmt.Sprintf("endpoint %d", i),
				Message:  fmt.Sprintf("path %q should start with '/'", ep.Path),
			})
		}
	}

	eps := make([]manifest.Endpoint, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		eps[i] = ep.Clone()
	}
	cfg.Endpoints = eps
	snap, err := core.Build(cfg)
	for _, ce := range manifest.ConfigErrors(err) {
		rep.Issues = append(rep.Issues, Issue{Severity: SeverityError, Entry: ce.Entry, Message: ce.Err.Error()})
	}
	if snap != nil {
		rep.Endpoints = snap.Registry.Len()
		rep.Templates = snap.Store.Len()
	}
	rep.OK = err == nil
	return rep
}

// EndpointSummary is one row of ListEndpoints.
type EndpointSummary struct {
	Method   string   `json:"method"`
	Path     string   `json:"path"`
	Template string   `json:"template"`
	Targets  []string `json:"targets"`
}

// Validator dry-runs templates against a built snapshot.
type Validator struct {
	snap *core.Snapshot
	now  func() time.Time
}

func New(snap *core.Snapshot) *Validator {
	return &Validator{snap: snap, now: time.Now}
}

// Load builds a Validator from the document at path.
func Load(path string) (*Validator, error) {
	snap, err := core.LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return New(snap), nil
}

// TestTemplate renders template id with a JSON sample payload.
func (v *Validator) TestTemplate(id string, payload []byte) ([]byte, error) {
	p, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	return v.snap.Store.Render(id, template.Context{Payload: p, Received: v.now().UTC()})
}

// TestEndpoint renders the template bound to method and path exactly as a
// live request would, including JSON validation for JSON content types.
func (v *Validator) TestEndpoint(method, path string, payload []byte) ([]byte, error) {
	ep, ok := v.snap.Endpoint(strings.ToUpper(method), path)
	if !ok {
		return nil, fmt.Errorf("endpoint %s %s not found", strings.ToUpper(method), path)
	}
	p, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}
	rc := template.Context{Payload: p, Method: ep.Method, Path: ep.Path, Received: v.now().UTC()}
	return v.snap.Store.RenderFor(ep.TemplateID, rc, ep.ContentType)
}

// ListEndpoints returns the registry in declaration order.
func (v *Validator) ListEndpoints() []EndpointSummary {
	eps := v.snap.Registry.Endpoints()
	out := make([]EndpointSummary, 0, len(eps))
	for _, ep := range eps {
		s := EndpointSummary{Method: ep.Method, Path: ep.Path, Template: ep.TemplateID}
		for _, t := range ep.Targets {
			s.Targets = append(s.Targets, t.Method+" "+t.Raw)
		}
		out = append(out, s)
	}
	return out
}

// ErrEmptyPayload is returned when no sample payload was given.
var ErrEmptyPayload = errors.New("payload is empty")

func decodePayload(b []byte) (any, error) {
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, ErrEmptyPayload
	}
	var v any
	if err := codec.JSONPayload.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	return v, nil
}
