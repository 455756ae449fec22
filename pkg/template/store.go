// Package template compiles named payload templates at startup and renders
// them per request.
package template

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"text/template"
	"time"

	"github.com/joeydtaylor/hermes/pkg/codec"
)

// ErrUnknownTemplate is wrapped by RenderError when the id was never compiled.
var ErrUnknownTemplate = errors.New("unknown template")

// CompileError is a syntax or registration failure. It is fatal at startup.
type CompileError struct {
	ID  string
	Err error
}

func (e *CompileError) Error() string { return fmt.Sprintf("template %q: compile: %v", e.ID, e.Err) }
func (e *CompileError) Unwrap() error { return e.Err }

// RenderError is a request-scoped failure: a missing field, a type mismatch,
// or output that is not valid for the endpoint content type.
type RenderError struct {
	ID  string
	Err error
}

func (e *RenderError) Error() string { return fmt.Sprintf("template %q: render: %v", e.ID, e.Err) }
func (e *RenderError) Unwrap() error { return e.Err }

// Context is everything a template can see. The template root is the
// payload when it is a JSON object; any other payload is exposed as .data.
type Context struct {
	Payload  any
	Method   string
	Path     string
	Headers  http.Header
	Query    url.Values
	Received time.Time
}

// Store holds compiled templates. Compile is only called while loading;
// after that the store is read-only and safe for concurrent Render calls.
type Store struct {
	tmpls   map[string]*template.Template
	sources map[string]string
}

func NewStore() *Store {
	return &Store{tmpls: map[string]*template.Template{}, sources: map[string]string{}}
}

// Compile parses source under id. Missing map keys are render errors.
func (s *Store) Compile(id, source string) error {
	if id == "" {
		return &CompileError{ID: id, Err: errors.New("empty id")}
	}
	if _, dup := s.tmpls[id]; dup {
		return &CompileError{ID: id, Err: errors.New("duplicate id")}
	}
	t, err := template.New(id).
		Option("missingkey=error").
		Funcs(placeholderFuncs()).
		Parse(source)
	if err != nil {
		return &CompileError{ID: id, Err: err}
	}
	s.tmpls[id] = t
	s.sources[id] = source
	return nil
}

func (s *Store) Has(id string) bool {
	_, ok := s.tmpls[id]
	return ok
}

// Source returns the text a template was compiled from.
func (s *Store) Source(id string) (string, bool) {
	src, ok := s.sources[id]
	return src, ok
}

// IDs lists compiled template ids, sorted.
func (s *Store) IDs() []string {
	out := make([]string, 0, len(s.tmpls))
	for id := range s.tmpls {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Store) Len() int { return len(s.tmpls) }

// Render executes template id against rc. The same template and context
// always yield the same bytes.
func (s *Store) Render(id string, rc Context) ([]byte, error) {
	t, ok := s.tmpls[id]
	if !ok {
		return nil, &RenderError{ID: id, Err: ErrUnknownTemplate}
	}
	root := rootOf(rc.Payload)

	// Bind the request-scoped funcs on a private copy; the compiled
	// template is never mutated after Compile. Clone does not carry
	// options over, so missingkey is set again.
	c, err := t.Clone()
	if err != nil {
		return nil, &RenderError{ID: id, Err: err}
	}
	c.Option("missingkey=error").Funcs(requestFuncs(root, rc))

	var buf bytes.Buffer
	if err := c.Execute(&buf, root); err != nil {
		return nil, &RenderError{ID: id, Err: err}
	}
	return buf.Bytes(), nil
}

// RenderFor renders and, for JSON content types, requires the output to be
// exactly one JSON value which is returned compacted.
func (s *Store) RenderFor(id string, rc Context, contentType string) ([]byte, error) {
	out, err := s.Render(id, rc)
	if err != nil {
		return nil, err
	}
	if !codec.IsJSON(contentType) {
		return out, nil
	}
	compact, err := codec.Compact(out)
	if err != nil {
		return nil, &RenderError{ID: id, Err: fmt.Errorf("output is not valid JSON: %w", err)}
	}
	return compact, nil
}

func rootOf(payload any) any {
	if m, ok := payload.(map[string]any); ok {
		return m
	}
	return map[string]any{"data": payload}
}
