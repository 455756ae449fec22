package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/joeydtaylor/hermes/pkg/codec"
)

func placeholderFuncs() template.FuncMap {
	fm := template.FuncMap{
		"json":    toJSON,
		"default": dflt,
		"lower":   strings.ToLower,
		"upper":   strings.ToUpper,
		"join":    join,
	}
	for k, v := range requestFuncs(nil, Context{}) {
		fm[k] = v
	}
	return fm
}

// requestFuncs are bound to one render: typed payload accessors plus the
// request metadata.
func requestFuncs(root any, rc Context) template.FuncMap {
	return template.FuncMap{
		"field": func(path string) (any, error) { return lookup(root, path) },
		"str": func(path string) (string, error) {
			v, err := lookup(root, path)
			if err != nil {
				return "", err
			}
			s, ok := v.(string)
			if !ok {
				return "", fmt.Errorf("field %q: want string, got %s", path, kindOf(v))
			}
			return s, nil
		},
		"method": func() string { return rc.Method },
		"path":   func() string { return rc.Path },
		"header": func(name string) string { return rc.Headers.Get(name) },
		"query":  func(key string) string { return rc.Query.Get(key) },
		"now":    func() string { return rc.Received.UTC().Format(time.RFC3339) },
	}
}

// lookup walks a dotted path through objects and arrays ("commits.0.id").
// Absence and shape mismatches are errors, never zero values.
func lookup(root any, path string) (any, error) {
	if path == "" {
		return nil, fmt.Errorf("field: empty path")
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("field %q: missing key %q", path, seg)
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil {
				return nil, fmt.Errorf("field %q: %q indexes an array", path, seg)
			}
			if i < 0 || i >= len(node) {
				return nil, fmt.Errorf("field %q: index %d out of range (len %d)", path, i, len(node))
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("field %q: cannot descend into %s at %q", path, kindOf(cur), seg)
		}
	}
	return cur, nil
}

func toJSON(v any) (string, error) {
	b, err := codec.JSONPayload.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func dflt(def, v any) any {
	switch x := v.(type) {
	case nil:
		return def
	case string:
		if x == "" {
			return def
		}
	}
	return v
}

func join(list any, sep string) (string, error) {
	var items []any
	switch l := list.(type) {
	case []any:
		items = l
	case []string:
		return strings.Join(l, sep), nil
	default:
		return "", fmt.Errorf("join: want array, got %s", kindOf(list))
	}
	parts := make([]string, 0, len(items))
	for i, it := range items {
		switch x := it.(type) {
		case string:
			parts = append(parts, x)
		case json.Number, bool, float64, int:
			parts = append(parts, fmt.Sprint(x))
		default:
			return "", fmt.Errorf("join: element %d is %s", i, kindOf(it))
		}
	}
	return strings.Join(parts, sep), nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "bool"
	case json.Number, float64, int:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}
