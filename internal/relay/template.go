// Package relay is the relay-pod manager: it renders
// pod/deployment/service/ingress manifests from JSON templates, creates,
// waits for readiness, and garbage-collects the ephemeral in-cluster
// workloads used by "proxy" and "expose" Configs.
package relay

import (
	"encoding/json"
	"fmt"
)

// Template holds a manifest parsed once into a generic JSON tree, rather
// than treating the manifest as text and running regex substitution
// over it: walking the decoded tree and substituting brace-delimited
// placeholders node by node is correct on non-string JSON values and
// trivially testable without a regex engine. This is built directly on
// encoding/json, documented in DESIGN.md as a stdlib choice since no
// third-party templating library here does JSON-tree substitution.
type Template struct {
	tree interface{}
}

// ParseTemplate decodes raw JSON once; Render may be called repeatedly
// against the same parsed tree with different values.
func ParseTemplate(raw []byte) (*Template, error) {
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("parse manifest template: %w", err)
	}
	return &Template{tree: tree}, nil
}

// Render substitutes every `{key}` placeholder found in string leaves
// with values[key], rendering unknown placeholders as the empty
// string, and returns the re-marshaled JSON bytes.
func (t *Template) Render(values map[string]string) ([]byte, error) {
	rendered := substitute(t.tree, values)
	return json.Marshal(rendered)
}

func substitute(node interface{}, values map[string]string) interface{} {
	switch v := node.(type) {
	case string:
		return substituteString(v, values)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, child := range v {
			out[k] = substitute(child, values)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, child := range v {
			out[i] = substitute(child, values)
		}
		return out
	default:
		return v
	}
}

// substituteString replaces every `{key}` occurrence in s. It is a small
// hand-rolled scanner (not regexp) operating on the already-decoded
// string leaf, consistent with "render by tree traversal".
func substituteString(s string, values map[string]string) string {
	var out []byte
	for i := 0; i < len(s); {
		if s[i] == '{' {
			if end := indexByte(s, i+1, '}'); end >= 0 {
				key := s[i+1 : end]
				if val, ok := values[key]; ok {
					out = append(out, val...)
					i = end + 1
					continue
				}
				// unknown placeholder: render as empty string.
				if looksLikePlaceholder(key) {
					i = end + 1
					continue
				}
			}
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}

func indexByte(s string, from int, b byte) int {
	for i := from; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// looksLikePlaceholder guards against treating arbitrary literal braces
// (e.g. in a JSON example payload) as placeholders: only simple
// identifier-like keys count.
func looksLikePlaceholder(key string) bool {
	if key == "" || len(key) > 64 {
		return false
	}
	for _, r := range key {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
