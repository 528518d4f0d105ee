package capsule

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/capsulecheck/internal/witness"
)

// Document is one loaded capsule file.
type Document struct {
	// Path is the file the document was loaded from.
	Path string

	// Fields is the decoded top-level mapping.
	Fields map[string]any

	// Checks are the declared witnesses, in declaration order.
	Checks []witness.Definition

	// root is the parsed YAML document node, kept for write-back.
	root *yaml.Node
}

// ID returns the document's identifier. Documents without one are named
// after their file.
func (d *Document) ID() string {
	if id, ok := d.Fields["id"].(string); ok && id != "" {
		return id
	}
	base := filepath.Base(d.Path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// parseChecks converts the "witnesses" list into check definitions.
// The shape has already been validated, so type mismatches here mean the
// schema and this function disagree.
func parseChecks(fields map[string]any) ([]witness.Definition, error) {
	raw, ok := fields["witnesses"].([]any)
	if !ok {
		return nil, nil
	}

	defs := make([]witness.Definition, 0, len(raw))
	seen := make(map[string]int, len(raw))
	for i, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("witnesses[%d]: expected mapping, got %T", i, item)
		}
		def, err := parseCheck(m)
		if err != nil {
			return nil, fmt.Errorf("witnesses[%d]: %w", i, err)
		}
		if def.Name != "" {
			if prev, dup := seen[def.Name]; dup {
				return nil, fmt.Errorf("witnesses[%d]: duplicate name %q (first at witnesses[%d])", i, def.Name, prev)
			}
			seen[def.Name] = i
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func parseCheck(m map[string]any) (witness.Definition, error) {
	def := witness.Definition{
		Name:       str(m["name"]),
		Language:   str(m["language"]),
		Entrypoint: str(m["entrypoint"]),
		Workdir:    str(m["workdir"]),
		Stdin:      str(m["stdin"]),
		Code:       str(m["code"]),
	}

	if args, ok := m["args"].([]any); ok {
		def.Args = make([]string, len(args))
		for i, a := range args {
			def.Args[i] = scalarString(a)
		}
	}

	if env, ok := m["env"].(map[string]any); ok {
		def.Env = make(map[string]string, len(env))
		for k, v := range env {
			def.Env[k] = scalarString(v)
		}
	}

	switch t := m["timeout_ms"].(type) {
	case nil:
	case int:
		def.Timeout = time.Duration(t) * time.Millisecond
	default:
		return def, fmt.Errorf("timeout_ms: expected integer, got %T", t)
	}
	return def, nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

// scalarString renders an arg or env scalar. Booleans render as True and
// False, null as the empty string.
func scalarString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case bool:
		if v {
			return "True"
		}
		return "False"
	default:
		return fmt.Sprint(v)
	}
}
