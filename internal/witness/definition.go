package witness

import (
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout applies when a definition does not declare one.
const DefaultTimeout = 5000 * time.Millisecond

// Validation errors. They surface as ERROR outcomes, never as batch failures.
var (
	ErrEmptyName           = errors.New("check name is required")
	ErrEmptyCode           = errors.New("missing check code")
	ErrUnsupportedLanguage = errors.New("unsupported or missing language")
	ErrNegativeTimeout     = errors.New("timeout must not be negative")
)

// Definition is a check as declared in its parent document.
// It is read-only once loaded.
type Definition struct {
	// Name is unique within the parent document.
	Name string

	// Language selects the interpreter variant (see Languages).
	Language string

	// Entrypoint overrides the language's default interpreter when set.
	Entrypoint string

	// Args are appended after the materialized code file.
	Args []string

	// Env is the complete child environment. Nothing else is inherited.
	Env map[string]string

	// Workdir is the child's working directory. Relative paths resolve
	// against the runner's base directory.
	Workdir string

	// Timeout is the wall-clock limit. Zero means the runner default.
	Timeout time.Duration

	// Stdin is fed to the child when non-empty.
	Stdin string

	// Code is the executable body.
	Code string
}

// Validate checks the definition and resolves its language variant.
func (d Definition) Validate() (Language, error) {
	if d.Name == "" {
		return nil, ErrEmptyName
	}
	lang, ok := LookupLanguage(d.Language)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, d.Language)
	}
	if d.Code == "" {
		return nil, ErrEmptyCode
	}
	if d.Timeout < 0 {
		return nil, ErrNegativeTimeout
	}
	return lang, nil
}
