package capsule

import "fmt"

// Load error codes.
const (
	ErrCodeNotFound   = "E001" // path does not exist
	ErrCodeNoFiles    = "E002" // directory holds no .yaml/.yml files
	ErrCodeRead       = "E003" // file could not be read
	ErrCodeEncoding   = "E004" // bytes are not valid UTF-8/UTF-16
	ErrCodeSyntax     = "E005" // YAML syntax error
	ErrCodeShape      = "E006" // schema violation
	ErrCodeProjection = "E007" // core fields cannot be projected
	ErrCodeWrite      = "E008" // write-back failed
)

// LoadError describes a document that could not be loaded or updated.
type LoadError struct {
	Code    string
	Path    string
	Message string
}

func (e *LoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
}

func loadErr(code, path, format string, args ...any) *LoadError {
	return &LoadError{Code: code, Path: path, Message: fmt.Sprintf(format, args...)}
}
