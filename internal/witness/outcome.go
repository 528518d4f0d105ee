package witness

import (
	"encoding/json"
	"strings"
)

// Status classifies a single check execution.
type Status string

const (
	StatusPass      Status = "PASS"
	StatusFail      Status = "FAIL"
	StatusSkip      Status = "SKIP"
	StatusError     Status = "ERROR"
	StatusTimeout   Status = "TIMEOUT"
	StatusCancelled Status = "CANCELLED"
)

// Reserved exit codes.
const (
	// ExitTimeout is reported for checks killed after exceeding their timeout.
	ExitTimeout = 124

	// ExitSkip lets a check opt out of a verdict.
	ExitSkip = 77

	// ExitNotRun marks outcomes where no process exit status exists.
	ExitNotRun = -1
)

// Success reports whether s counts toward a GREEN document.
func (s Status) Success() bool {
	return s == StatusPass || s == StatusSkip
}

// Outcome is the result of one check invocation.
type Outcome struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	ExitCode   int    `json:"exit_code"`
	Stdout     string `json:"stdout"`
	Stderr     string `json:"stderr"`
	DurationMS int64  `json:"duration_ms"`
}

// Classify maps a completed process to a status.
//
// Exit 0 is PASS unless stdout carries the SKIP marker. Exit 1 is FAIL and
// exit 77 is SKIP. Any other code, including signal deaths reported as -1,
// is ERROR.
func Classify(exitCode int, stdout string) Status {
	switch exitCode {
	case 0:
		if HasSkipMarker(stdout) {
			return StatusSkip
		}
		return StatusPass
	case 1:
		return StatusFail
	case ExitSkip:
		return StatusSkip
	default:
		return StatusError
	}
}

// HasSkipMarker reports whether stdout, taken whole or by its last non-empty
// line, is a JSON object whose "status" is "SKIP".
func HasSkipMarker(stdout string) bool {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return false
	}
	if isSkipObject(trimmed) {
		return true
	}
	lines := strings.Split(trimmed, "\n")
	return isSkipObject(strings.TrimSpace(lines[len(lines)-1]))
}

func isSkipObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var marker struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(s), &marker); err != nil {
		return false
	}
	return marker.Status == string(StatusSkip)
}

// Cancelled is the outcome for a check that never ran because its batch was
// cancelled first.
func Cancelled(name string) Outcome {
	return Outcome{
		Name:     name,
		Status:   StatusCancelled,
		ExitCode: ExitNotRun,
		Stderr:   "cancelled before execution",
	}
}
