// Package batch fans check definitions out to a witness runner and folds the
// outcomes into per-document verdicts.
package batch

import (
	"fmt"
	"time"

	"github.com/roach88/capsulecheck/internal/canon"
	"github.com/roach88/capsulecheck/internal/witness"
)

// Status is the verdict for one document.
type Status string

const (
	StatusGreen Status = "GREEN"
	StatusRed   Status = "RED"
	StatusSkip  Status = "SKIP"
)

// Input is one document's worth of checks.
type Input struct {
	ID     string
	Checks []witness.Definition
}

// DocumentResult is one entry of a batch, in input order.
type DocumentResult struct {
	ID       string            `json:"id"`
	Status   Status            `json:"status"`
	Outcomes []witness.Outcome `json:"outcomes"`
}

// Batch is the result of one run.
type Batch struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []DocumentResult
}

// Aggregate derives a document's verdict from its outcomes.
// GREEN needs every outcome to be PASS or SKIP. A document with no outcomes
// is SKIP.
func Aggregate(id string, outcomes []witness.Outcome) DocumentResult {
	if outcomes == nil {
		outcomes = []witness.Outcome{}
	}
	status := StatusGreen
	if len(outcomes) == 0 {
		status = StatusSkip
	}
	for _, o := range outcomes {
		if !o.Status.Success() {
			status = StatusRed
			break
		}
	}
	return DocumentResult{ID: id, Status: status, Outcomes: outcomes}
}

// Summary counts verdicts across a batch.
type Summary struct {
	Documents int
	Green     int
	Red       int
	Skip      int
	Checks    int
}

// Summarize counts the batch's verdicts.
func (b *Batch) Summarize() Summary {
	var s Summary
	for _, r := range b.Results {
		s.Documents++
		s.Checks += len(r.Outcomes)
		switch r.Status {
		case StatusGreen:
			s.Green++
		case StatusRed:
			s.Red++
		case StatusSkip:
			s.Skip++
		}
	}
	return s
}

// Green reports whether no document is RED.
func (b *Batch) Green() bool {
	return b.Summarize().Red == 0
}

// Payload renders the results as a canonical value. Keys are emitted in
// lexical order so the bytes match any sorted-key encoder.
func (b *Batch) Payload() canon.List {
	list := make(canon.List, len(b.Results))
	for i, r := range b.Results {
		outcomes := make(canon.List, len(r.Outcomes))
		for j, o := range r.Outcomes {
			outcomes[j] = canon.Object{
				canon.F("duration_ms", canon.Int(o.DurationMS)),
				canon.F("exit_code", canon.Int(o.ExitCode)),
				canon.F("name", canon.String(o.Name)),
				canon.F("status", canon.String(o.Status)),
				canon.F("stderr", canon.String(o.Stderr)),
				canon.F("stdout", canon.String(o.Stdout)),
			}
		}
		list[i] = canon.Object{
			canon.F("id", canon.String(r.ID)),
			canon.F("outcomes", outcomes),
			canon.F("status", canon.String(r.Status)),
		}
	}
	return list
}

// Canonical returns the canonical bytes of the payload.
func (b *Batch) Canonical() ([]byte, error) {
	return canon.Marshal(b.Payload())
}

// ParsePayload reads a batch payload from JSON and returns its canonical
// value. The payload must be a list; its contents are not reinterpreted.
func ParsePayload(data []byte) (canon.List, error) {
	v, err := canon.FromJSON(data)
	if err != nil {
		return nil, err
	}
	list, ok := v.(canon.List)
	if !ok {
		return nil, fmt.Errorf("batch payload must be a JSON array, got %T", v)
	}
	return list, nil
}
