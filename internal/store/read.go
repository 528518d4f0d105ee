package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/capsulecheck/internal/batch"
	"github.com/roach88/capsulecheck/internal/witness"
)

// ErrRunNotFound is returned when a run id is not in the ledger.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is one row of the run listing.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Source        string    `json:"source"`
	Documents     int       `json:"documents"`
	Green         int       `json:"green"`
	Red           int       `json:"red"`
	Skip          int       `json:"skip"`
	PayloadDigest string    `json:"payload_digest"`
	DigestAlgo    string    `json:"digest_algo"`
	Signed        bool      `json:"signed"`
	Location      string    `json:"location,omitempty"`
}

// DocumentRun is one document's verdict in one run.
type DocumentRun struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	DocumentID string       `json:"document_id"`
	Status     batch.Status `json:"status"`
}

// ListRuns returns the most recent runs first, at most limit rows.
// A limit of zero or less returns every run.
//
// Returns an empty slice (not nil) when the ledger is empty.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.started_at, r.finished_at, r.source, r.documents,
		       r.green, r.red, r.skip, r.payload_digest, r.digest_algo,
		       rc.run_id IS NOT NULL, COALESCE(rc.location, '')
		FROM runs r
		LEFT JOIN receipts rc ON rc.run_id = r.run_id
		ORDER BY r.started_at DESC, r.run_id COLLATE BINARY DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunSummary{}
	for rows.Next() {
		var (
			r                 RunSummary
			started, finished string
		)
		if err := rows.Scan(&r.RunID, &started, &finished, &r.Source, &r.Documents,
			&r.Green, &r.Red, &r.Skip, &r.PayloadDigest, &r.DigestAlgo,
			&r.Signed, &r.Location); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// DocumentHistory returns a document's verdicts, most recent run first.
func (s *Store) DocumentHistory(ctx context.Context, documentID string, limit int) ([]DocumentRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.started_at, d.document_id, d.status
		FROM document_results d
		JOIN runs r ON r.run_id = d.run_id
		WHERE d.document_id = ?
		ORDER BY r.started_at DESC, r.run_id COLLATE BINARY DESC, d.position ASC
		LIMIT ?
	`, documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query document history: %w", err)
	}
	defer rows.Close()

	history := []DocumentRun{}
	for rows.Next() {
		var (
			d       DocumentRun
			started string
			status  string
		)
		if err := rows.Scan(&d.RunID, &started, &d.DocumentID, &status); err != nil {
			return nil, fmt.Errorf("scan document history: %w", err)
		}
		if d.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		d.Status = batch.Status(status)
		history = append(history, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document history: %w", err)
	}
	return history, nil
}

// ReadBatch rebuilds a recorded batch with results and outcomes in the
// order they were written.
func (s *Store) ReadBatch(ctx context.Context, runID string) (*batch.Batch, error) {
	var started, finished string
	err := s.db.QueryRowContext(ctx, `
		SELECT started_at, finished_at FROM runs WHERE run_id = ?
	`, runID).Scan(&started, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}

	b := &batch.Batch{RunID: runID}
	if b.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if b.FinishedAt, err = parseTime(finished); err != nil {
		return nil, err
	}

	results, err := s.readResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	outcomes, err := s.readOutcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i := range results {
		if got, ok := outcomes[i]; ok {
			results[i].Outcomes = got
		}
	}
	b.Results = results
	return b, nil
}

func (s *Store) readResults(ctx context.Context, runID string) ([]batch.DocumentResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, status
		FROM document_results
		WHERE run_id = ?
		ORDER BY position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := []batch.DocumentResult{}
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		results = append(results, batch.DocumentResult{
			ID:       id,
			Status:   batch.Status(status),
			Outcomes: []witness.Outcome{},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// readOutcomes groups a run's outcomes by document position.
func (s *Store) readOutcomes(ctx context.Context, runID string) (map[int][]witness.Outcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_position, name, status, exit_code, stdout, stderr, duration_ms
		FROM outcomes
		WHERE run_id = ?
		ORDER BY doc_position ASC, position ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	grouped := make(map[int][]witness.Outcome)
	for rows.Next() {
		var (
			pos    int
			o      witness.Outcome
			status string
		)
		if err := rows.Scan(&pos, &o.Name, &status, &o.ExitCode, &o.Stdout, &o.Stderr, &o.DurationMS); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = witness.Status(status)
		grouped[pos] = append(grouped[pos], o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return grouped, nil
}

// ReadReceipt returns the stored receipt JSON for a run.
func (s *Store) ReadReceipt(ctx context.Context, runID string) ([]byte, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `
		SELECT receipt FROM receipts WHERE run_id = ?
	`, runID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no receipt for %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("query receipt: %w", err)
	}
	return []byte(data), nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
