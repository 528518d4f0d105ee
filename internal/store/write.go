package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/capsulecheck/internal/batch"
	"github.com/roach88/capsulecheck/internal/digest"
	"github.com/roach88/capsulecheck/internal/sign"
)

// ErrNoRunID is returned when a batch without a run id is written.
var ErrNoRunID = errors.New("batch has no run id")

// timeLayout is fixed-width UTC so lexical order in SQL is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// WriteBatch records a run, its document verdicts and every outcome in one
// transaction. source is the path the run was started on.
//
// Uses ON CONFLICT DO NOTHING: writing the same run twice is a no-op.
func (s *Store) WriteBatch(ctx context.Context, b *batch.Batch, source string) error {
	if b.RunID == "" {
		return fmt.Errorf("write batch: %w", ErrNoRunID)
	}
	payload, err := b.Canonical()
	if err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	dg := digest.Of(payload)
	sum := b.Summarize()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write batch: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs
		(run_id, started_at, finished_at, source, documents, green, red, skip, payload_digest, digest_algo)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		b.RunID,
		b.StartedAt.UTC().Format(timeLayout),
		b.FinishedAt.UTC().Format(timeLayout),
		source,
		sum.Documents,
		sum.Green,
		sum.Red,
		sum.Skip,
		dg.Hex,
		dg.Algorithm,
	)
	if err != nil {
		return fmt.Errorf("write batch: insert run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil
	}

	for i, r := range b.Results {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO document_results (run_id, position, document_id, status)
			VALUES (?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, b.RunID, i, r.ID, string(r.Status)); err != nil {
			return fmt.Errorf("write batch: insert result %s: %w", r.ID, err)
		}

		for j, o := range r.Outcomes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO outcomes
				(run_id, doc_position, position, name, status, exit_code, stdout, stderr, duration_ms)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT DO NOTHING
			`,
				b.RunID, i, j,
				o.Name,
				string(o.Status),
				o.ExitCode,
				o.Stdout,
				o.Stderr,
				o.DurationMS,
			); err != nil {
				return fmt.Errorf("write batch: insert outcome %s/%s: %w", r.ID, o.Name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write batch: commit: %w", err)
	}
	return nil
}

// WriteReceipt stores the signed receipt for a recorded run.
// The run must already exist (foreign key constraint).
func (s *Store) WriteReceipt(ctx context.Context, runID string, r *sign.Receipt) error {
	data, err := r.Marshal()
	if err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO receipts (run_id, key_id, created, digest, receipt)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		runID,
		r.Proof.KeyID,
		r.Proof.Created,
		r.Proof.Canonical.Digest,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("write receipt: %w", err)
	}
	return nil
}

// SetReceiptLocation records where a run's receipt was published.
func (s *Store) SetReceiptLocation(ctx context.Context, runID, location string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE receipts SET location = ? WHERE run_id = ?
	`, location, runID)
	if err != nil {
		return fmt.Errorf("set receipt location: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set receipt location: %w: %s", ErrRunNotFound, runID)
	}
	return nil
}
