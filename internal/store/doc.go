// Package store provides a SQLite-backed ledger of check runs.
//
// The ledger holds:
//   - Runs: one row per batch, with its payload digest
//   - Document results: per-document verdicts, in batch order
//   - Outcomes: per-check results, in declaration order
//   - Receipts: the signed receipt for a run, if one was produced
//
// # Ordering
//
// Positions are stored explicitly, so a batch read back from the ledger has
// the same canonical bytes, and therefore the same digest, as the batch that
// was written. Listings order by started_at DESC, run_id DESC COLLATE BINARY.
//
// # Idempotency
//
// Writes use ON CONFLICT DO NOTHING. Recording the same run twice is a
// no-op.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
