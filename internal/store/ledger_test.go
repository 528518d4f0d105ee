package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/capsulecheck/internal/batch"
	"github.com/roach88/capsulecheck/internal/digest"
	"github.com/roach88/capsulecheck/internal/sign"
	"github.com/roach88/capsulecheck/internal/testutil"
	"github.com/roach88/capsulecheck/internal/witness"
)

// createTestStore opens a fresh ledger in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testBatch(runID string, started time.Time) *batch.Batch {
	return &batch.Batch{
		RunID:      runID,
		StartedAt:  started,
		FinishedAt: started.Add(1500 * time.Millisecond),
		Results: []batch.DocumentResult{
			batch.Aggregate("doc.b", []witness.Outcome{
				{Name: "w1", Status: witness.StatusPass, Stdout: "ok\n", DurationMS: 4},
				{Name: "w2", Status: witness.StatusFail, ExitCode: 1, Stderr: "nope\n", DurationMS: 9},
			}),
			batch.Aggregate("doc.a", []witness.Outcome{
				{Name: "z", Status: witness.StatusSkip, ExitCode: 77},
			}),
			batch.Aggregate("doc.empty", nil),
		},
	}
}

func TestWriteBatch_RoundTripPreservesCanonicalBytes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	b := testBatch("run-1", testutil.Epoch)

	require.NoError(t, s.WriteBatch(ctx, b, "capsules/"))

	got, err := s.ReadBatch(ctx, "run-1")
	require.NoError(t, err)

	want, err := b.Canonical()
	require.NoError(t, err)
	have, err := got.Canonical()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(have))

	assert.True(t, got.StartedAt.Equal(b.StartedAt))
	assert.True(t, got.FinishedAt.Equal(b.FinishedAt))
	assert.Equal(t, []string{"doc.b", "doc.a", "doc.empty"},
		[]string{got.Results[0].ID, got.Results[1].ID, got.Results[2].ID})
	assert.NotNil(t, got.Results[2].Outcomes)
}

func TestWriteBatch_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	b := testBatch("run-1", testutil.Epoch)

	require.NoError(t, s.WriteBatch(ctx, b, "a"))
	require.NoError(t, s.WriteBatch(ctx, b, "a"))

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM outcomes").Scan(&count))
	assert.Equal(t, 3, count)
}

func TestWriteBatch_RequiresRunID(t *testing.T) {
	s := createTestStore(t)
	err := s.WriteBatch(context.Background(), testBatch("", testutil.Epoch), "a")
	assert.ErrorIs(t, err, ErrNoRunID)
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, runs)
	assert.Empty(t, runs)

	require.NoError(t, s.WriteBatch(ctx, testBatch("run-old", testutil.Epoch), "a"))
	require.NoError(t, s.WriteBatch(ctx, testBatch("run-new", testutil.Epoch.Add(time.Hour)), "b"))
	require.NoError(t, s.WriteBatch(ctx, testBatch("run-mid", testutil.Epoch.Add(time.Minute)), "c"))

	runs, err = s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-new", runs[0].RunID)
	assert.Equal(t, "run-mid", runs[1].RunID)
	assert.Equal(t, "run-old", runs[2].RunID)

	first := runs[0]
	assert.Equal(t, "b", first.Source)
	assert.Equal(t, 3, first.Documents)
	assert.Equal(t, 1, first.Green)
	assert.Equal(t, 1, first.Red)
	assert.Equal(t, 1, first.Skip)
	assert.Equal(t, digest.AlgoSHA256, first.DigestAlgo)
	assert.Len(t, first.PayloadDigest, 64)
	assert.False(t, first.Signed)

	limited, err := s.ListRuns(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestDocumentHistory(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WriteBatch(ctx, testBatch("run-1", testutil.Epoch), "a"))
	require.NoError(t, s.WriteBatch(ctx, testBatch("run-2", testutil.Epoch.Add(time.Hour)), "a"))

	history, err := s.DocumentHistory(ctx, "doc.b", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "run-2", history[0].RunID)
	assert.Equal(t, batch.StatusRed, history[0].Status)

	none, err := s.DocumentHistory(ctx, "unknown", 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReceipts(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	b := testBatch("run-1", testutil.Epoch)
	require.NoError(t, s.WriteBatch(ctx, b, "a"))

	_, priv := testutil.TestKey()
	r, err := sign.Seal(b.Payload(), priv, sign.Options{Now: testutil.NewFixedClock().Now})
	require.NoError(t, err)

	require.NoError(t, s.WriteReceipt(ctx, "run-1", r))
	require.NoError(t, s.SetReceiptLocation(ctx, "run-1", "s3://receipts/run-1.signed.json"))

	data, err := s.ReadReceipt(ctx, "run-1")
	require.NoError(t, err)
	want, err := r.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(want), string(data))

	runs, err := s.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.True(t, runs[0].Signed)
	assert.Equal(t, "s3://receipts/run-1.signed.json", runs[0].Location)
}

func TestReceipts_UnknownRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.ReadReceipt(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)

	err = s.SetReceiptLocation(ctx, "nope", "x")
	assert.ErrorIs(t, err, ErrRunNotFound)

	_, err = s.ReadBatch(ctx, "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}
