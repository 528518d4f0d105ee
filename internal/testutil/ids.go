package testutil

import (
	"fmt"
	"sync"
)

// FixedRunIDs returns the same run id every time.
//
// Implements batch.IDGenerator. Safe for concurrent use.
type FixedRunIDs struct {
	id string
}

// NewFixedRunIDs creates a generator for id. Empty means "test-run".
func NewFixedRunIDs(id string) *FixedRunIDs {
	if id == "" {
		id = "test-run"
	}
	return &FixedRunIDs{id: id}
}

// Generate returns the fixed id.
func (g *FixedRunIDs) Generate() string {
	return g.id
}

// SequentialRunIDs returns test-run-0001, test-run-0002, ...
type SequentialRunIDs struct {
	mu  sync.Mutex
	seq int
}

// Generate returns the next id in sequence.
func (g *SequentialRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("test-run-%04d", g.seq)
}
