package batch

import "github.com/google/uuid"

// UUIDv7Generator names runs with time-sortable UUIDv7 strings, so ledger
// rows sort by creation time even when wall clocks disagree.
//
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7. It panics only if the system
// random source fails.
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
