// Package witness executes a single check definition and classifies its
// outcome.
//
// Each invocation walks a fixed state machine:
//
//	LOADED -> VALIDATED -> DISPATCHED -> RUNNING -> COMPLETED
//	                                            -> TIMED_OUT
//	                                 -> LAUNCH_FAILED
//
// Validation failures never execute anything. The child environment is built
// from an empty base plus the declared env map; the parent environment is
// never inherited. Code is materialized in a fresh temporary directory that is
// removed on every exit path. On timeout or cancellation the whole process
// group receives SIGTERM, then SIGKILL after a grace period.
//
// The runner does not interpret check output beyond exit-code classification
// and the SKIP marker (see Classify).
package witness
