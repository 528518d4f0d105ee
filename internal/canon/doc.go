// Package canon produces the canonical byte form used for every digest and
// signature in capsulecheck.
//
// Canonical bytes are compact JSON with two properties the standard encoder
// does not give us:
//   - object keys are emitted in the order the caller built the Object,
//     never re-sorted here; projections decide key selection and order
//   - absence has exactly one representation, the literal null
//
// Unsupported Go types fail loudly. Nothing is coerced or dropped.
//
// This package imports nothing internal.
package canon
