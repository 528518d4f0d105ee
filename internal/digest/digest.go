// Package digest hashes canonical bytes with a versioned, named algorithm.
//
// The algorithm identifier always travels with the hex value so a change of
// algorithm is detected as ErrUnknownAlgorithm instead of surfacing as a
// silent mismatch.
package digest

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"
)

// AlgoSHA256 is the current digest algorithm.
const AlgoSHA256 = "sha256"

// Default is the algorithm used when a stored digest carries no identifier.
// Digests written before identifiers were recorded are SHA-256.
const Default = AlgoSHA256

// ErrUnknownAlgorithm is returned for algorithm identifiers not in the registry.
var ErrUnknownAlgorithm = errors.New("unknown digest algorithm")

var registry = map[string]func() hash.Hash{
	AlgoSHA256: sha256.New,
}

// Digest is a hex-encoded hash and the algorithm that produced it.
type Digest struct {
	Algorithm string `json:"algorithm"`
	Hex       string `json:"hex"`
}

func (d Digest) String() string {
	return d.Algorithm + ":" + d.Hex
}

// Short returns the first 16 hex characters, for display.
func (d Digest) Short() string {
	if len(d.Hex) <= 16 {
		return d.Hex
	}
	return d.Hex[:16]
}

// Compute hashes data with the named algorithm.
func Compute(algo string, data []byte) (Digest, error) {
	newHash, ok := registry[algo]
	if !ok {
		return Digest{}, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
	h := newHash()
	h.Write(data)
	return Digest{Algorithm: algo, Hex: hex.EncodeToString(h.Sum(nil))}, nil
}

// Of hashes data with the default algorithm.
func Of(data []byte) Digest {
	d, err := Compute(Default, data)
	if err != nil {
		panic(err)
	}
	return d
}

// Supported reports whether algo is in the registry.
func Supported(algo string) bool {
	_, ok := registry[algo]
	return ok
}

// Check recomputes the digest of data using want's algorithm and compares it
// to want in constant time. An empty algorithm means Default.
func Check(want Digest, data []byte) (bool, error) {
	algo := want.Algorithm
	if algo == "" {
		algo = Default
	}
	got, err := Compute(algo, data)
	if err != nil {
		return false, err
	}
	return Equal(got.Hex, want.Hex), nil
}

// Equal compares two hex digests in constant time, ignoring case.
func Equal(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
