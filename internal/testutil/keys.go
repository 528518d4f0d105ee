package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"
)

// TestSeedHex is the RFC 8032 section 7.1 TEST 1 secret key. Signatures made
// with it are reproducible, so receipts can be compared byte-for-byte.
const TestSeedHex = "9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

// TestPublicHex is the public key for TestSeedHex.
const TestPublicHex = "d75a980182b10ab7d54bfed3c964073a0ee172f3daa62325af021a68f707511a"

// TestKey returns the deterministic test key pair.
func TestKey() (ed25519.PublicKey, ed25519.PrivateKey) {
	seed, err := hex.DecodeString(TestSeedHex)
	if err != nil {
		panic(err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return priv.Public().(ed25519.PublicKey), priv
}

// RandomKey returns a fresh key pair, for tests that need a key other than
// TestKey.
func RandomKey(t testing.TB) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}
