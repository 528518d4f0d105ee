package sign

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrInvalidKey is returned for key material that cannot be decoded into an
// Ed25519 key.
var ErrInvalidKey = errors.New("invalid ed25519 key")

// KeyID returns the default key identifier for pub: the first 16 hex
// characters of its SHA-256.
func KeyID(pub ed25519.PublicKey) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:])[:16]
}

// LoadPrivateKey reads a private key from a file, or decodes ref directly
// when no such file exists. See ParsePrivateKey for accepted encodings.
func LoadPrivateKey(ref string) (ed25519.PrivateKey, error) {
	data, err := readRef(ref)
	if err != nil {
		return nil, err
	}
	return ParsePrivateKey(data)
}

// LoadPublicKey reads a public key from a file, or decodes ref directly
// when no such file exists. See ParsePublicKey for accepted encodings.
func LoadPublicKey(ref string) (ed25519.PublicKey, error) {
	data, err := readRef(ref)
	if err != nil {
		return nil, err
	}
	return ParsePublicKey(data)
}

func readRef(ref string) ([]byte, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: no key given", ErrInvalidKey)
	}
	// Inline keys may contain '/', so anything that cannot be stat'ed is
	// treated as key material rather than a path.
	if _, err := os.Stat(ref); err != nil {
		return []byte(ref), nil
	}
	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", ref, err)
	}
	return data, nil
}

// ParsePrivateKey accepts a PKCS#8 PEM block, or base64 or hex encoding of
// a 32-byte seed or a 64-byte private key.
func ParsePrivateKey(data []byte) (ed25519.PrivateKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("%w: PEM holds %T", ErrInvalidKey, key)
		}
		return priv, nil
	}

	raw, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}
	switch len(raw) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(raw), nil
	case ed25519.PrivateKeySize:
		priv := ed25519.PrivateKey(raw)
		derived := ed25519.NewKeyFromSeed(priv.Seed())
		if !bytes.Equal(derived, priv) {
			return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKey)
		}
		return priv, nil
	default:
		return nil, fmt.Errorf("%w: private key must be %d or %d bytes, got %d",
			ErrInvalidKey, ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// ParsePublicKey accepts a PKIX PEM block, or base64 or hex encoding of a
// 32-byte public key.
func ParsePublicKey(data []byte) (ed25519.PublicKey, error) {
	if block, _ := pem.Decode(data); block != nil {
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		pub, ok := key.(ed25519.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: PEM holds %T", ErrInvalidKey, key)
		}
		return pub, nil
	}

	raw, err := decodeRaw(data)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes, got %d",
			ErrInvalidKey, ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// decodeRaw tries hex first: every hex string of the right length is also
// valid base64, but not the other way round.
func decodeRaw(data []byte) ([]byte, error) {
	s := strings.TrimSpace(string(data))
	if s == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	if raw, err := hex.DecodeString(s); err == nil {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	if raw, err := base64.RawStdEncoding.DecodeString(s); err == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("%w: not PEM, hex or base64", ErrInvalidKey)
}

// MarshalPrivateKeyPEM encodes priv as a PKCS#8 PEM block.
func MarshalPrivateKeyPEM(priv ed25519.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// MarshalPublicKeyPEM encodes pub as a PKIX PEM block.
func MarshalPublicKeyPEM(pub ed25519.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
