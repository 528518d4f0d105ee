// Package sign produces and checks detached Ed25519 signatures over
// canonical payload bytes.
//
// The signature covers the canonical payload bytes only. The envelope's own
// metadata (timestamp, key id) is not signed; altering it does not change
// the payload's verdict.
package sign

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/capsulecheck/internal/canon"
	"github.com/roach88/capsulecheck/internal/digest"
)

// TypeEd25519 is the only supported signature type.
const TypeEd25519 = "Ed25519"

// MethodEd25519 is the method tag recorded on capsule seals.
const MethodEd25519 = "ed25519"

// CreatedLayout formats Envelope.Created, always in UTC.
const CreatedLayout = "20060102T150405Z"

// Canonical records how the signed bytes were produced.
type Canonical struct {
	Algo   string `json:"algo"`
	Hash   string `json:"hash"`
	Digest string `json:"digest"`
}

// Envelope is the detached proof over a payload.
type Envelope struct {
	Type      string    `json:"type"`
	Created   string    `json:"created"`
	KeyID     string    `json:"keyId"`
	Canonical Canonical `json:"canonical"`
	Signature string    `json:"signature"`
}

// Options tune Sign. The zero value is valid.
type Options struct {
	// KeyID overrides the default key fingerprint.
	KeyID string

	// Now is the clock for Envelope.Created. Nil means time.Now.
	Now func() time.Time
}

// Sign produces an envelope over canonical payload bytes.
func Sign(payload []byte, priv ed25519.PrivateKey, opts Options) (Envelope, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Envelope{}, fmt.Errorf("%w: private key must be %d bytes, got %d",
			ErrInvalidKey, ed25519.PrivateKeySize, len(priv))
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	keyID := opts.KeyID
	if keyID == "" {
		keyID = KeyID(priv.Public().(ed25519.PublicKey))
	}

	return Envelope{
		Type:    TypeEd25519,
		Created: now().UTC().Format(CreatedLayout),
		KeyID:   keyID,
		Canonical: Canonical{
			Algo:   canon.Algo,
			Hash:   digest.AlgoSHA256,
			Digest: digest.Of(payload).Hex,
		},
		Signature: SignBytes(payload, priv),
	}, nil
}

// Reason explains a failed verification.
type Reason string

const (
	ReasonNone                 Reason = ""
	ReasonUnsupportedType      Reason = "unsupported-type"
	ReasonUnsupportedAlgorithm Reason = "unsupported-algorithm"
	ReasonDigestMismatch       Reason = "digest-mismatch"
	ReasonMalformedSignature   Reason = "malformed-signature"
	ReasonBadSignature         Reason = "bad-signature"
)

// Result is a verification verdict.
type Result struct {
	OK     bool
	Reason Reason
}

func fail(r Reason) Result { return Result{Reason: r} }

// Verify checks env against canonical payload bytes and a public key.
// The recorded digest is compared first so tampering is reported as a
// digest mismatch, then the signature is checked.
func Verify(env Envelope, payload []byte, pub ed25519.PublicKey) Result {
	if env.Type != TypeEd25519 {
		return fail(ReasonUnsupportedType)
	}
	if env.Canonical.Algo != canon.Algo {
		return fail(ReasonUnsupportedAlgorithm)
	}
	ok, err := digest.Check(digest.Digest{Algorithm: env.Canonical.Hash, Hex: env.Canonical.Digest}, payload)
	if errors.Is(err, digest.ErrUnknownAlgorithm) {
		return fail(ReasonUnsupportedAlgorithm)
	}
	if err != nil || !ok {
		return fail(ReasonDigestMismatch)
	}
	return VerifyBytes(payload, env.Signature, pub)
}

// SignBytes signs msg and returns the signature in standard base64.
func SignBytes(msg []byte, priv ed25519.PrivateKey) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(priv, msg))
}

// VerifyBytes checks a base64 signature over msg.
func VerifyBytes(msg []byte, signature string, pub ed25519.PublicKey) Result {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return fail(ReasonMalformedSignature)
	}
	if len(pub) != ed25519.PublicKeySize || !ed25519.Verify(pub, msg, sig) {
		return fail(ReasonBadSignature)
	}
	return Result{OK: true}
}
