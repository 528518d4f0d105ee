package sign

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/roach88/capsulecheck/internal/canon"
)

// Receipt pairs a payload with its envelope. Payload holds canonical JSON
// when produced by Seal, but any formatting verifies since Open
// re-canonicalizes it.
type Receipt struct {
	Payload json.RawMessage `json:"payload"`
	Proof   Envelope        `json:"proof"`
}

// Seal canonicalizes v and signs it. Objects in v must carry their keys in
// lexical order, since verifiers rebuild the payload from parsed JSON.
func Seal(v canon.Value, priv ed25519.PrivateKey, opts Options) (*Receipt, error) {
	payload, err := canon.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	reparsed, err := canon.FromJSON(payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payload: %w", err)
	}
	if !bytes.Equal(payload, canon.MustMarshal(reparsed)) {
		return nil, fmt.Errorf("canonicalize payload: object keys are not in lexical order")
	}
	env, err := Sign(payload, priv, opts)
	if err != nil {
		return nil, err
	}
	return &Receipt{Payload: payload, Proof: env}, nil
}

// Marshal renders the receipt as indented JSON without HTML escaping.
func (r *Receipt) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ParseReceipt decodes a receipt document. Receipts that carry the payload
// under the older "results" key are accepted too.
func ParseReceipt(data []byte) (*Receipt, error) {
	var doc struct {
		Payload json.RawMessage `json:"payload"`
		Results json.RawMessage `json:"results"`
		Proof   Envelope        `json:"proof"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}
	payload := doc.Payload
	if len(payload) == 0 {
		payload = doc.Results
	}
	if len(payload) == 0 || string(payload) == "null" {
		return nil, fmt.Errorf("decode receipt: missing payload")
	}
	return &Receipt{Payload: payload, Proof: doc.Proof}, nil
}

// CanonicalPayload re-canonicalizes the stored payload.
func (r *Receipt) CanonicalPayload() ([]byte, error) {
	v, err := canon.FromJSON(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return canon.Marshal(v)
}

// Open verifies the receipt against pub. The error is non-nil only when
// the payload cannot be canonicalized at all.
func (r *Receipt) Open(pub ed25519.PublicKey) (Result, error) {
	payload, err := r.CanonicalPayload()
	if err != nil {
		return Result{}, err
	}
	return Verify(r.Proof, payload, pub), nil
}
