package cli

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/capsulecheck/internal/config"
	"github.com/roach88/capsulecheck/internal/sign"
)

// signer is a loaded signing key and the id recorded with its signatures.
type signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	keyID string
}

func newSigner(cfg *config.Config) (*signer, error) {
	if cfg.Key == "" {
		return nil, NewExitError(ExitCommandError, "a signing key is required (--key or CAPSULECHECK_KEY)")
	}
	priv, err := sign.LoadPrivateKey(cfg.Key)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load signing key", err)
	}
	pub := priv.Public().(ed25519.PublicKey)
	keyID := cfg.KeyID
	if keyID == "" {
		keyID = sign.KeyID(pub)
	}
	return &signer{priv: priv, pub: pub, keyID: keyID}, nil
}

func loadVerifyKey(cfg *config.Config) (ed25519.PublicKey, error) {
	if cfg.Pub == "" {
		return nil, NewExitError(ExitCommandError, "a public key is required (--pub or CAPSULECHECK_PUB)")
	}
	pub, err := sign.LoadPublicKey(cfg.Pub)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load public key", err)
	}
	return pub, nil
}

// writeReceiptFiles writes the three receipt artifacts named after the
// proof's creation time:
//
//	witness_<ts>.json         canonical payload
//	witness_<ts>.signed.json  payload with proof
//	witness_<ts>.sig          detached base64 signature
func writeReceiptFiles(outDir string, r *sign.Receipt) ([]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", outDir, err)
	}
	signed, err := r.Marshal()
	if err != nil {
		return nil, err
	}

	base := filepath.Join(outDir, "witness_"+r.Proof.Created)
	files := []struct {
		path string
		data []byte
	}{
		{base + ".json", r.Payload},
		{base + ".signed.json", signed},
		{base + ".sig", []byte(r.Proof.Signature)},
	}

	paths := make([]string, 0, len(files))
	for _, f := range files {
		if err := os.WriteFile(f.path, f.data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.path, err)
		}
		paths = append(paths, f.path)
	}
	return paths, nil
}
