package cli

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/capsulecheck/internal/capsule"
	"github.com/roach88/capsulecheck/internal/sign"
)

// Seal statuses.
const (
	SealSigned  = "signed"
	SealSkipped = "skipped"
	SealError   = "error"
)

// SealEntry is the outcome of sealing one capsule file.
type SealEntry struct {
	File   string `json:"file"`
	ID     string `json:"id,omitempty"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// NewSealCommand creates the seal command.
func NewSealCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seal <path>",
		Short: "Sign the stored digest of each capsule",
		Long: `Sign each capsule's stored provenance.signing.digest with an Ed25519 key
and record the signature, method, key_id and base64 public key next to it.
Capsules without a stored digest are skipped; run "capsulecheck digest"
first.`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeal(rootOpts, args[0], cmd)
		},
	}

	addKeyFlags(cmd)

	return cmd
}

func runSeal(opts *RootOptions, path string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)
	log := opts.logger()

	keys, err := newSigner(cfg)
	if err != nil {
		return err
	}
	docs, errs, err := loadForInspection(path)
	if err != nil {
		return err
	}

	var entries []SealEntry
	failed := 0
	for _, e := range errs {
		entry := errorEntry(e)
		entries = append(entries, SealEntry{File: entry.File, Status: SealError, Reason: entry.Error})
		failed++
	}
	for _, doc := range docs {
		entry := sealDocument(doc, keys)
		if entry.Status == SealError {
			failed++
		}
		log.Debug("seal", "file", entry.File, "status", entry.Status)
		entries = append(entries, entry)
	}

	if formatter.JSON() {
		if err := formatter.Success(entries); err != nil {
			return err
		}
	} else {
		for _, e := range entries {
			if e.Reason != "" {
				formatter.Printf("[%s] %s: %s\n", e.Status, e.File, e.Reason)
				continue
			}
			formatter.Printf("[%s] %s\n", e.Status, e.File)
		}
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d capsule(s) could not be sealed", failed))
	}
	return nil
}

func sealDocument(doc *capsule.Document, keys *signer) SealEntry {
	entry := SealEntry{File: doc.Path, ID: doc.ID()}

	stored := doc.Signing().Digest
	if stored == "" {
		entry.Status, entry.Reason = SealSkipped, "no digest"
		return entry
	}

	sig := sign.SignBytes([]byte(stored), keys.priv)
	pub := base64.StdEncoding.EncodeToString(keys.pub)
	if err := doc.SetSeal(sig, sign.MethodEd25519, keys.keyID, pub); err != nil {
		entry.Status, entry.Reason = SealError, err.Error()
		return entry
	}
	if err := doc.Save(); err != nil {
		entry.Status, entry.Reason = SealError, err.Error()
		return entry
	}
	entry.Status = SealSigned
	return entry
}
