package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/capsulecheck/internal/batch"
	"github.com/roach88/capsulecheck/internal/canon"
	"github.com/roach88/capsulecheck/internal/config"
	"github.com/roach88/capsulecheck/internal/sign"
)

// SignOptions holds flags for the sign command.
type SignOptions struct {
	*RootOptions

	// Now overrides the clock (for testing).
	Now func() time.Time
}

// SignResult is the JSON output of the sign command.
type SignResult struct {
	Files  []string `json:"files"`
	Digest string   `json:"digest"`
	KeyID  string   `json:"key_id"`
}

// NewSignCommand creates the sign command.
func NewSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SignOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sign [batch.json|-]",
		Short: "Sign an existing batch of results",
		Long: `Sign a batch of check results produced earlier. The input is either the
bare JSON array of document results or the JSON output of
"capsulecheck run --format json". It is read from the named file, or from
stdin when the argument is "-" or omitted.

Writes witness_<ts>.json, witness_<ts>.signed.json and witness_<ts>.sig to
--out-dir.`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			src := "-"
			if len(args) == 1 {
				src = args[0]
			}
			return runSign(opts, src, cmd)
		},
	}

	addKeyFlags(cmd)
	cmd.Flags().String(config.KeyOutDir, ".", "directory for receipt files")

	return cmd
}

func runSign(opts *SignOptions, src string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	formatter := opts.formatter(cmd)

	raw, err := readInput(src, cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read batch", err)
	}
	payload, err := batchPayload(raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid batch", err)
	}

	keys, err := newSigner(cfg)
	if err != nil {
		return err
	}
	r, err := sign.Seal(payload, keys.priv, sign.Options{KeyID: keys.keyID, Now: opts.Now})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to sign batch", err)
	}
	files, err := writeReceiptFiles(cfg.OutDir, r)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write receipt", err)
	}
	opts.logger().Info("batch signed", "digest", r.Proof.Canonical.Digest, "key_id", r.Proof.KeyID)

	if formatter.JSON() {
		return formatter.Success(SignResult{Files: files, Digest: r.Proof.Canonical.Digest, KeyID: r.Proof.KeyID})
	}
	formatter.Printf("wrote:\n")
	for _, f := range files {
		formatter.Printf("  %s\n", f)
	}
	return nil
}

// readInput reads a named file, or r when src is "-".
func readInput(src string, r io.Reader) ([]byte, error) {
	if src == "-" {
		return io.ReadAll(r)
	}
	return os.ReadFile(src)
}

// batchPayload extracts the result array from raw input: either the array
// itself or the "data" member of a run command's JSON response.
func batchPayload(raw []byte) (canon.List, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	if trimmed[0] == '{' {
		var resp struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(trimmed, &resp); err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, fmt.Errorf("expected a JSON array of document results or a run response with data")
		}
		trimmed = resp.Data
	}
	return batch.ParsePayload(trimmed)
}
