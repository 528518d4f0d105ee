package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/capsulecheck/internal/config"
	"github.com/roach88/capsulecheck/internal/sign"
)

// VerifyResult is the JSON output of the verify command.
type VerifyResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Digest string `json:"digest"`
	KeyID  string `json:"key_id"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <receipt.signed.json> [public-key]",
		Short: "Verify a signed receipt",
		Long: `Verify a signed receipt: the payload is re-canonicalized, its digest is
compared with the proof, and the Ed25519 signature is checked against the
public key. Both must hold.

The public key is the second argument or --pub: a file path, or inline
PEM/base64/hex.

Exit codes:
  0 - OK
  1 - digest mismatch or bad signature
  2 - unreadable receipt or key`,
		Args: usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, args, cmd)
		},
	}

	cmd.Flags().String(config.KeyPub, "", "Ed25519 public key: file path, or inline PEM/base64/hex")

	return cmd
}

func runVerify(opts *RootOptions, args []string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 2 {
		cfg.Pub = args[1]
	}
	formatter := opts.formatter(cmd)

	raw, err := readInput(args[0], cmd.InOrStdin())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read receipt", err)
	}
	receipt, err := sign.ParseReceipt(raw)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid receipt", err)
	}
	pub, err := loadVerifyKey(cfg)
	if err != nil {
		return err
	}

	res, err := receipt.Open(pub)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid receipt", err)
	}
	out := VerifyResult{
		OK:     res.OK,
		Reason: string(res.Reason),
		Digest: receipt.Proof.Canonical.Digest,
		KeyID:  receipt.Proof.KeyID,
	}
	opts.logger().Debug("receipt verified", "ok", out.OK, "reason", out.Reason, "key_id", out.KeyID)

	if formatter.JSON() {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else if res.OK {
		formatter.Printf("OK\n")
	} else {
		formatter.Printf("FAIL: %s\n", res.Reason)
	}

	if !res.OK {
		return NewExitError(ExitFailure, "verification failed: "+string(res.Reason))
	}
	return nil
}
