package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/capsulecheck/internal/capsule"
	"github.com/roach88/capsulecheck/internal/digest"
	"github.com/roach88/capsulecheck/internal/sign"
)

// PolicyOptions holds flags for the policy command.
type PolicyOptions struct {
	*RootOptions
	RequireSignatureOnApproved bool
}

// PolicyViolation is one failed policy rule.
type PolicyViolation struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// PolicyReport is the JSON output of the policy command.
type PolicyReport struct {
	Checked    int               `json:"checked"`
	Errors     int               `json:"errors"`
	Violations []PolicyViolation `json:"violations"`
}

// NewPolicyCommand creates the policy command.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PolicyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "policy <path>",
		Short: "Enforce digest and signature policy",
		Long: `Gate a set of capsules:

  - every capsule's stored digest must match its core fields;
  - with --require-signature-on-approved, a capsule whose
    provenance.review.status is "approved" must carry a valid Ed25519 seal
    (signature and pubkey) over that digest.

Exit codes:
  0 - no violations
  1 - one or more violations
  2 - path not found or usage error`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPolicy(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.RequireSignatureOnApproved, "require-signature-on-approved", false,
		"approved capsules must carry a valid seal")

	return cmd
}

func runPolicy(opts *PolicyOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	docs, errs, err := loadForInspection(path)
	if err != nil {
		return err
	}

	report := PolicyReport{Violations: []PolicyViolation{}}
	for _, e := range errs {
		entry := errorEntry(e)
		report.Violations = append(report.Violations, PolicyViolation{File: entry.File, Message: entry.Error})
	}
	for _, doc := range docs {
		report.Checked++
		if msg := checkPolicy(doc, opts.RequireSignatureOnApproved); msg != "" {
			report.Violations = append(report.Violations, PolicyViolation{File: doc.Path, Message: msg})
		}
	}
	report.Errors = len(report.Violations)

	if formatter.JSON() {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		for _, v := range report.Violations {
			formatter.Printf("[error] %s: %s\n", v.Message, v.File)
		}
		formatter.Printf("policy summary: checked=%d errors=%d\n", report.Checked, report.Errors)
	}

	if report.Errors > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d policy violation(s)", report.Errors))
	}
	return nil
}

// checkPolicy returns the first rule doc violates, or "".
func checkPolicy(doc *capsule.Document, requireSeal bool) string {
	signing := doc.Signing()
	stored := signing.StoredDigest()

	core, err := doc.CanonicalCore()
	if err != nil {
		return err.Error()
	}
	ok, err := digest.Check(stored, core)
	if err != nil {
		return err.Error()
	}
	if !ok {
		return "digest mismatch"
	}

	if !requireSeal || doc.ReviewStatus() != capsule.ReviewApproved {
		return ""
	}
	if signing.Signature == "" || signing.PubKey == "" {
		return "approved requires signature+pubkey"
	}
	pub, err := sign.ParsePublicKey([]byte(signing.PubKey))
	if err != nil {
		return fmt.Sprintf("signature verification failed: %v", err)
	}
	if res := sign.VerifyBytes([]byte(stored.Hex), signing.Signature, pub); !res.OK {
		return fmt.Sprintf("signature verification failed: %s", res.Reason)
	}
	return ""
}
