package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/capsulecheck/internal/batch"
	"github.com/roach88/capsulecheck/internal/capsule"
	"github.com/roach88/capsulecheck/internal/config"
	"github.com/roach88/capsulecheck/internal/publish"
	"github.com/roach88/capsulecheck/internal/sign"
	"github.com/roach88/capsulecheck/internal/store"
	"github.com/roach88/capsulecheck/internal/witness"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Capsule     string
	Witness     string
	Sign        bool
	Publish     bool
	SkipInvalid bool

	// IDs overrides the run id generator (for testing).
	// If nil, defaults to batch.UUIDv7Generator.
	IDs batch.IDGenerator

	// Now overrides the clock (for testing).
	Now func() time.Time
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <path>",
		Short: "Run the checks declared in capsule documents",
		Long: `Run every check declared in the capsule documents at path (a file or a
directory walked recursively) and report a GREEN, RED or SKIP verdict per
document.

Each check runs in a fresh scratch directory with an empty environment plus
its declared env entries, in its own process group, under its timeout.

With --sign the canonical batch is signed and written to --out-dir as
witness_<ts>.json, witness_<ts>.signed.json and witness_<ts>.sig. With --db the
run is recorded in the ledger. With --publish the signed receipt is uploaded
to the configured S3-compatible bucket.

Exit codes:
  0 - every document GREEN or SKIP
  1 - one or more documents RED
  2 - malformed documents or usage error

Examples:
  capsulecheck run ./capsules
  capsulecheck run ./capsules --capsule llm.citation_required --witness cites
  capsulecheck run ./capsules --sign --key keys/signing.pem --out-dir artifacts
  capsulecheck run ./capsules --format json | capsulecheck sign -`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChecks(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Capsule, "capsule", "", "only run the document with this id")
	cmd.Flags().StringVar(&opts.Witness, "witness", "", "only run checks with this name")
	cmd.Flags().BoolVar(&opts.Sign, "sign", false, "sign the batch and write receipt files")
	cmd.Flags().BoolVar(&opts.Publish, "publish", false, "upload the signed receipt (implies --sign)")
	cmd.Flags().BoolVar(&opts.SkipInvalid, "skip-invalid", false, "warn about malformed documents instead of failing")
	addRunnerFlags(cmd)
	cmd.Flags().String(config.KeyDB, "", "record the run in this SQLite ledger")
	addKeyFlags(cmd)
	cmd.Flags().String(config.KeyOutDir, ".", "directory for receipt files")
	cmd.Flags().String(config.KeySandbox, "", "argv prefix every check is launched through")
	addPublishFlags(cmd)

	return cmd
}

func addRunnerFlags(cmd *cobra.Command) {
	cmd.Flags().Int(config.KeyConcurrency, 0, "max checks running at once (0 = number of CPUs)")
	cmd.Flags().Int64(config.KeyGraceMS, witness.DefaultGracePeriod.Milliseconds(), "wait between SIGTERM and SIGKILL on timeout")
	cmd.Flags().Int(config.KeyMaxOutputBytes, witness.DefaultMaxOutputBytes, "cap on captured stdout and stderr, each")
	cmd.Flags().Int64(config.KeyDefaultTimeoutMS, witness.DefaultTimeout.Milliseconds(), "timeout for checks that declare none")
}

func addKeyFlags(cmd *cobra.Command) {
	cmd.Flags().String(config.KeyKey, "", "Ed25519 private key: file path, or inline PEM/base64/hex")
	cmd.Flags().String(config.KeyKeyID, "", "key id recorded in the proof (default: public key fingerprint)")
}

func addPublishFlags(cmd *cobra.Command) {
	cmd.Flags().String(config.KeyPublishEndpoint, "", "S3 endpoint host:port")
	cmd.Flags().String(config.KeyPublishBucket, "", "S3 bucket for receipts")
	cmd.Flags().String(config.KeyPublishAccessKey, "", "S3 access key")
	cmd.Flags().String(config.KeyPublishSecretKey, "", "S3 secret key")
	cmd.Flags().String(config.KeyPublishRegion, "us-east-1", "S3 region")
	cmd.Flags().Bool(config.KeyPublishSSL, true, "use TLS for the S3 endpoint")
	cmd.Flags().String(config.KeyPublishPrefix, publish.DefaultPrefix, "object key prefix")
}

func runChecks(opts *RunOptions, path string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	log := opts.logger()
	formatter := opts.formatter(cmd)

	docs, err := loadDocuments(path, opts.SkipInvalid, log)
	if err != nil {
		return err
	}

	var keys *signer
	if opts.Sign || opts.Publish {
		if keys, err = newSigner(cfg); err != nil {
			return err
		}
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn("received signal, cancelling run", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	checks := cfg.Runner()
	checks.Logger = log

	ids := opts.IDs
	if ids == nil {
		ids = batch.UUIDv7Generator{}
	}
	runner := &batch.Runner{
		Checks:      checks,
		Concurrency: cfg.Concurrency,
		Filter:      batch.Filter{Document: opts.Capsule, Check: opts.Witness},
		IDs:         ids,
		Now:         opts.Now,
		Logger:      log,
	}

	inputs := make([]batch.Input, len(docs))
	for i, doc := range docs {
		inputs[i] = batch.Input{ID: doc.ID(), Checks: doc.Checks}
	}

	b, runErr := runner.Run(ctx, inputs)
	if b == nil {
		return WrapExitError(ExitCommandError, "run failed", runErr)
	}
	if runErr != nil {
		log.Warn("run cut short", "run_id", b.RunID, "error", runErr)
	}

	if err := recordRun(ctx, opts, cfg, b, path, keys, formatter); err != nil {
		return err
	}

	if formatter.JSON() {
		if err := formatter.RunSuccess(b.RunID, b.Results); err != nil {
			return err
		}
	} else {
		printBatch(formatter, b)
	}

	if !b.Green() {
		sum := b.Summarize()
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d document(s) RED", sum.Red, sum.Documents))
	}
	return nil
}

// recordRun signs, stores and publishes a finished batch as requested.
// Each step only runs once the previous one succeeded.
func recordRun(ctx context.Context, opts *RunOptions, cfg *config.Config, b *batch.Batch, source string, s *signer, f *OutputFormatter) error {
	log := opts.logger()

	var receipt *sign.Receipt
	if s != nil {
		r, err := sign.Seal(b.Payload(), s.priv, sign.Options{KeyID: s.keyID, Now: opts.Now})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to sign batch", err)
		}
		receipt = r
		files, err := writeReceiptFiles(cfg.OutDir, receipt)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to write receipt", err)
		}
		log.Info("receipt written", "run_id", b.RunID, "files", strings.Join(files, ","))
		f.VerboseLog("wrote:\n  %s", strings.Join(files, "\n  "))
	}

	// Ledger writes use a fresh context so a cancelled run is still recorded.
	storeCtx := context.WithoutCancel(ctx)

	var st *store.Store
	if cfg.DB != "" {
		var err error
		st, err = store.Open(cfg.DB)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if err := st.WriteBatch(storeCtx, b, source); err != nil {
			return WrapExitError(ExitCommandError, "failed to record run", err)
		}
		if receipt != nil {
			if err := st.WriteReceipt(storeCtx, b.RunID, receipt); err != nil {
				return WrapExitError(ExitCommandError, "failed to record receipt", err)
			}
		}
		log.Info("run recorded", "run_id", b.RunID, "db", cfg.DB)
	}

	if opts.Publish {
		location, err := publishReceipt(storeCtx, cfg.Publish, b.RunID, receipt)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to publish receipt", err)
		}
		log.Info("receipt published", "run_id", b.RunID, "location", location)
		f.VerboseLog("published %s", location)
		if st != nil {
			if err := st.SetReceiptLocation(storeCtx, b.RunID, location); err != nil {
				return WrapExitError(ExitCommandError, "failed to record receipt location", err)
			}
		}
	}
	return nil
}

func publishReceipt(ctx context.Context, cfg publish.Config, runID string, r *sign.Receipt) (string, error) {
	if r == nil {
		return "", errors.New("no receipt to publish")
	}
	p, err := publish.New(cfg)
	if err != nil {
		return "", err
	}
	data, err := r.Marshal()
	if err != nil {
		return "", err
	}
	return p.Publish(ctx, runID, data)
}

// loadDocuments loads capsules at path. Malformed documents fail the command
// unless skipInvalid is set, in which case they are logged and left out.
func loadDocuments(path string, skipInvalid bool, log *slog.Logger) ([]*capsule.Document, error) {
	docs, errs := capsule.Load(path)
	if len(errs) > 0 {
		if !skipInvalid || len(docs) == 0 {
			return nil, loadFailure(errs)
		}
		for _, err := range errs {
			log.Warn("skipping document", "error", err)
		}
	}
	if len(docs) == 0 {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("no capsules found in %s", path))
	}
	return docs, nil
}

func loadFailure(errs []error) *ExitError {
	if len(errs) == 1 {
		return WrapExitError(ExitCommandError, "failed to load capsules", errs[0])
	}
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	return NewExitError(ExitCommandError,
		fmt.Sprintf("failed to load capsules:\n  %s", strings.Join(msgs, "\n  ")))
}

var statusMarks = map[witness.Status]string{
	witness.StatusPass:      "✓",
	witness.StatusFail:      "✗",
	witness.StatusSkip:      "-",
	witness.StatusError:     "⚠",
	witness.StatusTimeout:   "⏱",
	witness.StatusCancelled: "⊘",
}

// printBatch writes the human-readable report: failures in detail, then a
// one-row summary table.
func printBatch(f *OutputFormatter, b *batch.Batch) {
	for _, r := range b.Results {
		if r.Status == batch.StatusSkip && len(r.Outcomes) == 0 {
			continue
		}
		f.Printf("\n%s: %s\n", r.ID, r.Status)
		for _, o := range r.Outcomes {
			f.Printf("  %s %s %s (%dms)\n", statusMarks[o.Status], o.Name, o.Status, o.DurationMS)
			if !o.Status.Success() || f.Verbose {
				printStream(f, o.Stderr)
			}
			if f.Verbose {
				printStream(f, o.Stdout)
			}
		}
	}

	sum := b.Summarize()
	f.Printf("\n")
	f.Table(
		table.Row{"Run", "Documents", "Checks", "Green", "Red", "Skip"},
		[]table.Row{{b.RunID, sum.Documents, sum.Checks, sum.Green, sum.Red, sum.Skip}},
	)
}

func printStream(f *OutputFormatter, s string) {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return
	}
	for _, line := range strings.Split(s, "\n") {
		f.Printf("    %s\n", line)
	}
}
