package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/capsulecheck/internal/capsule"
	"github.com/roach88/capsulecheck/internal/digest"
)

// Digest statuses.
const (
	DigestOK       = "ok"
	DigestMissing  = "missing"
	DigestMismatch = "mismatch"
	DigestUpdated  = "updated"
	DigestError    = "error"
)

// DigestOptions holds flags for the digest command.
type DigestOptions struct {
	*RootOptions
	Verify bool
}

// DigestEntry is the digest state of one capsule file.
type DigestEntry struct {
	File      string `json:"file"`
	ID        string `json:"id,omitempty"`
	Status    string `json:"status"`
	OldDigest string `json:"old_digest,omitempty"`
	NewDigest string `json:"new_digest,omitempty"`
	Algorithm string `json:"digest_algo,omitempty"`
	Updated   bool   `json:"updated"`
	Error     string `json:"error,omitempty"`
}

// DigestSummary counts entries by status.
type DigestSummary struct {
	Total    int `json:"total"`
	OK       int `json:"ok"`
	Updated  int `json:"updated"`
	Missing  int `json:"missing"`
	Mismatch int `json:"mismatch"`
	Errors   int `json:"errors"`
}

// DigestReport is the JSON output of the digest command.
type DigestReport struct {
	Summary DigestSummary `json:"summary"`
	Results []DigestEntry `json:"results"`
}

// NewDigestCommand creates the digest command.
func NewDigestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DigestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "digest [path]",
		Short: "Compute or verify capsule core digests",
		Long: `Compute the digest of every capsule's core fields (assumptions, domain, id,
pedagogy, statement, title, version) over their canonical JSON form.

By default missing or stale digests are written back to
provenance.signing.digest, keeping the rest of the file as it was. With
--verify nothing is written.

Exit codes:
  0 - no errors (and, with --verify, no mismatches)
  1 - a document could not be digested, or --verify found a mismatch
  2 - path not found or usage error`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "capsules"
			if len(args) == 1 {
				path = args[0]
			}
			return runDigest(opts, path, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "verify digests without updating files")

	return cmd
}

func runDigest(opts *DigestOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	log := opts.logger()

	docs, errs, err := loadForInspection(path)
	if err != nil {
		return err
	}

	entries := make([]DigestEntry, 0, len(docs)+len(errs))
	for _, e := range errs {
		entries = append(entries, errorEntry(e))
	}
	for _, doc := range docs {
		entry := digestDocument(doc, opts.Verify)
		if entry.Status == DigestError {
			log.Warn("digest failed", "file", entry.File, "error", entry.Error)
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].File < entries[j].File })

	report := DigestReport{Summary: summarizeDigests(entries), Results: entries}
	if formatter.JSON() {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		printDigestReport(formatter, report, opts.Verify)
	}

	sum := report.Summary
	if sum.Errors > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d capsule(s) could not be digested", sum.Errors))
	}
	if opts.Verify && sum.Mismatch > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d capsule digest(s) do not match", sum.Mismatch))
	}
	return nil
}

// loadForInspection loads capsules for the digest, seal and policy commands.
// Per-file failures are returned alongside good documents; only a missing
// or empty path is fatal.
func loadForInspection(path string) ([]*capsule.Document, []error, error) {
	docs, errs := capsule.Load(path)
	if len(docs) == 0 && len(errs) == 1 {
		var le *capsule.LoadError
		if errors.As(errs[0], &le) && (le.Code == capsule.ErrCodeNotFound || le.Code == capsule.ErrCodeNoFiles) {
			return nil, nil, WrapExitError(ExitCommandError, "failed to load capsules", errs[0])
		}
	}
	return docs, errs, nil
}

func errorEntry(err error) DigestEntry {
	entry := DigestEntry{Status: DigestError, Error: err.Error()}
	var le *capsule.LoadError
	if errors.As(err, &le) {
		entry.File = le.Path
		entry.Error = le.Code + ": " + le.Message
	}
	return entry
}

func digestDocument(doc *capsule.Document, verifyOnly bool) DigestEntry {
	entry := DigestEntry{File: doc.Path, ID: doc.ID()}

	stored := doc.Signing().StoredDigest()
	entry.OldDigest = stored.Hex
	entry.Algorithm = stored.Algorithm

	core, err := doc.CanonicalCore()
	if err != nil {
		entry.Status, entry.Error = DigestError, err.Error()
		return entry
	}
	current, err := digest.Compute(stored.Algorithm, core)
	if err != nil {
		entry.Status, entry.Error = DigestError, err.Error()
		return entry
	}
	entry.NewDigest = current.Hex

	switch {
	case stored.Hex == "":
		entry.Status = DigestMissing
	case digest.Equal(stored.Hex, current.Hex):
		entry.Status = DigestOK
		return entry
	default:
		entry.Status = DigestMismatch
	}

	if verifyOnly {
		return entry
	}
	if err := doc.SetDigest(current); err != nil {
		entry.Status, entry.Error = DigestError, err.Error()
		return entry
	}
	if err := doc.Save(); err != nil {
		entry.Status, entry.Error = DigestError, err.Error()
		return entry
	}
	entry.Status, entry.Updated = DigestUpdated, true
	return entry
}

func summarizeDigests(entries []DigestEntry) DigestSummary {
	s := DigestSummary{Total: len(entries)}
	for _, e := range entries {
		if e.Updated {
			s.Updated++
		}
		switch e.Status {
		case DigestOK:
			s.OK++
		case DigestMissing:
			s.Missing++
		case DigestMismatch:
			s.Mismatch++
		case DigestError:
			s.Errors++
		}
	}
	return s
}

var digestMarks = map[string]string{
	DigestUpdated:  "✓",
	DigestMissing:  "◯",
	DigestMismatch: "✗",
	DigestError:    "⚠",
}

func printDigestReport(f *OutputFormatter, r DigestReport, verifyOnly bool) {
	mode := "Update"
	if verifyOnly {
		mode = "Verification"
	}
	s := r.Summary
	f.Printf("Digest %s Summary:\n", mode)
	f.Table(
		table.Row{"Total", "OK", "Updated", "Missing", "Mismatch", "Errors"},
		[]table.Row{{s.Total, s.OK, s.Updated, s.Missing, s.Mismatch, s.Errors}},
	)

	for _, e := range r.Results {
		if e.Status == DigestOK {
			continue
		}
		id := e.ID
		if id == "" {
			id = "?"
		}
		f.Printf("%s %s  (%s)\n", digestMarks[e.Status], e.File, id)
		switch e.Status {
		case DigestError:
			f.Printf("  ERROR: %s\n", e.Error)
		case DigestMismatch:
			f.Printf("  OLD: %s...\n", short(e.OldDigest))
			f.Printf("  NEW: %s...\n", short(e.NewDigest))
		case DigestMissing, DigestUpdated:
			f.Printf("  NEW: %s...\n", short(e.NewDigest))
		}
	}
}

func short(hex string) string {
	return digest.Digest{Hex: hex}.Short()
}
