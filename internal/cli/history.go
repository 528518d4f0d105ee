package cli

import (
	"errors"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/capsulecheck/internal/config"
	"github.com/roach88/capsulecheck/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Capsule string
	Run     string
	Limit   int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded runs",
		Long: `List runs recorded with "capsulecheck run --db", newest first.

With --capsule, list one document's verdicts across runs. With --run, show
the document verdicts of a single run.

Examples:
  capsulecheck history --db ledger.db
  capsulecheck history --db ledger.db --capsule llm.citation_required
  capsulecheck history --db ledger.db --run 0192f8d4-...`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().String(config.KeyDB, "", "path to the SQLite ledger (required)")
	cmd.Flags().StringVar(&opts.Capsule, "capsule", "", "show one document's verdicts")
	cmd.Flags().StringVar(&opts.Run, "run", "", "show one run's verdicts")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "max rows (0 = all)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.DB == "" {
		return NewExitError(ExitCommandError, "a ledger is required (--db or CAPSULECHECK_DB)")
	}
	formatter := opts.formatter(cmd)

	st, err := store.Open(cfg.DB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			opts.logger().Error("error closing database", "error", closeErr)
		}
	}()

	ctx := cmd.Context()
	switch {
	case opts.Run != "":
		b, err := st.ReadBatch(ctx, opts.Run)
		if errors.Is(err, store.ErrRunNotFound) {
			return WrapExitError(ExitCommandError, "unknown run", err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run", err)
		}
		if formatter.JSON() {
			return formatter.RunSuccess(b.RunID, b.Results)
		}
		rows := make([]table.Row, 0, len(b.Results))
		for _, r := range b.Results {
			rows = append(rows, table.Row{r.ID, r.Status, len(r.Outcomes)})
		}
		formatter.Table(table.Row{"Document", "Status", "Checks"}, rows)
		return nil

	case opts.Capsule != "":
		history, err := st.DocumentHistory(ctx, opts.Capsule, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read history", err)
		}
		if formatter.JSON() {
			return formatter.Success(history)
		}
		rows := make([]table.Row, 0, len(history))
		for _, h := range history {
			rows = append(rows, table.Row{h.RunID, h.StartedAt.Format(time.RFC3339), h.Status})
		}
		formatter.Table(table.Row{"Run", "Started", "Status"}, rows)
		return nil

	default:
		runs, err := st.ListRuns(ctx, opts.Limit)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		if formatter.JSON() {
			return formatter.Success(runs)
		}
		rows := make([]table.Row, 0, len(runs))
		for _, r := range runs {
			signed := ""
			if r.Signed {
				signed = "yes"
			}
			rows = append(rows, table.Row{
				r.RunID, r.StartedAt.Format(time.RFC3339), r.Source,
				r.Documents, r.Green, r.Red, r.Skip, signed, r.Location,
			})
		}
		formatter.Table(table.Row{"Run", "Started", "Source", "Docs", "Green", "Red", "Skip", "Signed", "Location"}, rows)
		return nil
	}
}
