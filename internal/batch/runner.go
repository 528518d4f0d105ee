package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/capsulecheck/internal/witness"
)

// CheckRunner executes a single check.
type CheckRunner interface {
	Run(ctx context.Context, def witness.Definition) witness.Outcome
}

// Filter narrows a run. Empty fields match everything.
type Filter struct {
	Document string
	Check    string
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	Generate() string
}

// Runner dispatches checks with bounded concurrency. Outcome order always
// follows declaration order, regardless of completion order.
type Runner struct {
	Checks CheckRunner

	// Concurrency bounds in-flight checks. Zero means runtime.NumCPU().
	Concurrency int

	Filter Filter

	// IDs names the run. Nil leaves Batch.RunID empty.
	IDs IDGenerator

	// Now is the clock for run timestamps. Nil means time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Run executes every selected check and aggregates per document.
//
// Cancelling ctx stops dispatch: checks not yet started are recorded as
// CANCELLED and running checks are terminated by the check runner. The
// returned batch is complete in either case; the error is ctx.Err() when
// the run was cut short.
func (r *Runner) Run(ctx context.Context, inputs []Input) (*Batch, error) {
	if r.Checks == nil {
		return nil, fmt.Errorf("batch runner has no check runner")
	}
	limit := r.Concurrency
	if limit < 0 {
		return nil, fmt.Errorf("concurrency must not be negative, got %d", limit)
	}
	if limit == 0 {
		limit = runtime.NumCPU()
	}

	selected := r.Filter.apply(inputs)
	b := &Batch{StartedAt: r.now()}
	if r.IDs != nil {
		b.RunID = r.IDs.Generate()
	}

	log := r.logger()
	log.Info("batch starting", "run_id", b.RunID, "documents", len(selected), "concurrency", limit)

	// Pre-sized slots keep outcomes in declaration order.
	slots := make([][]witness.Outcome, len(selected))
	for i, in := range selected {
		slots[i] = make([]witness.Outcome, len(in.Checks))
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, in := range selected {
		for j, def := range in.Checks {
			g.Go(func() error {
				if ctx.Err() != nil {
					slots[i][j] = witness.Cancelled(def.Name)
					return nil
				}
				out := r.Checks.Run(ctx, def)
				log.Debug("check finished",
					"document", in.ID,
					"check", def.Name,
					"status", out.Status,
					"exit_code", out.ExitCode,
					"duration_ms", out.DurationMS,
				)
				slots[i][j] = out
				return nil
			})
		}
	}
	_ = g.Wait()

	b.Results = make([]DocumentResult, len(selected))
	for i, in := range selected {
		b.Results[i] = Aggregate(in.ID, slots[i])
	}
	b.FinishedAt = r.now()

	s := b.Summarize()
	log.Info("batch finished",
		"run_id", b.RunID,
		"green", s.Green,
		"red", s.Red,
		"skip", s.Skip,
	)
	return b, ctx.Err()
}

func (f Filter) apply(inputs []Input) []Input {
	out := make([]Input, 0, len(inputs))
	for _, in := range inputs {
		if f.Document != "" && in.ID != f.Document {
			continue
		}
		if f.Check == "" {
			out = append(out, in)
			continue
		}
		var checks []witness.Definition
		for _, def := range in.Checks {
			if def.Name == f.Check {
				checks = append(checks, def)
			}
		}
		if len(checks) > 0 {
			out = append(out, Input{ID: in.ID, Checks: checks})
		}
	}
	return out
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
