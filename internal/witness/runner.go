package witness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultGracePeriod is the wait between SIGTERM and SIGKILL.
const DefaultGracePeriod = 500 * time.Millisecond

// Runner executes check definitions in isolated child processes.
// The zero value is ready to use. A Runner is safe for concurrent use.
type Runner struct {
	// BaseDir resolves relative workdirs. Empty means the process cwd.
	BaseDir string

	// TempDir is the parent for per-check scratch directories.
	// Empty means os.TempDir().
	TempDir string

	// DefaultTimeout applies to definitions without a timeout.
	DefaultTimeout time.Duration

	// GracePeriod is the wait between SIGTERM and SIGKILL.
	GracePeriod time.Duration

	// MaxOutputBytes caps each of stdout and stderr.
	MaxOutputBytes int

	// Wrapper is prepended to every child argv, e.g. an external sandbox
	// launcher. The wrapper receives the child's environment and workdir.
	Wrapper []string

	Logger *slog.Logger

	// onStart observes the child pid. Tests only.
	onStart func(pid int)
}

// Run executes def and returns its outcome. It never returns an error:
// validation problems, launch failures and timeouts are all outcomes.
//
// If ctx is already done the check is not started and the outcome is
// CANCELLED. If ctx ends while the child runs, the process group is
// terminated and the outcome is CANCELLED.
func (r *Runner) Run(ctx context.Context, def Definition) Outcome {
	start := time.Now()
	out := r.run(ctx, def)
	out.Name = def.Name
	out.DurationMS = time.Since(start).Milliseconds()
	return out
}

func (r *Runner) run(ctx context.Context, def Definition) Outcome {
	lang, err := def.Validate()
	if err != nil {
		return errorOutcome(err.Error())
	}
	if ctx.Err() != nil {
		return Cancelled(def.Name)
	}

	scratch, err := os.MkdirTemp(r.TempDir, "witness-*")
	if err != nil {
		return errorOutcome(fmt.Sprintf("create scratch dir: %v", err))
	}
	defer r.cleanup(scratch)

	codePath := filepath.Join(scratch, "check"+lang.Extension())
	if err := os.WriteFile(codePath, []byte(def.Code), 0o600); err != nil {
		return errorOutcome(fmt.Sprintf("write check code: %v", err))
	}

	interpreter := def.Entrypoint
	if interpreter == "" {
		interpreter = lang.Interpreter()
	}
	argv := append(append([]string{}, r.Wrapper...), lang.Argv(interpreter, codePath, def.Args)...)

	timeout := def.Timeout
	if timeout == 0 {
		timeout = r.defaultTimeout()
	}

	r.logger().Debug("dispatching check",
		"check", def.Name,
		"language", lang.Name(),
		"timeout_ms", timeout.Milliseconds(),
	)
	return r.execute(ctx, def, argv, timeout)
}

func (r *Runner) execute(ctx context.Context, def Definition, argv []string, timeout time.Duration) Outcome {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = BuildEnv(def.Env)
	cmd.Dir = r.resolveWorkdir(def.Workdir)
	if def.Stdin != "" {
		cmd.Stdin = strings.NewReader(def.Stdin)
	}
	stdout := newBoundedBuffer(r.MaxOutputBytes)
	stderr := newBoundedBuffer(r.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	// Bounds how long Wait blocks on pipes held open by stray descendants
	// after the leader exits.
	cmd.WaitDelay = r.gracePeriod()
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return Outcome{
			Status:   StatusError,
			ExitCode: ExitNotRun,
			Stderr:   fmt.Sprintf("launch %s: %v", argv[0], err),
		}
	}
	if r.onStart != nil {
		r.onStart(cmd.Process.Pid)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var (
		waitErr   error
		timedOut  bool
		cancelled bool
	)
	select {
	case waitErr = <-done:
	case <-timer.C:
		timedOut = true
		waitErr = r.stop(cmd, done)
	case <-ctx.Done():
		cancelled = true
		waitErr = r.stop(cmd, done)
	}

	// Reap anything the leader left behind in its group.
	if err := killGroup(cmd); err != nil {
		r.logger().Warn("failed to kill process group", "check", def.Name, "error", err)
	}

	switch {
	case timedOut:
		return Outcome{
			Status:   StatusTimeout,
			ExitCode: ExitTimeout,
			Stdout:   stdout.String(),
			Stderr:   appendNote(stderr.String(), fmt.Sprintf("execution exceeded %dms timeout", timeout.Milliseconds())),
		}
	case cancelled:
		return Outcome{
			Status:   StatusCancelled,
			ExitCode: ExitNotRun,
			Stdout:   stdout.String(),
			Stderr:   appendNote(stderr.String(), "cancelled during execution"),
		}
	}

	if errors.Is(waitErr, exec.ErrWaitDelay) {
		waitErr = nil
	}
	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return Outcome{
				Status:   StatusError,
				ExitCode: ExitNotRun,
				Stdout:   stdout.String(),
				Stderr:   appendNote(stderr.String(), fmt.Sprintf("wait: %v", waitErr)),
			}
		}
		exitCode = exitErr.ExitCode()
	}

	out := stdout.String()
	return Outcome{
		Status:   Classify(exitCode, out),
		ExitCode: exitCode,
		Stdout:   out,
		Stderr:   stderr.String(),
	}
}

// stop sends SIGTERM to the group, waits out the grace period, then sends
// SIGKILL. It returns the child's wait error.
func (r *Runner) stop(cmd *exec.Cmd, done <-chan error) error {
	if err := terminateGroup(cmd); err != nil {
		r.logger().Warn("failed to terminate process group", "pid", cmd.Process.Pid, "error", err)
	}
	grace := time.NewTimer(r.gracePeriod())
	defer grace.Stop()

	select {
	case err := <-done:
		return err
	case <-grace.C:
	}
	if err := killGroup(cmd); err != nil {
		r.logger().Warn("failed to kill process group", "pid", cmd.Process.Pid, "error", err)
	}
	return <-done
}

func (r *Runner) cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		r.logger().Warn("failed to remove scratch dir", "dir", dir, "error", err)
	}
}

func (r *Runner) resolveWorkdir(dir string) string {
	if dir == "" || filepath.IsAbs(dir) || r.BaseDir == "" {
		return dir
	}
	return filepath.Join(r.BaseDir, dir)
}

func (r *Runner) defaultTimeout() time.Duration {
	if r.DefaultTimeout > 0 {
		return r.DefaultTimeout
	}
	return DefaultTimeout
}

func (r *Runner) gracePeriod() time.Duration {
	if r.GracePeriod > 0 {
		return r.GracePeriod
	}
	return DefaultGracePeriod
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// BuildEnv renders env as a sorted KEY=VALUE list. The result is never nil,
// so exec.Cmd does not fall back to the parent environment.
func BuildEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

func errorOutcome(msg string) Outcome {
	return Outcome{
		Status:   StatusError,
		ExitCode: ExitNotRun,
		Stderr:   msg,
	}
}

func appendNote(stream, note string) string {
	if stream == "" {
		return note
	}
	if !strings.HasSuffix(stream, "\n") {
		stream += "\n"
	}
	return stream + note
}
