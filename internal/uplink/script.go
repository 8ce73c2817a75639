package uplink

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"time"
)

// DefaultScriptTimeout bounds a remediation script run. A script that is
// still running at the deadline is killed along with its process group.
const DefaultScriptTimeout = 2 * time.Minute

// Runner executes remediation scripts pushed down by the aggregator. Each
// run is supervised: output is captured, the exit status is collected, and
// the run is journaled.
type Runner struct {
	journal *Journal
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewRunner returns a runner journaling to journal. timeout ≤ 0 is replaced
// with DefaultScriptTimeout.
func NewRunner(journal *Journal, logger *slog.Logger, timeout time.Duration) *Runner {
	if timeout <= 0 {
		timeout = DefaultScriptTimeout
	}
	return &Runner{journal: journal, logger: logger, timeout: timeout, now: time.Now}
}

// Run executes command through the shell with payload on its standard input,
// waits for it to exit, and journals the outcome. The returned Run carries
// the exit code and combined output even when the script failed.
func (r *Runner) Run(ctx context.Context, daemon, command string, payload []byte) (Run, error) {
	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/sh", "-c", command)
	cmd.Stdin = bytes.NewReader(payload)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	// Give the script a moment to react to the kill signal before Wait gives
	// up on its output pipes.
	cmd.WaitDelay = 5 * time.Second

	started := r.now()
	err := cmd.Run()
	run := Run{
		Daemon:     daemon,
		Command:    command,
		Output:     output.String(),
		StartedAt:  started,
		FinishedAt: r.now(),
	}
	switch {
	case err == nil:
		run.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			run.ExitCode = exitErr.ExitCode()
		} else {
			run.ExitCode = -1
		}
	}

	if jerr := r.journal.Record(ctx, run); jerr != nil {
		r.logger.Error("journal write failed", slog.Any("error", jerr))
	}

	if err != nil {
		r.logger.Error("remediation script failed",
			slog.String("daemon", daemon),
			slog.String("command", command),
			slog.Int("exit_code", run.ExitCode),
			slog.String("output", run.Output),
			slog.Any("error", err))
		return run, err
	}
	r.logger.Info("remediation script finished",
		slog.String("daemon", daemon),
		slog.String("command", command),
		slog.String("output", run.Output))
	return run, nil
}
