package pipeline

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner executes external commands; tests substitute a fake
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands with os/exec
type ExecRunner struct {
	Logger *slog.Logger
}

func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()

	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err != nil {
		logger.Error("Command failed",
			slog.String("cmd", name),
			slog.String("args", strings.Join(args, " ")),
			slog.Duration("duration", time.Since(start)),
			slog.String("stderr", truncate(errb.String(), 8<<10)),
			slog.Any("error", err),
		)
	} else {
		logger.Debug("Command finished",
			slog.String("cmd", name),
			slog.Duration("duration", time.Since(start)),
			slog.Int("stdout_bytes", out.Len()),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
