// Package action runs the external handler script of a command.
package action

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailcmd/internal/fault"
	"github.com/nhle/mailcmd/internal/logging"
	"github.com/nhle/mailcmd/internal/model"
)

// waitDelay bounds how long Execute waits for output pipes after the
// handler is killed on cancellation.
const waitDelay = 2 * time.Second

// Result is the outcome of one dispatch.
type Result struct {
	Command  model.Command
	Skipped  bool
	Script   string
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Err      error
}

// OK reports whether the handler ran and exited with status 0, or was
// skipped as a no-op.
func (r Result) OK() bool {
	return r.Skipped || (r.Err == nil && r.ExitCode == 0)
}

// Runner invokes the handler configured for each command kind through
// a shell. It holds no state between invocations.
type Runner struct {
	cfg    model.ActionsConfig
	logger zerolog.Logger
}

// NewRunner creates a runner for the configured handlers.
func NewRunner(cfg model.ActionsConfig, logger zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, logger: logging.Component(logger, "action")}
}

// Script returns the handler script for cmd.
func (r *Runner) Script(cmd model.Command) string {
	var name string
	switch c := cmd.(type) {
	case model.Scene:
		name = r.cfg.Scene
		if c.IsReport() {
			name = r.cfg.SceneReport
		}
	case model.Solar:
		name = r.cfg.Solar
	case model.Alarm:
		name = r.cfg.Alarm
	case model.Water:
		name = r.cfg.Water
	case model.Free:
		name = r.cfg.Free
	}
	return r.cfg.ScriptPath(name)
}

// Argv returns the full command line used to run cmd.
func (r *Runner) Argv(cmd model.Command) []string {
	argv := []string{r.cfg.Shell, r.Script(cmd)}
	argv = append(argv, cmd.Args()...)
	if s, ok := cmd.(model.Scene); ok && !s.IsReport() && r.cfg.Origin != "" {
		argv = append(argv, r.cfg.Origin)
	}
	return argv
}

// Execute runs the handler for cmd synchronously and captures its
// output. Launch failures and non-zero exits are logged and reported in
// the result, never returned: the caller treats every dispatch as done.
func (r *Runner) Execute(ctx context.Context, cmd model.Command) Result {
	res := Result{Command: cmd}
	logger := r.logger.With().Stringer("command", cmd).Logger()

	if cmd.Noop() {
		logger.Debug().Msg("no-op command, nothing to run")
		res.Skipped = true
		return res
	}

	res.Script = r.Script(cmd)
	if res.Script == "" {
		res.Err = fmt.Errorf("no handler configured for %s", cmd.Kind())
		res.ExitCode = -1
		fault.Log(logger, res.Err, "command failed")
		return res
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	argv := r.Argv(cmd)
	c := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr
	c.WaitDelay = waitDelay

	logger.Info().Str("script", res.Script).Strs("args", argv[2:]).Msg("processing command")

	start := time.Now()
	err := c.Run()
	res.Duration = time.Since(start)
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	logLines(logger, zerolog.InfoLevel, res.Stdout, "stdout")
	logLines(logger, zerolog.WarnLevel, res.Stderr, "stderr")

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		res.Err = fault.Wrap(err, "running %s", strings.Join(argv, " "))
		logger.Error().
			Str("script", res.Script).
			Int("exit_code", res.ExitCode).
			Array("causes", fault.Flatten(res.Err)).
			Msg("command failed")
		return res
	}

	logger.Debug().Dur("duration", res.Duration).Msg("command completed")
	return res
}

// logLines emits one record per non-empty line of captured output.
func logLines(logger zerolog.Logger, level zerolog.Level, text, stream string) {
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		logger.WithLevel(level).Str("stream", stream).Msg(line)
	}
}
