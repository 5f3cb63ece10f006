package testutil

import (
	"context"
	"sync"

	"github.com/nhle/mailcmd/internal/action"
	"github.com/nhle/mailcmd/internal/model"
)

// Runner records every command it is asked to execute.
type Runner struct {
	mu       sync.Mutex
	commands []model.Command

	// Fail makes commands of these kinds report a non-zero exit.
	Fail map[model.Kind]bool

	// During runs while a command executes. A command whose context is
	// done afterwards is reported killed.
	During func(cmd model.Command)
}

// Execute records cmd. Like a process started with exec.CommandContext,
// a command is refused when ctx is already done and killed when ctx is
// cancelled while it runs.
func (r *Runner) Execute(ctx context.Context, cmd model.Command) action.Result {
	if cmd.Noop() {
		r.record(cmd)
		return action.Result{Command: cmd, Skipped: true}
	}
	if err := ctx.Err(); err != nil {
		return action.Result{Command: cmd, ExitCode: -1, Err: err}
	}

	r.record(cmd)
	if r.During != nil {
		r.During(cmd)
	}
	if err := ctx.Err(); err != nil {
		return action.Result{Command: cmd, ExitCode: -1, Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail[cmd.Kind()] {
		return action.Result{Command: cmd, ExitCode: 1}
	}
	return action.Result{Command: cmd}
}

func (r *Runner) record(cmd model.Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, cmd)
}

// Commands returns every command started or skipped.
func (r *Runner) Commands() []model.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Command(nil), r.commands...)
}

// Invocations returns the commands that would have started a process.
func (r *Runner) Invocations() []model.Command {
	var out []model.Command
	for _, c := range r.Commands() {
		if !c.Noop() {
			out = append(out, c)
		}
	}
	return out
}
