// Package dispatch drives the mailbox: it scans folders for command
// messages, runs their commands and removes them, either once or every
// time the server reports a change.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nhle/mailcmd/internal/action"
	"github.com/nhle/mailcmd/internal/fault"
	"github.com/nhle/mailcmd/internal/grammar"
	"github.com/nhle/mailcmd/internal/logging"
	"github.com/nhle/mailcmd/internal/mailbox"
	"github.com/nhle/mailcmd/internal/model"
)

// settleTimeout bounds flagging a handled message after cancellation.
const settleTimeout = 10 * time.Second

// Runner executes one command. Failures are reported in the result and
// never stop a pass.
type Runner interface {
	Execute(ctx context.Context, cmd model.Command) action.Result
}

// Scanner processes every message of a folder in one pass.
type Scanner struct {
	trustedSender string
	runner        Runner
	logger        zerolog.Logger
}

// NewScanner creates a scanner dispatching messages from trustedSender.
func NewScanner(trustedSender string, runner Runner, logger zerolog.Logger) *Scanner {
	return &Scanner{
		trustedSender: strings.TrimSpace(trustedSender),
		runner:        runner,
		logger:        logging.Component(logger, "scanner"),
	}
}

// Trusted reports whether sender is the trusted address. Addresses are
// compared case-insensitively.
func (s *Scanner) Trusted(sender string) bool {
	return s.trustedSender != "" && strings.EqualFold(strings.TrimSpace(sender), s.trustedSender)
}

// ProcessPass runs Scan and contains its failure: the error is logged
// with its cause chain and the count of messages handled before the
// failure is returned.
func (s *Scanner) ProcessPass(ctx context.Context, folder mailbox.Folder) int {
	matched, err := s.Scan(ctx, folder)
	logger := s.logger.With().Str("folder", folder.Name()).Int("matched", matched).Logger()
	switch {
	case err == nil:
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		logger.Info().Msg("scan pass cancelled")
	default:
		fault.Log(logger, err, "scan pass aborted")
	}
	return matched
}

// markDeleted flags a message whose commands have run. Once they have,
// the flag is recorded even if ctx was cancelled meanwhile, within
// settleTimeout.
func (s *Scanner) markDeleted(ctx context.Context, folder mailbox.Folder, seqNum uint32) error {
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		defer cancel()
	}
	return folder.MarkDeleted(ctx, seqNum)
}

// Scan opens folder read-write, dispatches every command found in the
// subjects of messages from the trusted sender, flags those messages
// deleted and expunges once at the end. It returns the number of
// messages with at least one command.
//
// Sequence numbers from the fetch are used for flagging, so the folder
// is not re-fetched within a pass and Expunge is only called after every
// message has been handled.
//
// Cancelling ctx ends the pass before the next command. A message whose
// command was refused or killed by the cancellation is left unflagged,
// and the expunge is left to the next pass.
func (s *Scanner) Scan(ctx context.Context, folder mailbox.Folder) (int, error) {
	logger := s.logger.With().
		Str("pass", uuid.NewString()).
		Str("folder", folder.Name()).
		Logger()

	if err := folder.Open(ctx, mailbox.ReadWrite); err != nil {
		return 0, fault.Wrap(err, "opening %s", folder.Name())
	}

	msgs, err := folder.Fetch(ctx)
	if err != nil {
		return 0, fault.Wrap(err, "fetching %s", folder.Name())
	}

	matched := 0
	for _, msg := range msgs {
		msgLogger := logger.With().Uint32("seq", msg.SeqNum).Logger()
		msgLogger.Debug().Str("from", msg.Sender).Str("subject", msg.Subject).Msg("fetched message")

		if !s.Trusted(msg.Sender) {
			continue
		}
		if msg.Deleted {
			msgLogger.Debug().Msg("already flagged deleted, waiting for expunge")
			continue
		}

		cmds := grammar.Parse(msg.Subject)
		if len(cmds) == 0 {
			continue
		}

		for _, cmd := range cmds {
			if err := ctx.Err(); err != nil {
				return matched, fault.Wrap(err, "scan cancelled at message %d", msg.SeqNum)
			}
			res := s.runner.Execute(ctx, cmd)
			if !res.OK() {
				// A command killed or refused by cancellation has not
				// run; the message stays for the next pass.
				if err := ctx.Err(); err != nil {
					return matched, fault.Wrap(err, "scan cancelled while running %s", cmd)
				}
				msgLogger.Warn().Stringer("command", cmd).Int("exit_code", res.ExitCode).
					Msg("command did not succeed; message is still processed")
			}
		}

		if err := s.markDeleted(ctx, folder, msg.SeqNum); err != nil {
			return matched, fault.Wrap(err, "flagging message %d", msg.SeqNum)
		}
		matched++

		if err := ctx.Err(); err != nil {
			return matched, fault.Wrap(err, "scan cancelled after message %d", msg.SeqNum)
		}
	}

	if err := folder.Expunge(ctx); err != nil {
		return matched, fault.Wrap(err, "expunging %s", folder.Name())
	}

	ev := logger.Debug()
	if matched > 0 {
		ev = logger.Info()
	}
	ev.Int("matched", matched).Int("fetched", len(msgs)).Msgf("processed %d messages", matched)

	return matched, nil
}
