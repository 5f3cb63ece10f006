package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nhle/mailcmd/internal/fault"
	"github.com/nhle/mailcmd/internal/logging"
	"github.com/nhle/mailcmd/internal/mailbox"
)

// Session runs a single scan pass over one connection.
type Session struct {
	dialer  mailbox.Dialer
	creds   mailbox.Credentials
	scanner *Scanner
	logger  zerolog.Logger

	// Folder overrides the personal namespace's default folder.
	Folder string
}

// NewSession creates a one-shot session.
func NewSession(dialer mailbox.Dialer, creds mailbox.Credentials, scanner *Scanner, logger zerolog.Logger) *Session {
	return &Session{
		dialer:  dialer,
		creds:   creds,
		scanner: scanner,
		logger:  logging.Component(logger, "session"),
	}
}

// Run connects, authenticates, scans the default folder once and
// disconnects. Every failure, including connecting, is logged with its
// cause chain and returned; nothing is retried.
func (s *Session) Run(ctx context.Context) (int, error) {
	matched, err := s.run(ctx)
	if err != nil {
		fault.Log(s.logger, err, "session failed")
	}
	return matched, err
}

func (s *Session) run(ctx context.Context) (int, error) {
	conn, err := connect(ctx, s.dialer, s.creds)
	if err != nil {
		return 0, err
	}
	defer disconnect(conn, s.logger)

	var folder mailbox.Folder
	if s.Folder != "" {
		folder = conn.Folder(s.Folder)
	} else if folder, err = conn.DefaultFolder(ctx); err != nil {
		return 0, fault.Wrap(err, "resolving default folder")
	}

	return s.scanner.ProcessPass(ctx, folder), nil
}
