package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/nhle/mailcmd/internal/fault"
	"github.com/nhle/mailcmd/internal/logging"
	"github.com/nhle/mailcmd/internal/mailbox"
)

// Listener watches the inbox and runs a scan pass for every change the
// server reports.
type Listener struct {
	dialer  mailbox.Dialer
	creds   mailbox.Credentials
	scanner *Scanner
	logger  zerolog.Logger

	// InitialPass scans once before the first wait so that messages
	// delivered while disconnected are not left waiting for the next
	// notification.
	InitialPass bool
}

// NewListener creates a listener.
func NewListener(dialer mailbox.Dialer, creds mailbox.Credentials, scanner *Scanner, logger zerolog.Logger) *Listener {
	return &Listener{
		dialer:  dialer,
		creds:   creds,
		scanner: scanner,
		logger:  logging.Component(logger, "listener"),
	}
}

// Listen connects, opens the inbox read-only and waits for changes until
// ctx is cancelled, in which case it returns nil. A dropped connection
// returns mailbox.ErrDisconnected; the caller decides whether to
// reconnect. Scan pass failures are logged and do not end the loop.
func (l *Listener) Listen(ctx context.Context) error {
	conn, err := connect(ctx, l.dialer, l.creds)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		fault.Log(l.logger, err, "listener failed")
		return err
	}
	defer disconnect(conn, l.logger)

	inbox := conn.Folder(mailbox.Inbox)
	if err := inbox.Open(ctx, mailbox.ReadOnly); err != nil {
		err = fault.Wrap(err, "opening %s", mailbox.Inbox)
		fault.Log(l.logger, err, "listener failed")
		return err
	}

	if l.InitialPass {
		l.scanner.ProcessPass(ctx, inbox)
	}

	l.logger.Info().Str("folder", inbox.Name()).Msg("waiting for changes")
	for {
		ev, err := conn.Wait(ctx)
		switch {
		case ctx.Err() != nil:
			l.logger.Info().Msg("listener stopped")
			return nil
		case errors.Is(err, mailbox.ErrDisconnected):
			l.logger.Warn().Msg("server closed the connection")
			return err
		case err != nil:
			err = fault.Wrap(err, "waiting for changes")
			fault.Log(l.logger, err, "listener failed")
			return err
		}

		l.logger.Debug().
			Stringer("event", ev.Kind).
			Uint32("count", ev.Count).
			Uint32("seq", ev.SeqNum).
			Msg("mailbox changed")

		l.scanner.ProcessPass(ctx, inbox)
	}
}

// Supervisor keeps a Listener running, reconnecting after Delay whenever
// it returns. Authentication failures are not retried.
type Supervisor struct {
	listener *Listener
	delay    time.Duration
	logger   zerolog.Logger
}

// NewSupervisor creates a supervisor. A zero delay disables reconnection.
func NewSupervisor(listener *Listener, delay time.Duration, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		listener: listener,
		delay:    delay,
		logger:   logging.Component(logger, "supervisor"),
	}
}

// Run listens until ctx is cancelled, returning nil, or until the
// listener fails in a way that is not retried.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		err := s.listener.Listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil || s.delay <= 0 || mailbox.IsAuthError(err) {
			return err
		}

		s.logger.Info().Dur("delay", s.delay).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.delay):
		}
	}
}
