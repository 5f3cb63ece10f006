package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nhle/mailcmd/internal/fault"
	"github.com/nhle/mailcmd/internal/mailbox"
)

// connect dials and authenticates. The connection is closed if
// authentication fails.
func connect(ctx context.Context, dialer mailbox.Dialer, creds mailbox.Credentials) (mailbox.Conn, error) {
	conn, err := dialer.Dial(ctx)
	if err != nil {
		return nil, fault.Wrap(err, "connecting")
	}
	if err := conn.Authenticate(ctx, creds); err != nil {
		_ = conn.Close()
		return nil, fault.Wrap(err, "authenticating")
	}
	return conn, nil
}

// disconnect closes conn, logging a failed logout.
func disconnect(conn mailbox.Conn, logger zerolog.Logger) {
	if err := conn.Close(); err != nil {
		logger.Warn().Err(err).Msg("disconnect failed")
	}
}
