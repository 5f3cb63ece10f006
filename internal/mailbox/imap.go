package mailbox

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-sasl"
	"github.com/rs/zerolog"

	"github.com/nhle/mailcmd/internal/logging"
)

// IMAPDialer dials an IMAP server with go-imap.
type IMAPDialer struct {
	Host string
	Port int

	// TLS selects implicit TLS; otherwise STARTTLS is required.
	TLS bool

	// Timeout bounds connection establishment and logout.
	Timeout time.Duration

	// IdleRefresh is how often a running IDLE is re-issued. Servers may
	// drop an IDLE after 30 minutes.
	IdleRefresh time.Duration

	// Debug receives the raw protocol exchange when non-nil.
	Debug io.Writer

	Logger zerolog.Logger
}

// Dial connects to the server. The returned connection is not
// authenticated.
func (d *IMAPDialer) Dial(ctx context.Context) (Conn, error) {
	addr := net.JoinHostPort(d.Host, fmt.Sprint(d.Port))
	netDialer := &net.Dialer{Timeout: d.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if d.TLS {
		conn, err = (&tls.Dialer{NetDialer: netDialer, Config: d.tlsConfig()}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = netDialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	c, err := d.start(conn, !d.TLS)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	return c, nil
}

func (d *IMAPDialer) tlsConfig() *tls.Config {
	return &tls.Config{ServerName: d.Host}
}

// start runs an IMAP client over an established connection, upgrading
// it with STARTTLS first when startTLS is set. The connection is closed
// on failure.
func (d *IMAPDialer) start(conn net.Conn, startTLS bool) (*IMAPConn, error) {
	c := &IMAPConn{
		events:      make(chan Event, 1),
		timeout:     d.Timeout,
		idleRefresh: d.IdleRefresh,
		logger:      logging.Component(d.Logger, "imap").With().Str("server", conn.RemoteAddr().String()).Logger(),
	}

	opts := &imapclient.Options{
		TLSConfig:   d.tlsConfig(),
		DebugWriter: d.Debug,
		WordDecoder: &mime.WordDecoder{CharsetReader: charset.Reader},
		UnilateralDataHandler: &imapclient.UnilateralDataHandler{
			Expunge: func(seqNum uint32) {
				c.notify(Event{Kind: EventExpunged, SeqNum: seqNum})
			},
			Mailbox: func(data *imapclient.UnilateralDataMailbox) {
				if data.NumMessages != nil {
					c.notify(Event{Kind: EventCountChanged, Count: *data.NumMessages})
				}
				if data.Flags != nil {
					c.notify(Event{Kind: EventFlagsChanged})
				}
			},
			Fetch: func(msg *imapclient.FetchMessageData) {
				seqNum := msg.SeqNum
				if _, err := msg.Collect(); err != nil {
					c.logger.Debug().Err(err).Msg("discarding unilateral fetch")
				}
				c.notify(Event{Kind: EventFlagsChanged, SeqNum: seqNum})
			},
			Metadata: func(mailbox string, entries []string) {
				c.notify(Event{Kind: EventAnnotationsChanged})
			},
		},
	}

	if startTLS {
		client, err := imapclient.NewStartTLS(conn, opts)
		if err != nil {
			conn.Close()
			return nil, err
		}
		c.client = client
	} else {
		c.client = imapclient.New(conn, opts)
	}

	c.logger.Debug().Bool("starttls", startTLS).Msg("connected")
	return c, nil
}

// IMAPConn is a Conn backed by an imapclient.Client.
type IMAPConn struct {
	client      *imapclient.Client
	events      chan Event
	timeout     time.Duration
	idleRefresh time.Duration
	logger      zerolog.Logger
}

// notify queues a change notification. It runs on the client's reader
// goroutine and must not block; notifications that arrive while one is
// pending are coalesced.
func (c *IMAPConn) notify(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

// guard closes the connection if ctx is done before the returned stop
// function is called, unblocking any pending command.
func (c *IMAPConn) guard(ctx context.Context) (stop func() bool) {
	return context.AfterFunc(ctx, func() { _ = c.client.Close() })
}

// Authenticate logs in with LOGIN or SASL PLAIN.
func (c *IMAPConn) Authenticate(ctx context.Context, creds Credentials) error {
	defer c.guard(ctx)()

	var err error
	switch strings.ToLower(creds.Mechanism) {
	case "plain":
		err = c.client.Authenticate(sasl.NewPlainClient("", creds.Username, creds.Password))
	default:
		err = c.client.Login(creds.Username, creds.Password).Wait()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &AuthError{Username: creds.Username, Err: err}
	}

	c.logger.Debug().Str("username", creds.Username).Msg("authenticated")
	return nil
}

// DefaultFolder resolves the personal namespace with NAMESPACE when the
// server supports it.
func (c *IMAPConn) DefaultFolder(ctx context.Context) (Folder, error) {
	if !c.client.Caps().Has(imap.CapNamespace) {
		return c.Folder(Inbox), nil
	}

	defer c.guard(ctx)()
	data, err := c.client.Namespace().Wait()
	if err != nil {
		return nil, fmt.Errorf("listing namespaces: %w", err)
	}
	return c.Folder(defaultFolderName(data.Personal)), nil
}

// defaultFolderName returns the folder named by the first personal
// namespace prefix, or INBOX when the prefix is the root.
func defaultFolderName(personal []imap.NamespaceDescriptor) string {
	if len(personal) == 0 {
		return Inbox
	}
	ns := personal[0]
	name := ns.Prefix
	if ns.Delim != 0 {
		name = strings.TrimSuffix(name, string(ns.Delim))
	}
	if name == "" {
		return Inbox
	}
	return name
}

// Folder returns a handle to the named folder.
func (c *IMAPConn) Folder(name string) Folder {
	return &imapFolder{conn: c, name: name}
}

// Wait runs IDLE until a notification arrives.
func (c *IMAPConn) Wait(ctx context.Context) (Event, error) {
	select {
	case <-c.client.Closed():
		return Event{}, ErrDisconnected
	default:
	}

	idle, err := c.client.Idle()
	if err != nil {
		return Event{}, fmt.Errorf("starting IDLE: %w", err)
	}

	var refresh <-chan time.Time
	if c.idleRefresh > 0 {
		ticker := time.NewTicker(c.idleRefresh)
		defer ticker.Stop()
		refresh = ticker.C
	}

	for {
		select {
		case ev := <-c.events:
			if err := stopIdle(idle); err != nil {
				return ev, fmt.Errorf("stopping IDLE: %w", err)
			}
			return ev, nil
		case <-ctx.Done():
			// The server may never answer DONE; Close releases the
			// connection regardless.
			_ = idle.Close()
			return Event{}, ctx.Err()
		case <-c.client.Closed():
			return Event{}, ErrDisconnected
		case <-refresh:
			c.logger.Trace().Msg("refreshing IDLE")
			if err := stopIdle(idle); err != nil {
				return Event{}, fmt.Errorf("stopping IDLE: %w", err)
			}
			if idle, err = c.client.Idle(); err != nil {
				return Event{}, fmt.Errorf("restarting IDLE: %w", err)
			}
		}
	}
}

func stopIdle(idle *imapclient.IdleCommand) error {
	return errors.Join(idle.Close(), idle.Wait())
}

// Close logs out, bounded by the dial timeout, then closes the socket.
func (c *IMAPConn) Close() error {
	select {
	case <-c.client.Closed():
		return nil
	default:
	}

	done := make(chan error, 1)
	go func() { done <- c.client.Logout().Wait() }()

	timeout := c.timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	var err error
	select {
	case err = <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("logout timed out after %s", timeout)
	}
	_ = c.client.Close()

	if err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	c.logger.Debug().Msg("disconnected")
	return nil
}

type imapFolder struct {
	conn        *IMAPConn
	name        string
	selected    bool
	numMessages uint32
}

func (f *imapFolder) Name() string { return f.name }

func (f *imapFolder) Open(ctx context.Context, access Access) error {
	defer f.conn.guard(ctx)()

	data, err := f.conn.client.Select(f.name, &imap.SelectOptions{
		ReadOnly: access == ReadOnly,
	}).Wait()
	if err != nil {
		return fmt.Errorf("selecting %s %s: %w", f.name, access, err)
	}

	f.selected = true
	f.numMessages = data.NumMessages
	return nil
}

func (f *imapFolder) Fetch(ctx context.Context) ([]Summary, error) {
	if !f.selected {
		return nil, fmt.Errorf("fetching %s: folder not open", f.name)
	}
	if f.numMessages == 0 {
		return nil, nil
	}

	defer f.conn.guard(ctx)()

	var all imap.SeqSet
	all.AddRange(1, 0)

	msgs, err := f.conn.client.Fetch(all, &imap.FetchOptions{
		Envelope: true,
		Flags:    true,
		UID:      true,
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetching %s summaries: %w", f.name, err)
	}

	summaries := make([]Summary, 0, len(msgs))
	for _, msg := range msgs {
		summaries = append(summaries, summaryFromBuffer(msg))
	}
	return summaries, nil
}

func (f *imapFolder) MarkDeleted(ctx context.Context, seqNum uint32) error {
	defer f.conn.guard(ctx)()

	err := f.conn.client.Store(imap.SeqSetNum(seqNum), &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil).Close()
	if err != nil {
		return fmt.Errorf("flagging message %d in %s: %w", seqNum, f.name, err)
	}
	return nil
}

func (f *imapFolder) Expunge(ctx context.Context) error {
	defer f.conn.guard(ctx)()

	if err := f.conn.client.Expunge().Close(); err != nil {
		return fmt.Errorf("expunging %s: %w", f.name, err)
	}
	return nil
}

// summaryFromBuffer extracts a Summary from a FetchMessageBuffer. The
// sender is the envelope Sender, falling back to From.
func summaryFromBuffer(buf *imapclient.FetchMessageBuffer) Summary {
	s := Summary{
		SeqNum: buf.SeqNum,
		UID:    uint32(buf.UID),
	}

	for _, flag := range buf.Flags {
		if flag == imap.FlagDeleted {
			s.Deleted = true
		}
	}

	if buf.Envelope != nil {
		s.Subject = buf.Envelope.Subject

		switch {
		case len(buf.Envelope.Sender) > 0:
			s.Sender = buf.Envelope.Sender[0].Addr()
		case len(buf.Envelope.From) > 0:
			s.Sender = buf.Envelope.From[0].Addr()
		}
	}

	return s
}
