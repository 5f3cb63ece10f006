package dispatch_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailcmd/internal/dispatch"
	"github.com/nhle/mailcmd/internal/mailbox"
	"github.com/nhle/mailcmd/internal/model"
	"github.com/nhle/mailcmd/tests/testutil"
)

var creds = mailbox.Credentials{Username: "bot@example.org", Password: "secret", Mechanism: "login"}

type listenFixture struct {
	conn     *testutil.FakeConn
	dialer   *testutil.FakeDialer
	runner   *testutil.Runner
	logs     *logBuffer
	listener *dispatch.Listener
}

func newListenFixture() *listenFixture {
	conn := testutil.NewFakeConn()
	runner := &testutil.Runner{}
	logs := &logBuffer{}
	logger := zerolog.New(logs)
	dialer := &testutil.FakeDialer{Conns: []*testutil.FakeConn{conn}}

	return &listenFixture{
		conn:     conn,
		dialer:   dialer,
		runner:   runner,
		logs:     logs,
		listener: dispatch.NewListener(dialer, creds, dispatch.NewScanner(trusted, runner, logger), logger),
	}
}

// start runs Listen in the background and waits until it blocks.
func (f *listenFixture) start(t *testing.T, ctx context.Context) <-chan error {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- f.listener.Listen(ctx) }()
	receive(t, f.conn.Waiting, "first wait")
	return done
}

func TestListenScansOnNotification(t *testing.T) {
	f := newListenFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := f.start(t, ctx)
	assert.Equal(t, []mailbox.Credentials{creds}, f.conn.Authenticated)

	inbox := f.conn.Inbox()
	inbox.Add(trusted, "scene report")
	f.conn.Events <- mailbox.Event{Kind: mailbox.EventCountChanged, Count: 1}
	receive(t, f.conn.Waiting, "wait after first pass")

	assert.Equal(t, []model.Command{model.Scene{Name: "report"}}, f.runner.Commands())
	assert.Empty(t, inbox.Subjects())

	opens, _, expunges := inbox.Snapshot()
	assert.Equal(t, []mailbox.Access{mailbox.ReadOnly, mailbox.ReadWrite}, opens)
	assert.Equal(t, 1, expunges)

	cancel()
	require.NoError(t, receive(t, done, "listener exit"))
	assert.True(t, f.conn.IsClosed())
}

func TestListenSurvivesPassFailure(t *testing.T) {
	f := newListenFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inbox := f.conn.Inbox()
	inbox.ExpungeErr = errors.New("connection reset")

	done := f.start(t, ctx)

	inbox.Add(trusted, "water 10")
	f.conn.Events <- mailbox.Event{Kind: mailbox.EventCountChanged, Count: 1}
	receive(t, f.conn.Waiting, "wait after failed pass")
	assert.Len(t, f.logs.find(t, "scan pass aborted"), 1)

	// The flagged message survived the failed expunge. The next pass
	// purges it without dispatching it again.
	inbox.ExpungeErr = nil
	f.conn.Events <- mailbox.Event{Kind: mailbox.EventFlagsChanged, SeqNum: 1}
	receive(t, f.conn.Waiting, "wait after second pass")

	assert.Equal(t, []model.Command{model.Water{HoldMinutes: 10}}, f.runner.Commands())
	assert.Empty(t, inbox.Subjects())

	cancel()
	require.NoError(t, receive(t, done, "listener exit"))
}

func TestListenReturnsOnDisconnect(t *testing.T) {
	f := newListenFixture()

	done := f.start(t, context.Background())
	close(f.conn.Drop)

	err := receive(t, done, "listener exit")
	assert.ErrorIs(t, err, mailbox.ErrDisconnected)
	assert.True(t, f.conn.IsClosed())
	assert.Len(t, f.logs.find(t, "server closed the connection"), 1)
}

func TestListenAuthFailure(t *testing.T) {
	f := newListenFixture()
	f.conn.AuthErr = errors.New("NO [AUTHENTICATIONFAILED]")

	err := f.listener.Listen(context.Background())
	require.Error(t, err)
	assert.True(t, mailbox.IsAuthError(err))
	assert.True(t, f.conn.IsClosed())
	assert.Len(t, f.logs.find(t, "listener failed"), 1)
}

func TestListenDialFailure(t *testing.T) {
	f := newListenFixture()
	f.dialer.DialErr = errors.New("dial tcp: connection refused")

	err := f.listener.Listen(context.Background())
	require.Error(t, err)
	assert.False(t, f.conn.IsClosed())
}

func TestListenOpenFailure(t *testing.T) {
	f := newListenFixture()
	f.conn.Inbox().OpenErr = errors.New("NO mailbox unavailable")

	err := f.listener.Listen(context.Background())
	require.Error(t, err)
	assert.True(t, f.conn.IsClosed())
}

func TestListenInitialPass(t *testing.T) {
	f := newListenFixture()
	f.listener.InitialPass = true
	f.conn.Inbox().Add(trusted, "alarm 6:45")

	ctx, cancel := context.WithCancel(context.Background())
	done := f.start(t, ctx)

	assert.Equal(t, []model.Command{model.Alarm{Time: "06:45"}}, f.runner.Commands())

	cancel()
	require.NoError(t, receive(t, done, "listener exit"))
}

func TestSupervisorReconnects(t *testing.T) {
	first := testutil.NewFakeConn()
	close(first.Drop)
	second := testutil.NewFakeConn()

	dialer := &testutil.FakeDialer{Conns: []*testutil.FakeConn{first, second}}
	logger := zerolog.Nop()
	listener := dispatch.NewListener(dialer, creds, dispatch.NewScanner(trusted, &testutil.Runner{}, logger), logger)
	sup := dispatch.NewSupervisor(listener, 10*time.Millisecond, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	receive(t, second.Waiting, "wait on second connection")
	assert.Equal(t, 2, dialer.DialCount())
	assert.True(t, first.IsClosed())

	cancel()
	require.NoError(t, receive(t, done, "supervisor exit"))
	assert.True(t, second.IsClosed())
}

func TestSupervisorDoesNotRetryAuthFailure(t *testing.T) {
	conn := testutil.NewFakeConn()
	conn.AuthErr = errors.New("NO [AUTHENTICATIONFAILED]")

	dialer := &testutil.FakeDialer{Conns: []*testutil.FakeConn{conn}}
	logger := zerolog.Nop()
	listener := dispatch.NewListener(dialer, creds, dispatch.NewScanner(trusted, &testutil.Runner{}, logger), logger)

	err := dispatch.NewSupervisor(listener, time.Millisecond, logger).Run(context.Background())
	assert.True(t, mailbox.IsAuthError(err))
	assert.Equal(t, 1, dialer.DialCount())
}

func TestSupervisorWithoutDelayReturnsDisconnect(t *testing.T) {
	conn := testutil.NewFakeConn()
	close(conn.Drop)

	dialer := &testutil.FakeDialer{Conns: []*testutil.FakeConn{conn}}
	logger := zerolog.Nop()
	listener := dispatch.NewListener(dialer, creds, dispatch.NewScanner(trusted, &testutil.Runner{}, logger), logger)

	err := dispatch.NewSupervisor(listener, 0, logger).Run(context.Background())
	assert.ErrorIs(t, err, mailbox.ErrDisconnected)
	assert.Equal(t, 1, dialer.DialCount())
}
