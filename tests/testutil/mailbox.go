// Package testutil provides in-memory fakes of the mailbox transport and
// the action runner.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nhle/mailcmd/internal/mailbox"
)

// Message is a message stored in a FakeFolder.
type Message struct {
	Sender  string
	Subject string
	Deleted bool
}

// FakeFolder is an in-memory mailbox.Folder. Error fields make the
// matching operation fail.
type FakeFolder struct {
	mu sync.Mutex

	FolderName string
	Messages   []Message

	OpenErr    error
	FetchErr   error
	FlagErr    error
	ExpungeErr error

	Opens    []mailbox.Access
	Fetches  int
	Flagged  []uint32
	Expunges int
}

// NewFakeFolder returns an empty folder with the given name.
func NewFakeFolder(name string) *FakeFolder {
	return &FakeFolder{FolderName: name}
}

// Add appends a message to the folder.
func (f *FakeFolder) Add(sender, subject string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Messages = append(f.Messages, Message{Sender: sender, Subject: subject})
}

// Subjects returns the subjects of the messages still present.
func (f *FakeFolder) Subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, m := range f.Messages {
		out = append(out, m.Subject)
	}
	return out
}

// Snapshot returns copies of the recorded operations.
func (f *FakeFolder) Snapshot() (opens []mailbox.Access, flagged []uint32, expunges int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]mailbox.Access(nil), f.Opens...), append([]uint32(nil), f.Flagged...), f.Expunges
}

func (f *FakeFolder) Name() string { return f.FolderName }

func (f *FakeFolder) Open(_ context.Context, access mailbox.Access) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Opens = append(f.Opens, access)
	return f.OpenErr
}

func (f *FakeFolder) Fetch(_ context.Context) ([]mailbox.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Fetches++
	if f.FetchErr != nil {
		return nil, f.FetchErr
	}

	out := make([]mailbox.Summary, 0, len(f.Messages))
	for i, m := range f.Messages {
		out = append(out, mailbox.Summary{
			SeqNum:  uint32(i + 1),
			Sender:  m.Sender,
			Subject: m.Subject,
			Deleted: m.Deleted,
		})
	}
	return out, nil
}

func (f *FakeFolder) MarkDeleted(_ context.Context, seqNum uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FlagErr != nil {
		return f.FlagErr
	}
	if seqNum == 0 || int(seqNum) > len(f.Messages) {
		return fmt.Errorf("no message at sequence number %d", seqNum)
	}
	f.Messages[seqNum-1].Deleted = true
	f.Flagged = append(f.Flagged, seqNum)
	return nil
}

func (f *FakeFolder) Expunge(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.Expunges++
	if f.ExpungeErr != nil {
		return f.ExpungeErr
	}

	kept := f.Messages[:0]
	for _, m := range f.Messages {
		if !m.Deleted {
			kept = append(kept, m)
		}
	}
	f.Messages = kept
	return nil
}

// FakeConn is an in-memory mailbox.Conn. Send events on Events to wake
// Wait; close Drop to simulate the server closing the connection.
type FakeConn struct {
	mu sync.Mutex

	Folders       map[string]*FakeFolder
	DefaultName   string
	AuthErr       error
	DefaultErr    error
	CloseErr      error
	Authenticated []mailbox.Credentials
	Closed        bool

	Events chan mailbox.Event
	Drop   chan struct{}

	// Waiting receives a value each time Wait starts blocking.
	Waiting chan struct{}
}

// NewFakeConn returns a connection exposing an INBOX folder.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		Folders:     map[string]*FakeFolder{mailbox.Inbox: NewFakeFolder(mailbox.Inbox)},
		DefaultName: mailbox.Inbox,
		Events:      make(chan mailbox.Event),
		Drop:        make(chan struct{}),
		Waiting:     make(chan struct{}, 16),
	}
}

// Inbox returns the INBOX folder.
func (c *FakeConn) Inbox() *FakeFolder {
	return c.fakeFolder(mailbox.Inbox)
}

// IsClosed reports whether Close was called.
func (c *FakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Closed
}

func (c *FakeConn) fakeFolder(name string) *FakeFolder {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, ok := c.Folders[name]
	if !ok {
		f = NewFakeFolder(name)
		c.Folders[name] = f
	}
	return f
}

func (c *FakeConn) Authenticate(_ context.Context, creds mailbox.Credentials) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Authenticated = append(c.Authenticated, creds)
	if c.AuthErr != nil {
		return &mailbox.AuthError{Username: creds.Username, Err: c.AuthErr}
	}
	return nil
}

func (c *FakeConn) DefaultFolder(_ context.Context) (mailbox.Folder, error) {
	if c.DefaultErr != nil {
		return nil, c.DefaultErr
	}
	return c.fakeFolder(c.DefaultName), nil
}

func (c *FakeConn) Folder(name string) mailbox.Folder {
	return c.fakeFolder(name)
}

func (c *FakeConn) Wait(ctx context.Context) (mailbox.Event, error) {
	select {
	case c.Waiting <- struct{}{}:
	default:
	}

	select {
	case ev := <-c.Events:
		return ev, nil
	case <-c.Drop:
		return mailbox.Event{}, mailbox.ErrDisconnected
	case <-ctx.Done():
		return mailbox.Event{}, ctx.Err()
	}
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return c.CloseErr
}

// FakeDialer hands out Conns in order, repeating the last one.
type FakeDialer struct {
	mu sync.Mutex

	Conns   []*FakeConn
	DialErr error
	Dials   int
}

func (d *FakeDialer) Dial(_ context.Context) (mailbox.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.Dials++
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	if len(d.Conns) == 0 {
		return nil, errors.New("fake dialer: no connections")
	}
	i := d.Dials - 1
	if i >= len(d.Conns) {
		i = len(d.Conns) - 1
	}
	return d.Conns[i], nil
}

// DialCount returns the number of Dial calls.
func (d *FakeDialer) DialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Dials
}
