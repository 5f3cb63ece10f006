// Package mailbox defines the transport the dispatcher drives and its
// IMAP implementation.
//
// Messages are addressed by their sequence number within one fetch. Some
// servers report a zero UID for every message, so the UID is carried for
// logging only. Sequence numbers shift once messages are expunged: a
// caller must not reuse a Summary after calling Expunge.
package mailbox

import (
	"context"
	"fmt"
)

// Inbox is the name of the mailbox watched in listen mode.
const Inbox = "INBOX"

// Access selects how a folder is opened.
type Access int

const (
	ReadOnly Access = iota
	ReadWrite
)

func (a Access) String() string {
	if a == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// Summary is the envelope view of one message during one scan pass.
type Summary struct {
	// SeqNum is the message's position in the folder. It is only valid
	// until the folder is next expunged.
	SeqNum uint32

	UID     uint32
	Sender  string
	Subject string

	// Deleted is set when the message already carries the \Deleted flag,
	// typically because an earlier pass failed before expunging.
	Deleted bool
}

// Folder is an open-able server-side mailbox.
type Folder interface {
	Name() string

	// Open selects the folder. Subsequent operations act on it.
	Open(ctx context.Context, access Access) error

	// Fetch returns summaries of every message in the folder in sequence
	// order.
	Fetch(ctx context.Context) ([]Summary, error)

	// MarkDeleted sets the \Deleted flag on the message at seqNum.
	MarkDeleted(ctx context.Context, seqNum uint32) error

	// Expunge removes every message flagged \Deleted.
	Expunge(ctx context.Context) error
}

// Credentials authenticate a connection.
type Credentials struct {
	Username string
	Password string

	// Mechanism is "login" or "plain".
	Mechanism string
}

// Conn is an established connection to the mail server. A Conn is owned
// by a single goroutine; operations must not be issued concurrently.
type Conn interface {
	Authenticate(ctx context.Context, creds Credentials) error

	// DefaultFolder returns the default folder of the personal namespace.
	DefaultFolder(ctx context.Context) (Folder, error)

	// Folder returns a handle to the named folder.
	Folder(name string) Folder

	// Wait blocks until the server reports a change to the selected
	// folder, ctx is done, or the connection drops. It returns
	// ErrDisconnected in the last case. No other operation may be issued
	// while Wait is blocked.
	Wait(ctx context.Context) (Event, error)

	// Close logs out and releases the connection. A failed logout still
	// releases it.
	Close() error
}

// Dialer opens connections to a fixed server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// EventKind identifies a change notification.
type EventKind int

const (
	EventCountChanged EventKind = iota + 1
	EventFlagsChanged
	EventExpunged
	EventAnnotationsChanged
)

func (k EventKind) String() string {
	switch k {
	case EventCountChanged:
		return "count-changed"
	case EventFlagsChanged:
		return "flags-changed"
	case EventExpunged:
		return "expunged"
	case EventAnnotationsChanged:
		return "annotations-changed"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is a change notification received while waiting.
type Event struct {
	Kind EventKind

	// Count is the new message count for EventCountChanged.
	Count uint32

	// SeqNum is the affected message for EventFlagsChanged and
	// EventExpunged.
	SeqNum uint32
}
