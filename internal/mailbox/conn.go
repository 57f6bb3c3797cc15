package mailbox

import (
	"context"
	"time"

	"github.com/nhle/email-mcp/internal/mailbox/search"
)

// Ordinal is a message sequence number. It is valid only within the
// selection that produced it and only until the next expunge.
type Ordinal uint32

// Status is the completion status of one command.
type Status int

const (
	StatusOK Status = iota
	StatusNO
	StatusBAD
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNO:
		return "NO"
	case StatusBAD:
		return "BAD"
	default:
		return "UNKNOWN"
	}
}

// Reply is the result of a command that reached the server. Data holds the
// untagged response lines without the leading "* ". Literal holds the
// message bytes returned by a fetch.
type Reply struct {
	Status  Status
	Detail  string
	Data    []string
	Literal []byte
}

// OK reports whether the command completed successfully.
func (r *Reply) OK() bool {
	return r != nil && r.Status == StatusOK
}

// FetchItems selects what a fetch returns. Header and Body are exclusive;
// Body wins when both are set.
type FetchItems struct {
	Flags  bool
	Header bool
	Body   bool
}

// StoreOp is the direction of a flag update.
type StoreOp int

const (
	StoreAdd StoreOp = iota
	StoreRemove
)

// Dialer opens connections to the mail server.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn executes single IMAP commands. Mailbox names are always in wire
// form and flags in wire form ("\Seen"). A non-nil error means the
// transport failed and the connection is unusable; a command the server
// rejected returns a Reply with a non-OK Status and a nil error.
type Conn interface {
	Login(ctx context.Context, username, password string) (*Reply, error)
	// Capabilities returns one capability name per Data line.
	Capabilities(ctx context.Context) (*Reply, error)
	Enable(ctx context.Context, caps ...string) (*Reply, error)
	Noop(ctx context.Context) (*Reply, error)
	// Select reports the message count as an "<n> EXISTS" Data line.
	Select(ctx context.Context, mailbox string) (*Reply, error)
	// Fetch reports "<n> FETCH (...)" Data lines and the requested message
	// bytes in Literal.
	Fetch(ctx context.Context, seq Ordinal, items FetchItems) (*Reply, error)
	Store(ctx context.Context, seq Ordinal, op StoreOp, flags []string) (*Reply, error)
	// Search reports matches as "SEARCH <n>..." Data lines.
	Search(ctx context.Context, attempt search.Attempt) (*Reply, error)
	Copy(ctx context.Context, seq Ordinal, mailbox string) (*Reply, error)
	// Expunge reports each removed message as an "<n> EXPUNGE" Data line.
	Expunge(ctx context.Context) (*Reply, error)
	// List reports one LIST response per Data line.
	List(ctx context.Context) (*Reply, error)
	Create(ctx context.Context, mailbox string) (*Reply, error)
	Delete(ctx context.Context, mailbox string) (*Reply, error)
	Append(ctx context.Context, mailbox string, flags []string, date time.Time, raw []byte) (*Reply, error)
	Logout(ctx context.Context) error
}
