package testutil

import (
	"context"

	"github.com/nhle/email-mcp/internal/mailbox"
)

// HookDialer wraps a Dialer so tests can intercept LOGIN and FETCH.
type HookDialer struct {
	mailbox.Dialer
	// BeforeLogin runs before each LOGIN. A non-nil error is returned as a
	// transport failure.
	BeforeLogin func() error
	// BeforeFetch runs before each FETCH. A non-nil error is returned in
	// place of the reply, as a transport failure.
	BeforeFetch func(seq mailbox.Ordinal) error
}

// Dial implements mailbox.Dialer.
func (d *HookDialer) Dial(ctx context.Context) (mailbox.Conn, error) {
	conn, err := d.Dialer.Dial(ctx)
	if err != nil {
		return nil, err
	}
	return &hookConn{Conn: conn, d: d}, nil
}

type hookConn struct {
	mailbox.Conn
	d *HookDialer
}

func (c *hookConn) Login(ctx context.Context, username, password string) (*mailbox.Reply, error) {
	if c.d.BeforeLogin != nil {
		if err := c.d.BeforeLogin(); err != nil {
			return nil, err
		}
	}
	return c.Conn.Login(ctx, username, password)
}

func (c *hookConn) Fetch(ctx context.Context, seq mailbox.Ordinal, items mailbox.FetchItems) (*mailbox.Reply, error) {
	if c.d.BeforeFetch != nil {
		if err := c.d.BeforeFetch(seq); err != nil {
			return nil, err
		}
	}
	return c.Conn.Fetch(ctx, seq, items)
}
