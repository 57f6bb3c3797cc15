// Package imapconn implements mailbox.Dialer over go-imap v2.
package imapconn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/mailbox/folder"
	"github.com/nhle/email-mcp/internal/mailbox/search"
)

// DefaultTimeout bounds a single command when the caller sets none.
const DefaultTimeout = 30 * time.Second

// Config holds the IMAP server settings.
type Config struct {
	Host string
	Port string
	// TLS selects implicit TLS; otherwise STARTTLS is required.
	TLS     bool
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dialer opens go-imap connections.
type Dialer struct {
	cfg Config
	log *slog.Logger
}

// NewDialer creates a dialer for cfg.
func NewDialer(cfg Config) *Dialer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Dialer{cfg: cfg, log: log.With(slog.String("component", "imap"))}
}

// Dial connects to the server. Authentication is left to Conn.Login.
func (d *Dialer) Dial(
	ctx context.Context,
) (mailbox.Conn, error) {
	addr := net.JoinHostPort(d.cfg.Host, d.cfg.Port)

	nd := &net.Dialer{Timeout: d.cfg.Timeout}
	raw, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	c := &Conn{raw: raw, timeout: d.cfg.Timeout, log: d.log}
	if err := c.deadline(ctx); err != nil {
		_ = raw.Close()
		return nil, err
	}

	tlsConfig := &tls.Config{ServerName: d.cfg.Host}
	if d.cfg.TLS {
		tlsConn := tls.Client(raw, tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("TLS handshake with %s: %w", addr, err)
		}
		c.client = imapclient.New(tlsConn, &imapclient.Options{TLSConfig: tlsConfig})
	} else {
		client, err := imapclient.NewStartTLS(raw, &imapclient.Options{TLSConfig: tlsConfig})
		if err != nil {
			_ = raw.Close()
			return nil, fmt.Errorf("STARTTLS with %s: %w", addr, err)
		}
		c.client = client
	}

	if err := c.client.WaitGreeting(); err != nil {
		_ = c.client.Close()
		return nil, fmt.Errorf("reading IMAP greeting: %w", err)
	}
	d.log.Debug("imap connection established", slog.String("addr", addr), slog.Bool("tls", d.cfg.TLS))
	return c, nil
}

// Conn is one go-imap client connection. Mailbox names arrive in wire
// form and are decoded before reaching the client, which applies its own
// modified UTF-7 encoding.
type Conn struct {
	raw     net.Conn
	client  *imapclient.Client
	timeout time.Duration
	log     *slog.Logger
	utf8    bool
}

var _ mailbox.Conn = (*Conn)(nil)

// deadline bounds the next command by the configured timeout or the
// context deadline, whichever is earlier.
func (c *Conn) deadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := time.Now().Add(c.timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(d) {
		d = ctxDeadline
	}
	return c.raw.SetDeadline(d)
}

// result converts a go-imap command error into the reply/error split of
// mailbox.Conn: NO and BAD become replies, everything else is transport.
func result(err error, data ...string) (*mailbox.Reply, error) {
	if err == nil {
		return &mailbox.Reply{Status: mailbox.StatusOK, Data: data}, nil
	}
	var imapErr *imap.Error
	if !errors.As(err, &imapErr) {
		return nil, err
	}

	status := mailbox.StatusNO
	if imapErr.Type == imap.StatusResponseTypeBad {
		status = mailbox.StatusBAD
	}
	detail := imapErr.Text
	if imapErr.Code != "" {
		detail = fmt.Sprintf("[%s] %s", imapErr.Code, imapErr.Text)
	}
	return &mailbox.Reply{Status: status, Detail: detail}, nil
}

func (c *Conn) name(wire string) string {
	return folder.Decode(wire, folder.Capability{UTF8: c.utf8})
}

func (c *Conn) Login(
	ctx context.Context, username, password string,
) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	return result(c.client.Login(username, password).Wait())
}

func (c *Conn) Capabilities(ctx context.Context) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	caps, err := c.client.Capability().Wait()
	if err != nil {
		return result(err)
	}
	data := make([]string, 0, len(caps))
	for capability := range caps {
		data = append(data, string(capability))
	}
	if caps.Has(imap.CapIMAP4rev2) {
		c.utf8 = true
	}
	return result(nil, data...)
}

func (c *Conn) Enable(
	ctx context.Context, caps ...string,
) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	list := make([]imap.Cap, 0, len(caps))
	for _, capability := range caps {
		list = append(list, imap.Cap(capability))
	}
	data, err := c.client.Enable(list...).Wait()
	if err != nil {
		return result(err)
	}
	var enabled []string
	for capability := range data.Caps {
		enabled = append(enabled, string(capability))
		if capability == imap.CapUTF8Accept {
			c.utf8 = true
		}
	}
	return result(nil, "ENABLED "+strings.Join(enabled, " "))
}

func (c *Conn) Noop(ctx context.Context) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	return result(c.client.Noop().Wait())
}

func (c *Conn) Select(
	ctx context.Context, wire string,
) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	data, err := c.client.Select(c.name(wire), nil).Wait()
	if err != nil {
		return result(err)
	}
	return result(nil, fmt.Sprintf("%d EXISTS", data.NumMessages))
}

func (c *Conn) Fetch(
	ctx context.Context, seq mailbox.Ordinal, items mailbox.FetchItems,
) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}

	opts := &imap.FetchOptions{Flags: true, UID: true}
	var section *imap.FetchItemBodySection
	switch {
	case items.Body:
		section = &imap.FetchItemBodySection{Peek: true}
	case items.Header:
		section = &imap.FetchItemBodySection{Specifier: imap.PartSpecifierHeader, Peek: true}
	}
	if section != nil {
		opts.BodySection = []*imap.FetchItemBodySection{section}
	}

	msgs, err := c.client.Fetch(imap.SeqSetNum(uint32(seq)), opts).Collect()
	if err != nil {
		return result(err)
	}

	reply, _ := result(nil)
	for _, msg := range msgs {
		reply.Data = append(reply.Data, fetchLine(msg.SeqNum, msg.UID, msg.Flags))
		if section != nil && reply.Literal == nil {
			reply.Literal = msg.FindBodySection(section)
		}
	}
	return reply, nil
}

func fetchLine(seq uint32, uid imap.UID, flags []imap.Flag) string {
	names := make([]string, 0, len(flags))
	for _, f := range flags {
		names = append(names, string(f))
	}
	if uid != 0 {
		return fmt.Sprintf("%d FETCH (UID %d FLAGS (%s))", seq, uid, strings.Join(names, " "))
	}
	return fmt.Sprintf("%d FETCH (FLAGS (%s))", seq, strings.Join(names, " "))
}

func (c *Conn) Store(
	ctx context.Context, seq mailbox.Ordinal, op mailbox.StoreOp, flags []string,
) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}

	storeOp := imap.StoreFlagsAdd
	if op == mailbox.StoreRemove {
		storeOp = imap.StoreFlagsDel
	}
	list := make([]imap.Flag, 0, len(flags))
	for _, f := range flags {
		list = append(list, imap.Flag(f))
	}

	msgs, err := c.client.Store(imap.SeqSetNum(uint32(seq)), &imap.StoreFlags{
		Op:    storeOp,
		Flags: list,
	}, nil).Collect()
	if err != nil {
		return result(err)
	}

	data := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		data = append(data, fetchLine(msg.SeqNum, msg.UID, msg.Flags))
	}
	return result(nil, data...)
}

// Search sends attempt.Criteria. The client itself adds CHARSET UTF-8 when
// the criteria are non-ASCII and UTF8=ACCEPT is not enabled, which is the
// charset-tagged strategy; ASCII attempts go out untagged.
func (c *Conn) Search(
	ctx context.Context, attempt search.Attempt,
) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	c.log.Debug("imap search", slog.String("strategy", attempt.Strategy.String()))

	data, err := c.client.Search(attempt.Criteria, nil).Wait()
	if err != nil {
		return result(err)
	}

	nums := data.AllSeqNums()
	parts := make([]string, 0, len(nums)+1)
	parts = append(parts, "SEARCH")
	for _, n := range nums {
		parts = append(parts, fmt.Sprint(n))
	}
	return result(nil, strings.Join(parts, " "))
}

func (c *Conn) Copy(
	ctx context.Context, seq mailbox.Ordinal, wire string,
) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	_, err := c.client.Copy(imap.SeqSetNum(uint32(seq)), c.name(wire)).Wait()
	return result(err)
}

func (c *Conn) Expunge(ctx context.Context) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	nums, err := c.client.Expunge().Collect()
	if err != nil {
		return result(err)
	}
	data := make([]string, 0, len(nums))
	for _, n := range nums {
		data = append(data, fmt.Sprintf("%d EXPUNGE", n))
	}
	return result(nil, data...)
}

// List renders each mailbox as a LIST line with its name re-encoded to
// wire form.
func (c *Conn) List(ctx context.Context) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	boxes, err := c.client.List("", "*", nil).Collect()
	if err != nil {
		return result(err)
	}

	data := make([]string, 0, len(boxes))
	for _, box := range boxes {
		data = append(data, listLine(box, folder.Capability{UTF8: c.utf8}))
	}
	return result(nil, data...)
}

func listLine(box *imap.ListData, capability folder.Capability) string {
	attrs := make([]string, 0, len(box.Attrs))
	for _, a := range box.Attrs {
		attrs = append(attrs, string(a))
	}
	delim := "NIL"
	if box.Delim != 0 {
		delim = quote(string(box.Delim))
	}
	return fmt.Sprintf("LIST (%s) %s %s",
		strings.Join(attrs, " "), delim, quote(folder.Encode(box.Mailbox, capability)))
}

func quote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func (c *Conn) Create(
	ctx context.Context, wire string,
) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	return result(c.client.Create(c.name(wire), nil).Wait())
}

func (c *Conn) Delete(
	ctx context.Context, wire string,
) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}
	return result(c.client.Delete(c.name(wire)).Wait())
}

func (c *Conn) Append(
	ctx context.Context,
	wire string,
	flags []string,
	date time.Time,
	raw []byte,
) (*mailbox.Reply, error) {
	if err := c.deadline(ctx); err != nil {
		return nil, err
	}

	list := make([]imap.Flag, 0, len(flags))
	for _, f := range flags {
		list = append(list, imap.Flag(f))
	}
	cmd := c.client.Append(c.name(wire), int64(len(raw)), &imap.AppendOptions{
		Flags: list,
		Time:  date,
	})
	if _, err := cmd.Write(raw); err != nil {
		_ = cmd.Close()
		return nil, fmt.Errorf("writing APPEND literal: %w", err)
	}
	if err := cmd.Close(); err != nil {
		return result(err)
	}
	_, err := cmd.Wait()
	return result(err)
}

func (c *Conn) Logout(ctx context.Context) error {
	_ = c.deadline(ctx)
	err := c.client.Logout().Wait()
	if closeErr := c.client.Close(); err == nil {
		err = closeErr
	}
	return err
}
