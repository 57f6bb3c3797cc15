package testutil

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/mailbox/flags"
	"github.com/nhle/email-mcp/internal/mailbox/search"
	"github.com/nhle/email-mcp/internal/message"
)

// ErrConnectionLost is returned by connections of a FakeServer after Drop.
var ErrConnectionLost = errors.New("connection lost")

// FakeMessage is one message held by a FakeServer mailbox.
type FakeMessage struct {
	Raw   []byte
	Flags flags.Set
	Date  time.Time
}

type fakeMailbox struct {
	messages []*FakeMessage
	noSelect bool
}

// FakeServer is an in-memory IMAP server implementing mailbox.Dialer.
// Mailboxes are keyed by wire name; sequence numbers are positions in the
// mailbox and are renumbered on expunge like a real server.
type FakeServer struct {
	mu sync.Mutex

	Username string
	Password string
	// Caps is reported by CAPABILITY.
	Caps []string
	// RejectCharset answers NO to CHARSET UTF-8 searches.
	RejectCharset bool
	// RejectUTF8Search answers BAD to UTF-8 literal searches.
	RejectUTF8Search bool
	// RejectCreate answers NO to CREATE of these wire names.
	RejectCreate map[string]bool

	mailboxes map[string]*fakeMailbox
	order     []string
	enabled   []string
	commands  []string
	searches  []search.Strategy
	dials     int
	conns     []*fakeConn
}

// NewFakeServer returns a server with an empty INBOX accepting user/pass.
func NewFakeServer() *FakeServer {
	s := &FakeServer{
		Username:     "user@example.com",
		Password:     "secret",
		Caps:         []string{"IMAP4rev1"},
		RejectCreate: make(map[string]bool),
		mailboxes:    make(map[string]*fakeMailbox),
	}
	s.AddMailbox("INBOX")
	return s
}

// AddMailbox creates an empty mailbox under its wire name.
func (s *FakeServer) AddMailbox(wire string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addMailbox(wire)
}

func (s *FakeServer) addMailbox(wire string) {
	if _, ok := s.mailboxes[wire]; ok {
		return
	}
	s.mailboxes[wire] = &fakeMailbox{}
	s.order = append(s.order, wire)
}

// AddNoSelect creates a mailbox that LIST marks \Noselect.
func (s *FakeServer) AddNoSelect(wire string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addMailbox(wire)
	s.mailboxes[wire].noSelect = true
}

// AddMessage appends raw to the mailbox with the given flags and returns
// its sequence number.
func (s *FakeServer) AddMessage(wire string, raw string, flagNames ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addMailbox(wire)
	mb := s.mailboxes[wire]
	mb.messages = append(mb.messages, &FakeMessage{
		Raw:   []byte(raw),
		Flags: flags.New(flagNames...),
		Date:  time.Now(),
	})
	return len(mb.messages)
}

// Messages returns a snapshot of a mailbox.
func (s *FakeServer) Messages(wire string) []FakeMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	mb, ok := s.mailboxes[wire]
	if !ok {
		return nil
	}
	out := make([]FakeMessage, 0, len(mb.messages))
	for _, m := range mb.messages {
		out = append(out, FakeMessage{Raw: m.Raw, Flags: flags.New(m.Flags.List()...), Date: m.Date})
	}
	return out
}

// SetPassword changes the password accepted by later logins.
func (s *FakeServer) SetPassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Password = password
}

// HasMailbox reports whether wire exists.
func (s *FakeServer) HasMailbox(wire string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.mailboxes[wire]
	return ok
}

// Commands returns every command received, in order.
func (s *FakeServer) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

// Searches returns the strategy of every SEARCH received.
func (s *FakeServer) Searches() []search.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]search.Strategy(nil), s.searches...)
}

// Enabled returns the capabilities enabled by clients.
func (s *FakeServer) Enabled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.enabled...)
}

// Dials returns the number of connections opened.
func (s *FakeServer) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// Drop breaks every open connection.
func (s *FakeServer) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		c.broken = true
	}
}

// Dial implements mailbox.Dialer.
func (s *FakeServer) Dial(ctx context.Context) (mailbox.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	c := &fakeConn{srv: s}
	s.conns = append(s.conns, c)
	return c, nil
}

type fakeConn struct {
	srv      *FakeServer
	broken   bool
	selected string
	authed   bool
}

var _ mailbox.Conn = (*fakeConn)(nil)

func ok(data ...string) *mailbox.Reply {
	return &mailbox.Reply{Status: mailbox.StatusOK, Detail: "completed", Data: data}
}

func no(detail string) *mailbox.Reply {
	return &mailbox.Reply{Status: mailbox.StatusNO, Detail: detail}
}

func bad(detail string) *mailbox.Reply {
	return &mailbox.Reply{Status: mailbox.StatusBAD, Detail: detail}
}

// begin locks the server and records cmd. The caller must unlock.
func (c *fakeConn) begin(cmd string) error {
	c.srv.mu.Lock()
	c.srv.commands = append(c.srv.commands, cmd)
	if c.broken {
		c.srv.mu.Unlock()
		return ErrConnectionLost
	}
	return nil
}

func (c *fakeConn) Login(_ context.Context, username, password string) (*mailbox.Reply, error) {
	if err := c.begin("LOGIN"); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	if username != c.srv.Username || password != c.srv.Password {
		return no("[AUTHENTICATIONFAILED] invalid credentials"), nil
	}
	c.authed = true
	return ok(), nil
}

func (c *fakeConn) Capabilities(context.Context) (*mailbox.Reply, error) {
	if err := c.begin("CAPABILITY"); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	return ok(c.srv.Caps...), nil
}

func (c *fakeConn) Enable(_ context.Context, caps ...string) (*mailbox.Reply, error) {
	if err := c.begin("ENABLE"); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	c.srv.enabled = append(c.srv.enabled, caps...)
	return ok("ENABLED " + strings.Join(caps, " ")), nil
}

func (c *fakeConn) Noop(context.Context) (*mailbox.Reply, error) {
	if err := c.begin("NOOP"); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	return ok(), nil
}

func (c *fakeConn) Select(_ context.Context, name string) (*mailbox.Reply, error) {
	if err := c.begin("SELECT " + name); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	mb, exists := c.srv.mailboxes[name]
	if !exists || mb.noSelect {
		c.selected = ""
		return no("[NONEXISTENT] no such mailbox"), nil
	}
	c.selected = name
	return ok(
		`FLAGS (\Answered \Flagged \Deleted \Seen \Draft)`,
		fmt.Sprintf("%d EXISTS", len(mb.messages)),
		"0 RECENT",
	), nil
}

func (c *fakeConn) current() (*fakeMailbox, *mailbox.Reply) {
	if c.selected == "" {
		return nil, bad("no mailbox selected")
	}
	mb, exists := c.srv.mailboxes[c.selected]
	if !exists {
		return nil, no("mailbox was deleted")
	}
	return mb, nil
}

func (c *fakeConn) message(seq mailbox.Ordinal) (*FakeMessage, *mailbox.Reply) {
	mb, reply := c.current()
	if reply != nil {
		return nil, reply
	}
	if seq == 0 || int(seq) > len(mb.messages) {
		return nil, bad("invalid sequence number")
	}
	return mb.messages[seq-1], nil
}

func renderFlags(set flags.Set) string {
	names := set.List()
	wire := make([]string, 0, len(names))
	for _, n := range names {
		wire = append(wire, flags.Wire(n))
	}
	return "(" + strings.Join(wire, " ") + ")"
}

func (c *fakeConn) Fetch(_ context.Context, seq mailbox.Ordinal, items mailbox.FetchItems) (*mailbox.Reply, error) {
	if err := c.begin(fmt.Sprintf("FETCH %d", seq)); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	msg, reply := c.message(seq)
	if reply != nil {
		return reply, nil
	}

	reply = ok(fmt.Sprintf("%d FETCH (UID %d FLAGS %s)", seq, seq, renderFlags(msg.Flags)))
	switch {
	case items.Body:
		reply.Literal = append([]byte(nil), msg.Raw...)
	case items.Header:
		reply.Literal = headerOf(msg.Raw)
	}
	return reply, nil
}

func headerOf(raw []byte) []byte {
	s := string(raw)
	if i := strings.Index(s, "\r\n\r\n"); i >= 0 {
		return []byte(s[:i+4])
	}
	if i := strings.Index(s, "\n\n"); i >= 0 {
		return []byte(s[:i+2])
	}
	return append([]byte(nil), raw...)
}

func (c *fakeConn) Store(_ context.Context, seq mailbox.Ordinal, op mailbox.StoreOp, names []string) (*mailbox.Reply, error) {
	if err := c.begin(fmt.Sprintf("STORE %d", seq)); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	msg, reply := c.message(seq)
	if reply != nil {
		return reply, nil
	}
	for _, n := range names {
		if op == mailbox.StoreAdd {
			msg.Flags.Add(n)
		} else {
			delete(msg.Flags, flags.Normalize(n))
		}
	}
	return ok(fmt.Sprintf("%d FETCH (FLAGS %s)", seq, renderFlags(msg.Flags))), nil
}

func (c *fakeConn) Search(_ context.Context, attempt search.Attempt) (*mailbox.Reply, error) {
	if err := c.begin("SEARCH " + attempt.Strategy.String()); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	c.srv.searches = append(c.srv.searches, attempt.Strategy)

	switch {
	case attempt.Strategy == search.StrategyCharsetUTF8 && c.srv.RejectCharset:
		return no("[BADCHARSET (US-ASCII)] charset not supported"), nil
	case attempt.Strategy == search.StrategyUTF8 && c.srv.RejectUTF8Search:
		return bad("invalid search criteria"), nil
	}

	mb, reply := c.current()
	if reply != nil {
		return reply, nil
	}

	line := "SEARCH"
	for i, msg := range mb.messages {
		if matches(msg, attempt.Criteria) {
			line += fmt.Sprintf(" %d", i+1)
		}
	}
	return ok(line), nil
}

func matches(msg *FakeMessage, c *imap.SearchCriteria) bool {
	if c == nil {
		return true
	}
	for _, f := range c.Flag {
		if !msg.Flags.Has(string(f)) {
			return false
		}
	}
	for _, f := range c.NotFlag {
		if msg.Flags.Has(string(f)) {
			return false
		}
	}

	email, err := message.Parse(msg.Raw, "")
	if err != nil {
		return false
	}
	contains := func(haystack, needle string) bool {
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
	}
	for _, h := range c.Header {
		var value string
		switch strings.ToLower(h.Key) {
		case "subject":
			value = email.Subject
		case "from":
			value = email.From
		default:
			if email.Tree != nil {
				value = email.Tree.Header.Get(h.Key)
			}
		}
		if !contains(value, h.Value) {
			return false
		}
	}
	body := email.BodyText + "\n" + email.BodyHTML
	for _, b := range c.Body {
		if !contains(body, b) {
			return false
		}
	}
	for _, t := range c.Text {
		if !contains(email.Subject+"\n"+email.From+"\n"+email.To+"\n"+body, t) {
			return false
		}
	}
	return true
}

func (c *fakeConn) Copy(_ context.Context, seq mailbox.Ordinal, target string) (*mailbox.Reply, error) {
	if err := c.begin(fmt.Sprintf("COPY %d %s", seq, target)); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	msg, reply := c.message(seq)
	if reply != nil {
		return reply, nil
	}
	dst, exists := c.srv.mailboxes[target]
	if !exists {
		return no("[TRYCREATE] no such mailbox"), nil
	}
	clone := flags.New(msg.Flags.List()...)
	delete(clone, flags.Recent)
	dst.messages = append(dst.messages, &FakeMessage{Raw: msg.Raw, Flags: clone, Date: msg.Date})
	return ok(), nil
}

func (c *fakeConn) Expunge(context.Context) (*mailbox.Reply, error) {
	if err := c.begin("EXPUNGE"); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	mb, reply := c.current()
	if reply != nil {
		return reply, nil
	}

	var data []string
	kept := mb.messages[:0]
	removed := 0
	for i, msg := range mb.messages {
		if msg.Flags.Has(flags.Deleted) {
			// Each EXPUNGE number reflects the removals reported before it.
			data = append(data, fmt.Sprintf("%d EXPUNGE", i+1-removed))
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	mb.messages = kept
	return ok(data...), nil
}

func (c *fakeConn) List(context.Context) (*mailbox.Reply, error) {
	if err := c.begin("LIST"); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	data := make([]string, 0, len(c.srv.order))
	for _, name := range c.srv.order {
		attrs := `\HasNoChildren`
		if c.srv.mailboxes[name].noSelect {
			attrs = `\Noselect \HasChildren`
		}
		quoted := strings.ReplaceAll(strings.ReplaceAll(name, `\`, `\\`), `"`, `\"`)
		data = append(data, fmt.Sprintf(`LIST (%s) "." "%s"`, attrs, quoted))
	}
	return ok(data...), nil
}

func (c *fakeConn) Create(_ context.Context, name string) (*mailbox.Reply, error) {
	if err := c.begin("CREATE " + name); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	if _, exists := c.srv.mailboxes[name]; exists {
		return no("[ALREADYEXISTS] mailbox exists"), nil
	}
	if c.srv.RejectCreate[name] {
		return no("[CANNOT] invalid mailbox name"), nil
	}
	c.srv.addMailbox(name)
	return ok(), nil
}

func (c *fakeConn) Delete(_ context.Context, name string) (*mailbox.Reply, error) {
	if err := c.begin("DELETE " + name); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	if _, exists := c.srv.mailboxes[name]; !exists {
		return no("[NONEXISTENT] no such mailbox"), nil
	}
	delete(c.srv.mailboxes, name)
	for i, n := range c.srv.order {
		if n == name {
			c.srv.order = append(c.srv.order[:i], c.srv.order[i+1:]...)
			break
		}
	}
	if c.selected == name {
		c.selected = ""
	}
	return ok(), nil
}

func (c *fakeConn) Append(_ context.Context, name string, flagNames []string, date time.Time, raw []byte) (*mailbox.Reply, error) {
	if err := c.begin("APPEND " + name); err != nil {
		return nil, err
	}
	defer c.srv.mu.Unlock()
	mb, exists := c.srv.mailboxes[name]
	if !exists {
		return no("[TRYCREATE] no such mailbox"), nil
	}
	if date.IsZero() {
		date = time.Now()
	}
	mb.messages = append(mb.messages, &FakeMessage{
		Raw:   append([]byte(nil), raw...),
		Flags: flags.New(flagNames...),
		Date:  date,
	})
	return ok(), nil
}

func (c *fakeConn) Logout(context.Context) error {
	if err := c.begin("LOGOUT"); err != nil {
		return err
	}
	defer c.srv.mu.Unlock()
	c.broken = true
	return nil
}

// Mail returns a minimal RFC 5322 message.
func Mail(subject, from, body string) string {
	return "From: " + from + "\r\n" +
		"To: user@example.com\r\n" +
		"Subject: " + subject + "\r\n" +
		"Date: Mon, 02 Jan 2006 15:04:05 +0000\r\n" +
		"Message-ID: <" + strings.ReplaceAll(strings.ToLower(subject), " ", ".") + "@example.com>\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		body + "\r\n"
}
