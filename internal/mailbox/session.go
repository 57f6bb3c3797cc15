// Package mailbox owns the stateful IMAP session and the batch coordinator
// that applies destructive operations without being corrupted by sequence
// number renumbering.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/email-mcp/internal/mailbox/flags"
	"github.com/nhle/email-mcp/internal/mailbox/folder"
	"github.com/nhle/email-mcp/internal/mailbox/search"
	"github.com/nhle/email-mcp/internal/message"
	"github.com/nhle/email-mcp/internal/metrics"
)

// State is the session state.
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateSelected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateSelected:
		return "selected"
	default:
		return "unknown"
	}
}

// DefaultStaleAfter is the idle time after which a NOOP probe checks the
// connection before it is reused.
const DefaultStaleAfter = 5 * time.Minute

var errNotConnected = errors.New("session is not connected")

// Options configures a Session.
type Options struct {
	Username string
	Password string
	// StaleAfter is the idle time after which the connection is probed
	// before use. Zero means DefaultStaleAfter; negative disables probing.
	StaleAfter time.Duration
	Logger     *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Folder is one mailbox from LIST with its name decoded.
type Folder struct {
	Name       string   `json:"name"`
	WireName   string   `json:"wire_name"`
	Delimiter  string   `json:"delimiter,omitempty"`
	Attributes []string `json:"attributes"`
	Selectable bool     `json:"can_select"`
}

// SearchResult is the outcome of a search. Fallback is set when the server
// rejected the preferred charset strategy; Lossy when the query text had to
// be reduced to ASCII.
type SearchResult struct {
	Ordinals []Ordinal       `json:"ordinals"`
	Strategy search.Strategy `json:"-"`
	Fallback bool            `json:"fallback"`
	Lossy    bool            `json:"lossy"`
}

// Session is a single IMAP connection. Every public method holds the
// session lock for its whole duration, so commands never interleave. Work
// that spans several commands against one selection runs through Do.
type Session struct {
	mu sync.Mutex

	dialer     Dialer
	username   string
	password   string
	staleAfter time.Duration
	log        *slog.Logger
	now        func() time.Time

	conn       Conn
	state      State
	selected   string
	total      int
	capability folder.Capability

	// connect was requested and not undone by Disconnect.
	wanted   bool
	reselect string
	lastUsed time.Time
}

// NewSession creates a disconnected session.
func NewSession(d Dialer, opts Options) *Session {
	s := &Session{
		dialer:     d,
		username:   opts.Username,
		password:   opts.Password,
		staleAfter: opts.StaleAfter,
		log:        opts.Logger,
		now:        opts.Now,
	}
	if s.staleAfter == 0 {
		s.staleAfter = DefaultStaleAfter
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Selected returns the selected folder, or "" when none is selected.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Capability returns the mailbox-name capability negotiated for the
// current connection.
func (s *Session) Capability() folder.Capability {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capability
}

// Connect dials, authenticates, and negotiates UTF-8 support. It is a
// no-op when the session is already connected.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wanted = true
	if s.conn != nil && s.state != StateDisconnected {
		return nil
	}
	return s.connect(ctx)
}

func (s *Session) connect(ctx context.Context) error {
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}

	reply, err := conn.Login(ctx, s.username, s.password)
	if err != nil {
		_ = conn.Logout(ctx)
		return &ConnectionError{Op: "login", Err: err}
	}
	if !reply.OK() {
		_ = conn.Logout(ctx)
		return &AuthenticationError{Username: s.username, Message: strings.TrimSpace(reply.Status.String() + " " + reply.Detail)}
	}

	s.conn = conn
	s.state = StateConnected
	s.selected = ""
	s.total = 0
	s.lastUsed = s.now()

	capability, err := s.negotiate(ctx)
	if err != nil {
		return err
	}
	s.capability = capability

	s.log.Info("imap session connected",
		slog.String("username", s.username),
		slog.Bool("utf8", capability.UTF8),
	)
	return nil
}

// negotiate enables UTF8=ACCEPT when advertised. IMAP4rev2 servers accept
// UTF-8 mailbox names without it.
func (s *Session) negotiate(ctx context.Context) (folder.Capability, error) {
	reply, err := s.do(ctx, "CAPABILITY", func(c Conn) (*Reply, error) {
		return c.Capabilities(ctx)
	})
	if err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			return folder.Capability{}, nil
		}
		return folder.Capability{}, err
	}

	var utf8Accept, rev2 bool
	for _, line := range reply.Data {
		for _, c := range strings.Fields(line) {
			switch strings.ToUpper(c) {
			case string(imap.CapUTF8Accept):
				utf8Accept = true
			case string(imap.CapIMAP4rev2):
				rev2 = true
			}
		}
	}

	if utf8Accept {
		_, err := s.do(ctx, "ENABLE", func(c Conn) (*Reply, error) {
			return c.Enable(ctx, string(imap.CapUTF8Accept))
		})
		if err == nil {
			return folder.Capability{UTF8: true}, nil
		}
		if IsFatal(err) {
			return folder.Capability{}, err
		}
		s.log.Warn("enabling UTF8=ACCEPT failed", slog.Any("error", err))
	}
	return folder.Capability{UTF8: rev2}, nil
}

// Disconnect logs out and clears the intent to stay connected, so later
// operations fail instead of reconnecting.
func (s *Session) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wanted = false
	s.reselect = ""
	if s.conn == nil {
		s.state = StateDisconnected
		return nil
	}

	err := s.conn.Logout(ctx)
	s.conn = nil
	s.state = StateDisconnected
	s.selected = ""
	s.total = 0
	if err != nil {
		return &ConnectionError{Op: "logout", Err: err}
	}
	return nil
}

// drop abandons a failed connection, remembering the selection so a
// later reconnect can restore it.
func (s *Session) drop() {
	if s.selected != "" {
		s.reselect = s.selected
	}
	if s.conn != nil {
		_ = s.conn.Logout(context.Background())
	}
	s.conn = nil
	s.state = StateDisconnected
	s.selected = ""
	s.total = 0
}

// ensureConnected reestablishes a dropped or stale connection when the
// caller asked to be connected, restoring the previous selection.
func (s *Session) ensureConnected(ctx context.Context) error {
	if s.conn != nil && s.state != StateDisconnected {
		if s.staleAfter < 0 || s.now().Sub(s.lastUsed) < s.staleAfter {
			return nil
		}
		if _, err := s.do(ctx, "NOOP", func(c Conn) (*Reply, error) { return c.Noop(ctx) }); err == nil || !IsFatal(err) {
			return nil
		}
		s.log.Warn("imap session stale, reconnecting")
	}

	if !s.wanted {
		return &ConnectionError{Op: "ensure connected", Err: errNotConnected}
	}

	reselect := s.reselect
	if err := s.connect(ctx); err != nil {
		return err
	}
	metrics.IMAPReconnectsTotal.Inc()
	s.reselect = ""

	if reselect != "" {
		if _, _, err := s.selectFolder(ctx, reselect); err != nil {
			return err
		}
	}
	return nil
}

// do runs one command. Transport failures drop the connection and become
// ConnectionErrors; NO and BAD become ProtocolErrors alongside the reply.
func (s *Session) do(ctx context.Context, command string, fn func(Conn) (*Reply, error)) (*Reply, error) {
	if s.conn == nil {
		return nil, &ConnectionError{Op: command, Err: errNotConnected}
	}

	start := time.Now()
	reply, err := fn(s.conn)
	if err != nil {
		metrics.ObserveIMAPCommand(command, "error", time.Since(start))
		s.log.Warn("imap transport failure", slog.String("command", command), slog.Any("error", err))
		s.drop()
		return nil, &ConnectionError{Op: command, Err: err}
	}
	if reply == nil {
		reply = &Reply{Status: StatusBAD, Detail: "empty reply"}
	}
	metrics.ObserveIMAPCommand(command, reply.Status.String(), time.Since(start))
	s.lastUsed = s.now()

	if !reply.OK() {
		s.log.Debug("imap command rejected",
			slog.String("command", command),
			slog.String("status", reply.Status.String()),
			slog.String("detail", reply.Detail),
		)
		return reply, &ProtocolError{Command: command, Status: reply.Status, Detail: reply.Detail}
	}
	return reply, nil
}

func (s *Session) requireSelected(ctx context.Context) error {
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	if s.state != StateSelected {
		return &FolderError{Reason: "no folder selected"}
	}
	return nil
}

// SelectFolder selects name and returns its total and unread counts.
func (s *Session) SelectFolder(ctx context.Context, name string) (total, unread int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectChecked(ctx, name)
}

func (s *Session) selectChecked(ctx context.Context, name string) (int, int, error) {
	if strings.TrimSpace(name) == "" {
		return 0, 0, &ValidationError{Field: "folder", Message: "folder name cannot be empty"}
	}
	if err := s.ensureConnected(ctx); err != nil {
		return 0, 0, err
	}
	return s.selectFolder(ctx, name)
}

func (s *Session) selectFolder(ctx context.Context, name string) (int, int, error) {
	wire := folder.Encode(name, s.capability)
	reply, err := s.do(ctx, "SELECT", func(c Conn) (*Reply, error) {
		return c.Select(ctx, wire)
	})
	if err != nil {
		if s.conn != nil {
			s.state = StateConnected
			s.selected = ""
		}
		if IsFatal(err) {
			return 0, 0, err
		}
		return 0, 0, &FolderError{Folder: name, Reason: "cannot select folder", Err: err}
	}

	s.state = StateSelected
	s.selected = name
	s.total = parseExists(reply.Data)

	unread := 0
	unseen := search.Attempt{
		Strategy: search.StrategyASCII,
		Criteria: &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}},
	}
	reply, err = s.do(ctx, "SEARCH", func(c Conn) (*Reply, error) {
		return c.Search(ctx, unseen)
	})
	switch {
	case err == nil:
		unread = len(parseSearch(reply.Data))
	case IsFatal(err):
		return 0, 0, err
	default:
		s.log.Warn("counting unread messages failed", slog.String("folder", name), slog.Any("error", err))
	}

	return s.total, unread, nil
}

// FetchMessage fetches and decodes the full message at ord without
// marking it read.
func (s *Session) FetchMessage(ctx context.Context, ord Ordinal) (*message.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchMessage(ctx, ord)
}

func (s *Session) fetchMessage(ctx context.Context, ord Ordinal) (*message.Email, error) {
	if err := s.requireSelected(ctx); err != nil {
		return nil, err
	}
	return s.fetch(ctx, ord, FetchItems{Flags: true, Body: true})
}

// FetchHeaders fetches header-only summaries. Ordinals that are no longer
// present are skipped.
func (s *Session) FetchHeaders(ctx context.Context, ords []Ordinal) ([]*message.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchHeaders(ctx, ords)
}

func (s *Session) fetchHeaders(ctx context.Context, ords []Ordinal) ([]*message.Email, error) {
	if err := s.requireSelected(ctx); err != nil {
		return nil, err
	}
	out := make([]*message.Email, 0, len(ords))
	for _, ord := range ords {
		email, err := s.fetch(ctx, ord, FetchItems{Flags: true, Header: true})
		if err != nil {
			if IsNotFound(err) {
				continue
			}
			return out, err
		}
		out = append(out, email)
	}
	return out, nil
}

func (s *Session) fetch(ctx context.Context, ord Ordinal, items FetchItems) (*message.Email, error) {
	notFound := &NotFoundError{Folder: s.selected, Ordinal: ord}
	if ord == 0 {
		return nil, notFound
	}

	reply, err := s.do(ctx, "FETCH", func(c Conn) (*Reply, error) {
		return c.Fetch(ctx, ord, items)
	})
	if err != nil {
		if IsFatal(err) {
			return nil, err
		}
		return nil, notFound
	}

	lines := fetchLines(reply.Data, ord)
	if len(lines) == 0 || len(reply.Literal) == 0 {
		return nil, notFound
	}

	email, err := message.Parse(reply.Literal, strconv.FormatUint(uint64(ord), 10))
	if err != nil {
		return nil, notFound
	}
	set := flags.Parse(lines...)
	email.Flags = set.List()
	email.IsRead = flags.IsRead(set)
	email.IsImportant = flags.IsImportant(set)
	email.Folder = s.selected
	return email, nil
}

// Exists reports whether ord is present in the current selection.
func (s *Session) Exists(ctx context.Context, ord Ordinal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exists(ctx, ord)
}

func (s *Session) exists(ctx context.Context, ord Ordinal) (bool, error) {
	if err := s.requireSelected(ctx); err != nil {
		return false, err
	}
	if ord == 0 {
		return false, nil
	}
	reply, err := s.do(ctx, "FETCH", func(c Conn) (*Reply, error) {
		return c.Fetch(ctx, ord, FetchItems{Flags: true})
	})
	if err != nil {
		if IsFatal(err) {
			return false, err
		}
		return false, nil
	}
	return len(fetchLines(reply.Data, ord)) > 0, nil
}

// Flags returns the current flags of ord.
func (s *Session) Flags(ctx context.Context, ord Ordinal) (flags.Set, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireSelected(ctx); err != nil {
		return nil, err
	}
	reply, err := s.do(ctx, "FETCH", func(c Conn) (*Reply, error) {
		return c.Fetch(ctx, ord, FetchItems{Flags: true})
	})
	if err != nil {
		if IsFatal(err) {
			return nil, err
		}
		return nil, &NotFoundError{Folder: s.selected, Ordinal: ord}
	}
	lines := fetchLines(reply.Data, ord)
	if len(lines) == 0 {
		return nil, &NotFoundError{Folder: s.selected, Ordinal: ord}
	}
	return flags.Parse(lines...), nil
}

// SetFlag adds or removes flag on ord. It reports false, without an error,
// when the server rejects the store or ord is no longer present.
func (s *Session) SetFlag(ctx context.Context, ord Ordinal, flag string, on bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setFlag(ctx, ord, flag, on)
}

func (s *Session) setFlag(ctx context.Context, ord Ordinal, flag string, on bool) (bool, error) {
	if err := s.requireSelected(ctx); err != nil {
		return false, err
	}
	if ord == 0 || flags.Normalize(flag) == "" {
		return false, nil
	}
	op := StoreAdd
	if !on {
		op = StoreRemove
	}
	reply, err := s.do(ctx, "STORE", func(c Conn) (*Reply, error) {
		return c.Store(ctx, ord, op, []string{flags.Wire(flag)})
	})
	if err != nil {
		if IsFatal(err) {
			return false, err
		}
		return false, nil
	}
	if int(ord) > s.total && len(fetchLines(reply.Data, ord)) == 0 {
		return false, nil
	}
	return true, nil
}

// MoveMessage copies ord to target, then marks it deleted and expunges the
// selected folder. Expunging renumbers every message above ord.
func (s *Session) MoveMessage(ctx context.Context, ord Ordinal, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveMessage(ctx, ord, target)
}

func (s *Session) moveMessage(ctx context.Context, ord Ordinal, target string) error {
	if strings.TrimSpace(target) == "" {
		return &ValidationError{Field: "target_folder", Message: "target folder cannot be empty"}
	}
	if err := s.requireSelected(ctx); err != nil {
		return err
	}
	if ord == 0 {
		return &NotFoundError{Folder: s.selected, Ordinal: ord}
	}

	wire := folder.Encode(target, s.capability)
	if _, err := s.do(ctx, "COPY", func(c Conn) (*Reply, error) {
		return c.Copy(ctx, ord, wire)
	}); err != nil {
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) && strings.Contains(strings.ToUpper(protoErr.Detail), "TRYCREATE") {
			return &FolderError{Folder: target, Reason: "target folder does not exist", Err: err}
		}
		return err
	}
	return s.purge(ctx, ord)
}

// DeleteMessage marks ord deleted and expunges the selected folder.
func (s *Session) DeleteMessage(ctx context.Context, ord Ordinal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteMessage(ctx, ord)
}

func (s *Session) deleteMessage(ctx context.Context, ord Ordinal) error {
	if err := s.requireSelected(ctx); err != nil {
		return err
	}
	if ord == 0 {
		return &NotFoundError{Folder: s.selected, Ordinal: ord}
	}
	return s.purge(ctx, ord)
}

func (s *Session) purge(ctx context.Context, ord Ordinal) error {
	if _, err := s.do(ctx, "STORE", func(c Conn) (*Reply, error) {
		return c.Store(ctx, ord, StoreAdd, []string{flags.Wire(flags.Deleted)})
	}); err != nil {
		return err
	}

	reply, err := s.do(ctx, "EXPUNGE", func(c Conn) (*Reply, error) {
		return c.Expunge(ctx)
	})
	if err != nil {
		return err
	}
	removed := countExpunged(reply.Data)
	if removed == 0 {
		removed = 1
	}
	s.total = max(s.total-removed, 0)
	return nil
}

// Search runs q against the selected folder, falling back through the
// charset strategies the server rejects.
func (s *Session) Search(ctx context.Context, q search.Query) (*SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.search(ctx, q)
}

func (s *Session) search(ctx context.Context, q search.Query) (*SearchResult, error) {
	if _, err := search.Build(q, false); err != nil {
		return nil, &ValidationError{Field: "query", Message: err.Error()}
	}
	if err := s.requireSelected(ctx); err != nil {
		return nil, err
	}
	// Built after ensureConnected, since a reconnect renegotiates UTF-8.
	plan, err := search.Build(q, s.capability.UTF8)
	if err != nil {
		return nil, &ValidationError{Field: "query", Message: err.Error()}
	}

	var lastErr error
	for i, attempt := range plan.Attempts {
		reply, err := s.do(ctx, "SEARCH", func(c Conn) (*Reply, error) {
			return c.Search(ctx, attempt)
		})
		if err != nil {
			if IsFatal(err) {
				return nil, err
			}
			s.log.Info("search strategy rejected",
				slog.String("strategy", attempt.Strategy.String()),
				slog.Any("error", err),
			)
			lastErr = err
			continue
		}

		if i > 0 {
			metrics.SearchFallbacksTotal.WithLabelValues(attempt.Strategy.String()).Inc()
		}
		return &SearchResult{
			Ordinals: parseSearch(reply.Data),
			Strategy: attempt.Strategy,
			Fallback: i > 0,
			Lossy:    attempt.Lossy,
		}, nil
	}
	return nil, lastErr
}

// ListFolders lists every mailbox, skipping empty and dot names.
func (s *Session) ListFolders(ctx context.Context) ([]Folder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return s.listFolders(ctx)
}

func (s *Session) listFolders(ctx context.Context) ([]Folder, error) {
	reply, err := s.do(ctx, "LIST", func(c Conn) (*Reply, error) {
		return c.List(ctx)
	})
	if err != nil {
		return nil, err
	}

	var out []Folder
	for _, line := range reply.Data {
		entry, ok := folder.ParseList(line)
		if !ok {
			s.log.Debug("skipping unparsable LIST line", slog.String("line", line))
			continue
		}
		name := folder.Decode(entry.WireName, s.capability)
		if !folder.Listable(name) {
			continue
		}
		out = append(out, Folder{
			Name:       name,
			WireName:   entry.WireName,
			Delimiter:  entry.Delimiter,
			Attributes: entry.Attributes,
			Selectable: entry.Selectable(),
		})
	}
	return out, nil
}

// CreateFolder creates name, trying it at the top level and then under
// INBOX with either hierarchy delimiter. It returns the name created.
func (s *Session) CreateFolder(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if problem := folder.Validate(name); problem != "" {
		return "", &ValidationError{Field: "folder", Message: problem}
	}
	if folder.IsProtected(name) {
		return "", &FolderError{Folder: name, Reason: "cannot create a system folder"}
	}
	if err := s.ensureConnected(ctx); err != nil {
		return "", err
	}
	return s.createFolder(ctx, name)
}

func (s *Session) createFolder(ctx context.Context, name string) (string, error) {
	var lastErr error
	for _, candidate := range folder.Alternatives(name) {
		wire := folder.Encode(candidate, s.capability)
		_, err := s.do(ctx, "CREATE", func(c Conn) (*Reply, error) {
			return c.Create(ctx, wire)
		})
		if err == nil {
			s.log.Info("folder created", slog.String("folder", candidate))
			return candidate, nil
		}
		if IsFatal(err) {
			return "", err
		}
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) && strings.Contains(strings.ToUpper(protoErr.Detail), "ALREADYEXISTS") {
			return "", &FolderError{Folder: name, Reason: "folder already exists", Err: err}
		}
		lastErr = err
	}
	return "", &FolderError{Folder: name, Reason: "server refused every naming convention", Err: lastErr}
}

// EnsureFolder creates name unless LIST already reports it.
func (s *Session) EnsureFolder(ctx context.Context, name string) (created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureConnected(ctx); err != nil {
		return false, err
	}
	existing, err := s.listFolders(ctx)
	if err != nil {
		return false, err
	}
	for _, f := range existing {
		if f.Name == name {
			return false, nil
		}
	}
	if strings.EqualFold(name, "INBOX") {
		return false, nil
	}

	wire := folder.Encode(name, s.capability)
	if _, err := s.do(ctx, "CREATE", func(c Conn) (*Reply, error) {
		return c.Create(ctx, wire)
	}); err != nil {
		if IsFatal(err) {
			return false, err
		}
		return false, &FolderError{Folder: name, Reason: "cannot create folder", Err: err}
	}
	return true, nil
}

// DeleteFolder deletes name. System folders are refused.
func (s *Session) DeleteFolder(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if problem := folder.Validate(name); problem != "" {
		return &ValidationError{Field: "folder", Message: problem}
	}
	if folder.IsProtected(name) {
		return &FolderError{Folder: name, Reason: "cannot delete a system folder"}
	}
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	if s.state == StateSelected && s.selected == name {
		s.state = StateConnected
		s.selected = ""
	}
	wire := folder.Encode(name, s.capability)
	if _, err := s.do(ctx, "DELETE", func(c Conn) (*Reply, error) {
		return c.Delete(ctx, wire)
	}); err != nil {
		if IsFatal(err) {
			return err
		}
		return &FolderError{Folder: name, Reason: "cannot delete folder", Err: err}
	}
	return nil
}

// Append stores raw in mailbox with the given flags and internal date.
func (s *Session) Append(ctx context.Context, mailbox string, raw []byte, flagNames []string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendMessage(ctx, mailbox, raw, flagNames, date)
}

func (s *Session) appendMessage(ctx context.Context, mailbox string, raw []byte, flagNames []string, date time.Time) error {
	if strings.TrimSpace(mailbox) == "" {
		return &ValidationError{Field: "folder", Message: "folder name cannot be empty"}
	}
	if len(raw) == 0 {
		return &ValidationError{Field: "message", Message: "message is empty"}
	}
	if err := s.ensureConnected(ctx); err != nil {
		return err
	}

	wire := folder.Encode(mailbox, s.capability)
	wireFlags := make([]string, 0, len(flagNames))
	for _, f := range flagNames {
		if flags.Normalize(f) != "" {
			wireFlags = append(wireFlags, flags.Wire(f))
		}
	}
	if _, err := s.do(ctx, "APPEND", func(c Conn) (*Reply, error) {
		return c.Append(ctx, wire, wireFlags, date, raw)
	}); err != nil {
		if IsFatal(err) {
			return err
		}
		return &FolderError{Folder: mailbox, Reason: "cannot append message", Err: err}
	}
	if s.state == StateSelected && s.selected == mailbox {
		s.total++
	}
	return nil
}

// fetchLines returns the FETCH data lines for ord.
func fetchLines(data []string, ord Ordinal) []string {
	want := strconv.FormatUint(uint64(ord), 10)
	var out []string
	for _, line := range data {
		fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "* "))
		if len(fields) >= 2 && fields[0] == want && strings.EqualFold(fields[1], "FETCH") {
			out = append(out, line)
		}
	}
	return out
}

// parseExists reads the count from an "<n> EXISTS" line. The last one wins.
func parseExists(data []string) int {
	n := 0
	for _, line := range data {
		fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "* "))
		if len(fields) == 2 && strings.EqualFold(fields[1], "EXISTS") {
			if v, err := strconv.Atoi(fields[0]); err == nil && v >= 0 {
				n = v
			}
		}
	}
	return n
}

// parseSearch reads the numbers from "SEARCH <n>..." lines.
func parseSearch(data []string) []Ordinal {
	var out []Ordinal
	for _, line := range data {
		fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "* "))
		if len(fields) == 0 || !strings.EqualFold(fields[0], "SEARCH") {
			continue
		}
		for _, f := range fields[1:] {
			if v, err := strconv.ParseUint(f, 10, 32); err == nil && v > 0 {
				out = append(out, Ordinal(v))
			}
		}
	}
	return out
}

func countExpunged(data []string) int {
	n := 0
	for _, line := range data {
		fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "* "))
		if len(fields) == 2 && strings.EqualFold(fields[1], "EXPUNGE") {
			n++
		}
	}
	return n
}

// String describes the session for logs.
func (s *Session) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected != "" {
		return fmt.Sprintf("%s(%s)", s.state, s.selected)
	}
	return s.state.String()
}
