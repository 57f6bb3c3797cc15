package mailbox_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/mailbox/flags"
	"github.com/nhle/email-mcp/internal/mailbox/search"
	"github.com/nhle/email-mcp/tests/testutil"
)

func newSession(t *testing.T, srv *testutil.FakeServer) *mailbox.Session {
	t.Helper()
	s := mailbox.NewSession(srv, mailbox.Options{
		Username:   srv.Username,
		Password:   srv.Password,
		StaleAfter: -1,
	})
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s
}

func seedInbox(srv *testutil.FakeServer, n int) {
	for i := 1; i <= n; i++ {
		srv.AddMessage("INBOX", testutil.Mail("Message "+string(rune('A'+i-1)), "sender@example.com", "body"))
	}
}

func TestConnectNegotiatesUTF8(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.Caps = []string{"IMAP4rev1", "UTF8=ACCEPT"}

	s := newSession(t, srv)

	assert.True(t, s.Capability().UTF8)
	assert.Equal(t, []string{"UTF8=ACCEPT"}, srv.Enabled())
	assert.Equal(t, mailbox.StateConnected, s.State())
}

func TestConnectIMAP4rev2ImpliesUTF8(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.Caps = []string{"IMAP4rev2"}

	s := newSession(t, srv)

	assert.True(t, s.Capability().UTF8)
	assert.Empty(t, srv.Enabled())
}

func TestConnectIsIdempotent(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := newSession(t, srv)

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, srv.Dials())
}

func TestConnectRejectsBadCredentials(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := mailbox.NewSession(srv, mailbox.Options{Username: srv.Username, Password: "wrong"})

	err := s.Connect(context.Background())

	var authErr *mailbox.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	assert.True(t, mailbox.IsFatal(err))
	assert.Equal(t, mailbox.StateDisconnected, s.State())
}

func TestConnectClosesConnOnLoginTransportFailure(t *testing.T) {
	srv := testutil.NewFakeServer()
	d := &testutil.HookDialer{Dialer: srv, BeforeLogin: func() error { return errors.New("read: connection reset by peer") }}
	s := mailbox.NewSession(d, mailbox.Options{Username: srv.Username, Password: srv.Password})

	err := s.Connect(context.Background())

	var connErr *mailbox.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "login", connErr.Op)
	assert.Contains(t, srv.Commands(), "LOGOUT")
	assert.Equal(t, mailbox.StateDisconnected, s.State())
}

func TestOperationsRequireConnect(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := mailbox.NewSession(srv, mailbox.Options{Username: srv.Username, Password: srv.Password})

	_, _, err := s.SelectFolder(context.Background(), "INBOX")

	var connErr *mailbox.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, 0, srv.Dials())
}

func TestDisconnectStopsReconnects(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := newSession(t, srv)

	require.NoError(t, s.Disconnect(context.Background()))
	_, err := s.ListFolders(context.Background())

	assert.True(t, mailbox.IsFatal(err))
	assert.Equal(t, 1, srv.Dials())
}

func TestReconnectRestoresSelection(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMailbox("Archive")
	srv.AddMessage("Archive", testutil.Mail("Kept", "a@example.com", "hi"))
	s := newSession(t, srv)

	_, _, err := s.SelectFolder(context.Background(), "Archive")
	require.NoError(t, err)

	srv.Drop()
	_, err = s.FetchMessage(context.Background(), 1)
	assert.True(t, mailbox.IsFatal(err))
	assert.Equal(t, mailbox.StateDisconnected, s.State())

	email, err := s.FetchMessage(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Kept", email.Subject)
	assert.Equal(t, "Archive", s.Selected())
	assert.Equal(t, 2, srv.Dials())
}

func TestStaleConnectionIsProbed(t *testing.T) {
	srv := testutil.NewFakeServer()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := mailbox.NewSession(srv, mailbox.Options{
		Username:   srv.Username,
		Password:   srv.Password,
		StaleAfter: time.Minute,
		Now:        func() time.Time { return now },
	})
	require.NoError(t, s.Connect(context.Background()))

	now = now.Add(2 * time.Minute)
	srv.Drop()
	_, err := s.ListFolders(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 2, srv.Dials())
	assert.Contains(t, srv.Commands(), "NOOP")
}

func TestSelectFolderCounts(t *testing.T) {
	srv := testutil.NewFakeServer()
	seedInbox(srv, 3)
	srv.AddMessage("INBOX", testutil.Mail("Read", "a@example.com", "x"), `\Seen`)
	s := newSession(t, srv)

	total, unread, err := s.SelectFolder(context.Background(), "INBOX")

	require.NoError(t, err)
	assert.Equal(t, 4, total)
	assert.Equal(t, 3, unread)
	assert.Equal(t, mailbox.StateSelected, s.State())
	assert.Equal(t, "INBOX", s.Selected())
}

func TestSelectUnknownFolder(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	_, _, err = s.SelectFolder(context.Background(), "Nope")

	assert.True(t, mailbox.IsFolderError(err))
	assert.Equal(t, mailbox.StateConnected, s.State())
	assert.Empty(t, s.Selected())
}

func TestSelectEncodesNonASCIIName(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMailbox("&XfJZBHQG-")
	srv.AddMessage("&XfJZBHQG-", testutil.Mail("done", "a@example.com", "x"))
	s := newSession(t, srv)

	total, _, err := s.SelectFolder(context.Background(), "已处理")

	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Contains(t, srv.Commands(), "SELECT &XfJZBHQG-")
}

func TestFolderOpsRequireSelection(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := newSession(t, srv)

	_, err := s.FetchMessage(context.Background(), 1)

	assert.True(t, mailbox.IsFolderError(err))
}

func TestFetchMessage(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMessage("INBOX", testutil.Mail("Hello", "Alice <alice@example.com>", "first body"), `\Flagged`)
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	email, err := s.FetchMessage(context.Background(), 1)

	require.NoError(t, err)
	assert.Equal(t, "1", email.ID)
	assert.Equal(t, "Hello", email.Subject)
	assert.Equal(t, "first body", strings.TrimSpace(email.BodyText))
	assert.Equal(t, "INBOX", email.Folder)
	assert.True(t, email.IsImportant)
	assert.False(t, email.IsRead)

	// Peek must leave the message unread.
	assert.False(t, srv.Messages("INBOX")[0].Flags.Has(flags.Seen))
}

func TestFetchMessageNotFound(t *testing.T) {
	srv := testutil.NewFakeServer()
	seedInbox(srv, 1)
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	_, err = s.FetchMessage(context.Background(), 42)

	assert.True(t, mailbox.IsNotFound(err))
	assert.Equal(t, mailbox.StateSelected, s.State())
}

func TestFetchHeadersSkipsMissing(t *testing.T) {
	srv := testutil.NewFakeServer()
	seedInbox(srv, 2)
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	emails, err := s.FetchHeaders(context.Background(), []mailbox.Ordinal{2, 9, 1})

	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "Message B", emails[0].Subject)
	assert.Equal(t, "Message A", emails[1].Subject)
	assert.Empty(t, emails[0].BodyText)
}

func TestSetFlag(t *testing.T) {
	srv := testutil.NewFakeServer()
	seedInbox(srv, 2)
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	ok, err := s.SetFlag(context.Background(), 2, flags.Seen, true)
	require.NoError(t, err)
	assert.True(t, ok)

	set, err := s.Flags(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, flags.IsRead(set))

	ok, err = s.SetFlag(context.Background(), 2, flags.Seen, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, srv.Messages("INBOX")[1].Flags.Has(flags.Seen))
}

func TestSetFlagStaleOrdinal(t *testing.T) {
	srv := testutil.NewFakeServer()
	seedInbox(srv, 1)
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	ok, err := s.SetFlag(context.Background(), 5, flags.Flagged, true)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMoveMessageRenumbers(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMailbox("Archive")
	seedInbox(srv, 3)
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	require.NoError(t, s.MoveMessage(context.Background(), 1, "Archive"))

	require.Len(t, srv.Messages("Archive"), 1)
	inbox := srv.Messages("INBOX")
	require.Len(t, inbox, 2)

	// The former #2 is now #1.
	email, err := s.FetchMessage(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Message B", email.Subject)
}

func TestMoveMessageMissingTarget(t *testing.T) {
	srv := testutil.NewFakeServer()
	seedInbox(srv, 1)
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	err = s.MoveMessage(context.Background(), 1, "Missing")

	assert.True(t, mailbox.IsFolderError(err))
	assert.Len(t, srv.Messages("INBOX"), 1)
}

func TestDeleteMessage(t *testing.T) {
	srv := testutil.NewFakeServer()
	seedInbox(srv, 2)
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	require.NoError(t, s.DeleteMessage(context.Background(), 2))

	inbox := srv.Messages("INBOX")
	require.Len(t, inbox, 1)
	exists, err := s.Exists(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSearchASCII(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMessage("INBOX", testutil.Mail("Invoice March", "billing@example.com", "pay"))
	srv.AddMessage("INBOX", testutil.Mail("Lunch", "bob@example.com", "noon"))
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	res, err := s.Search(context.Background(), search.Query{Text: "invoice", Field: search.FieldSubject})

	require.NoError(t, err)
	assert.Equal(t, []mailbox.Ordinal{1}, res.Ordinals)
	assert.False(t, res.Fallback)
	assert.False(t, res.Lossy)
}

func TestSearchCharsetFallback(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.RejectCharset = true
	srv.AddMessage("INBOX", testutil.Mail("Muller report", "a@example.com", "q3"))
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	res, err := s.Search(context.Background(), search.Query{Text: "Müller report"})

	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.True(t, res.Lossy)
	assert.Equal(t, search.StrategyASCII, res.Strategy)
	assert.Equal(t, []mailbox.Ordinal{1}, res.Ordinals)

	searches := srv.Searches()
	assert.Equal(t, []search.Strategy{search.StrategyCharsetUTF8, search.StrategyASCII}, searches[len(searches)-2:])
}

func TestSearchUTF8Wire(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.Caps = []string{"IMAP4rev1", "UTF8=ACCEPT"}
	srv.AddMessage("INBOX", testutil.Mail("会议纪要", "a@example.com", "notes"))
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	res, err := s.Search(context.Background(), search.Query{Text: "会议", Field: search.FieldSubject})

	require.NoError(t, err)
	assert.Equal(t, search.StrategyUTF8, res.Strategy)
	assert.False(t, res.Fallback)
	assert.Equal(t, []mailbox.Ordinal{1}, res.Ordinals)
}

func TestSearchEveryStrategyRejected(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.RejectCharset = true
	s := newSession(t, srv)
	_, _, err := s.SelectFolder(context.Background(), "INBOX")
	require.NoError(t, err)

	_, err = s.Search(context.Background(), search.Query{Text: "张三"})

	var protoErr *mailbox.ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, mailbox.StatusNO, protoErr.Status)
}

func TestSearchValidation(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := newSession(t, srv)

	_, err := s.Search(context.Background(), search.Query{Text: "  "})

	assert.True(t, mailbox.IsValidation(err))
}

func TestListFolders(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMailbox("&XfJZBHQG-")
	srv.AddNoSelect("[Gmail]")
	s := newSession(t, srv)

	folders, err := s.ListFolders(context.Background())

	require.NoError(t, err)
	require.Len(t, folders, 3)
	assert.Equal(t, "INBOX", folders[0].Name)
	assert.Equal(t, "已处理", folders[1].Name)
	assert.Equal(t, "&XfJZBHQG-", folders[1].WireName)
	assert.True(t, folders[1].Selectable)
	assert.False(t, folders[2].Selectable)
}

func TestCreateFolderFallsBackToInboxNamespace(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.RejectCreate["Projects"] = true
	s := newSession(t, srv)

	name, err := s.CreateFolder(context.Background(), "Projects")

	require.NoError(t, err)
	assert.Equal(t, "INBOX.Projects", name)
	assert.True(t, srv.HasMailbox("INBOX.Projects"))
}

func TestCreateFolderEncodesName(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := newSession(t, srv)

	name, err := s.CreateFolder(context.Background(), "已处理")

	require.NoError(t, err)
	assert.Equal(t, "已处理", name)
	assert.True(t, srv.HasMailbox("&XfJZBHQG-"))
}

func TestCreateFolderAlreadyExists(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMailbox("Receipts")
	s := newSession(t, srv)

	_, err := s.CreateFolder(context.Background(), "Receipts")

	assert.True(t, mailbox.IsFolderError(err))
	assert.False(t, srv.HasMailbox("INBOX.Receipts"))
}

func TestCreateAndDeleteRefuseSystemFolders(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := newSession(t, srv)

	_, err := s.CreateFolder(context.Background(), "trash")
	assert.True(t, mailbox.IsFolderError(err))

	err = s.DeleteFolder(context.Background(), "INBOX")
	assert.True(t, mailbox.IsFolderError(err))
	assert.True(t, srv.HasMailbox("INBOX"))
}

func TestCreateFolderValidation(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := newSession(t, srv)

	_, err := s.CreateFolder(context.Background(), "a/b")

	assert.True(t, mailbox.IsValidation(err))
}

func TestDeleteFolder(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMailbox("Old")
	s := newSession(t, srv)

	require.NoError(t, s.DeleteFolder(context.Background(), "Old"))
	assert.False(t, srv.HasMailbox("Old"))

	err := s.DeleteFolder(context.Background(), "Old")
	assert.True(t, mailbox.IsFolderError(err))
}

func TestEnsureFolder(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMailbox("Existing")
	s := newSession(t, srv)

	created, err := s.EnsureFolder(context.Background(), "Existing")
	require.NoError(t, err)
	assert.False(t, created)

	created, err = s.EnsureFolder(context.Background(), "Fresh")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, srv.HasMailbox("Fresh"))
}

func TestAppend(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMailbox("Sent")
	s := newSession(t, srv)
	date := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	err := s.Append(context.Background(), "Sent", []byte(testutil.Mail("Out", "me@example.com", "x")), []string{flags.Seen, "nonsense\\"}, date)

	require.NoError(t, err)
	msgs := srv.Messages("Sent")
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Flags.Has(flags.Seen))
	assert.True(t, msgs[0].Date.Equal(date))

	err = s.Append(context.Background(), "Missing", []byte("x"), nil, date)
	assert.True(t, mailbox.IsFolderError(err))
}

func TestDoKeepsSelectionForItsDuration(t *testing.T) {
	srv := testutil.NewFakeServer()
	seedInbox(srv, 2)
	srv.AddMessage("Work", testutil.Mail("Other", "o@example.com", "x"))
	s := newSession(t, srv)
	ctx := context.Background()

	err := s.Do(ctx, "INBOX", func(tx *mailbox.Tx) error {
		assert.Equal(t, "INBOX", tx.Selected())
		assert.Equal(t, 2, tx.Total())
		assert.Equal(t, 2, tx.Unread())

		require.NoError(t, tx.DeleteMessage(ctx, 1))
		assert.Equal(t, 1, tx.Total())

		email, err := tx.FetchMessage(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Message B", email.Subject)
		return nil
	})
	require.NoError(t, err)

	_, _, err = s.SelectFolder(ctx, "Work")
	require.NoError(t, err)
	assert.Equal(t, "Work", s.Selected())
}

func TestDoReturnsSelectionAndCallbackErrors(t *testing.T) {
	srv := testutil.NewFakeServer()
	s := newSession(t, srv)
	ctx := context.Background()

	called := false
	err := s.Do(ctx, "Missing", func(*mailbox.Tx) error {
		called = true
		return nil
	})
	assert.True(t, mailbox.IsFolderError(err))
	assert.False(t, called)

	sentinel := errors.New("stop")
	err = s.Do(ctx, "", func(*mailbox.Tx) error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
}

func TestAnsweredChecksMessageID(t *testing.T) {
	srv := testutil.NewFakeServer()
	seedInbox(srv, 2)
	s := newSession(t, srv)
	ctx := context.Background()

	err := s.Do(ctx, "INBOX", func(tx *mailbox.Tx) error {
		ok, err := tx.Answered(ctx, 1, "<message.b@example.com>")
		require.NoError(t, err)
		assert.False(t, ok)

		ok, err = tx.Answered(ctx, 2, "<message.b@example.com>")
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	msgs := srv.Messages("INBOX")
	assert.False(t, msgs[0].Flags.Has(flags.Answered))
	assert.True(t, msgs[1].Flags.Has(flags.Answered))
}
