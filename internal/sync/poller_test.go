package sync_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/service"
	appsync "github.com/nhle/email-mcp/internal/sync"
	"github.com/nhle/email-mcp/tests/testutil"
)

func newPoller(t *testing.T, srv *testutil.FakeServer, folders ...string) *appsync.Poller {
	t.Helper()
	s := mailbox.NewSession(srv, mailbox.Options{
		Username:   srv.Username,
		Password:   srv.Password,
		StaleAfter: -1,
	})
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return appsync.New(service.NewFolderService(s, nil), appsync.Config{
		Folders:  folders,
		Interval: time.Hour,
	}, nil)
}

func TestPollOnceRecordsCounts(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMessage("INBOX", testutil.Mail("A", "a@example.com", "x"))
	srv.AddMessage("INBOX", testutil.Mail("B", "b@example.com", "y"), `\Seen`)
	srv.AddMessage("Work", testutil.Mail("W", "c@example.com", "z"))

	p := newPoller(t, srv, "INBOX", "Work", "INBOX")
	p.PollOnce(context.Background())

	statuses := p.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "INBOX", statuses[0].Folder)
	assert.Equal(t, appsync.SyncIdle, statuses[0].State)
	assert.Equal(t, 2, statuses[0].Total)
	assert.Equal(t, 1, statuses[0].Unread)
	assert.False(t, statuses[0].LastSync.IsZero())
	assert.Zero(t, statuses[0].NewMessages)
	assert.Equal(t, "Work", statuses[1].Folder)
	assert.Equal(t, 1, statuses[1].Unread)
}

func TestPollOnceDetectsNewMessages(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMessage("INBOX", testutil.Mail("A", "a@example.com", "x"))

	p := newPoller(t, srv, "INBOX")
	ctx := context.Background()
	p.PollOnce(ctx)

	srv.AddMessage("INBOX", testutil.Mail("B", "b@example.com", "y"))
	srv.AddMessage("INBOX", testutil.Mail("C", "c@example.com", "z"))
	p.PollOnce(ctx)

	status := p.Statuses()[0]
	assert.Equal(t, 3, status.Total)
	assert.Equal(t, 2, status.NewMessages)

	p.PollOnce(ctx)
	assert.Zero(t, p.Statuses()[0].NewMessages)
}

func TestPollMissingFolder(t *testing.T) {
	srv := testutil.NewFakeServer()

	p := newPoller(t, srv, "Nowhere", "INBOX")
	p.PollOnce(context.Background())

	statuses := p.Statuses()
	assert.Equal(t, appsync.SyncError, statuses[0].State)
	assert.NotEmpty(t, statuses[0].Error)
	assert.Equal(t, appsync.SyncIdle, statuses[1].State)
}

func TestStartStop(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMessage("INBOX", testutil.Mail("A", "a@example.com", "x"))

	p := newPoller(t, srv, "INBOX")
	p.Start(context.Background())
	p.Start(context.Background())

	require.Eventually(t, func() bool {
		return !p.Statuses()[0].LastSync.IsZero()
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()
	p.Stop()
	assert.Equal(t, 1, p.Statuses()[0].Total)
}

func TestSyncStateText(t *testing.T) {
	text, err := appsync.SyncError.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "error", string(text))
	assert.Equal(t, "running", appsync.SyncRunning.String())
}

func TestPollReconnectsAfterInitialConnectFailure(t *testing.T) {
	srv := testutil.NewFakeServer()
	srv.AddMessage("INBOX", testutil.Mail("A", "a@example.com", "x"))
	failures := 1
	d := &testutil.HookDialer{Dialer: srv, BeforeLogin: func() error {
		if failures > 0 {
			failures--
			return errors.New("dial tcp: connection refused")
		}
		return nil
	}}
	s := mailbox.NewSession(d, mailbox.Options{
		Username:   srv.Username,
		Password:   srv.Password,
		StaleAfter: -1,
	})
	require.Error(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })

	p := appsync.New(service.NewFolderService(s, nil), appsync.Config{Folders: []string{"INBOX"}}, nil)
	p.PollOnce(context.Background())

	status := p.Statuses()[0]
	assert.Equal(t, appsync.SyncIdle, status.State)
	assert.Equal(t, 1, status.Total)
	assert.Equal(t, 2, srv.Dials())
}
