package imapconn

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/mailbox/flags"
	"github.com/nhle/email-mcp/internal/mailbox/folder"
)

func TestResultSplitsProtocolFromTransport(t *testing.T) {
	reply, err := result(nil, "3 EXISTS")
	require.NoError(t, err)
	assert.True(t, reply.OK())
	assert.Equal(t, []string{"3 EXISTS"}, reply.Data)

	reply, err = result(&imap.Error{
		Type: imap.StatusResponseTypeNo,
		Code: imap.ResponseCodeTryCreate,
		Text: "no such mailbox",
	})
	require.NoError(t, err)
	assert.Equal(t, mailbox.StatusNO, reply.Status)
	assert.Equal(t, "[TRYCREATE] no such mailbox", reply.Detail)

	reply, err = result(&imap.Error{Type: imap.StatusResponseTypeBad, Text: "syntax"})
	require.NoError(t, err)
	assert.Equal(t, mailbox.StatusBAD, reply.Status)

	_, err = result(io.ErrUnexpectedEOF)
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestFetchLineParsesBack(t *testing.T) {
	line := fetchLine(4, 120, []imap.Flag{imap.FlagSeen, "$Important"})

	assert.Equal(t, `4 FETCH (UID 120 FLAGS (\Seen $Important))`, line)
	set := flags.Parse(line)
	assert.True(t, flags.IsRead(set))
	assert.True(t, set.Has("$Important"))
}

func TestListLineEncodesMailbox(t *testing.T) {
	box := &imap.ListData{
		Attrs:   []imap.MailboxAttr{imap.MailboxAttrHasNoChildren},
		Delim:   '.',
		Mailbox: "已处理",
	}

	line := listLine(box, folder.Capability{})

	entry, ok := folder.ParseList(line)
	require.True(t, ok)
	assert.Equal(t, "&XfJZBHQG-", entry.WireName)
	assert.Equal(t, ".", entry.Delimiter)
	assert.Equal(t, "已处理", folder.Decode(entry.WireName, folder.Capability{}))

	box.Delim = 0
	entry, ok = folder.ParseList(listLine(box, folder.Capability{UTF8: true}))
	require.True(t, ok)
	assert.Equal(t, "已处理", entry.WireName)
	assert.Empty(t, entry.Delimiter)
}

func TestDialRefused(t *testing.T) {
	d := NewDialer(Config{Host: "127.0.0.1", Port: "1", Timeout: time.Second})

	_, err := d.Dial(context.Background())

	assert.Error(t, err)
}
