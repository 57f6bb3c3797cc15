package mailbox

import (
	"context"
	"time"

	"github.com/nhle/email-mcp/internal/mailbox/flags"
	"github.com/nhle/email-mcp/internal/mailbox/search"
	"github.com/nhle/email-mcp/internal/message"
)

// Tx is a view of a Session whose lock is held by Do. Ordinals read through
// a Tx stay meaningful until fn returns, since no other caller can select
// another folder or expunge in between. A Tx must not be used after fn
// returns.
type Tx struct {
	s      *Session
	unread int
}

// Do runs fn while holding the session lock. When folderName is not empty
// it is selected first. A dropped connection is reestablished by the next
// command and the selection restored, so fn may keep going after a
// ConnectionError.
func (s *Session) Do(ctx context.Context, folderName string, fn func(*Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{s: s}
	if folderName != "" {
		_, unread, err := s.selectChecked(ctx, folderName)
		if err != nil {
			return err
		}
		tx.unread = unread
	} else if err := s.ensureConnected(ctx); err != nil {
		return err
	}
	return fn(tx)
}

// Total returns the message count of the selection, adjusted for the
// expunges made since it was selected.
func (tx *Tx) Total() int { return tx.s.total }

// Unread returns the unseen count reported when Do selected the folder.
func (tx *Tx) Unread() int { return tx.unread }

// Selected returns the selected folder.
func (tx *Tx) Selected() string { return tx.s.selected }

func (tx *Tx) SelectFolder(ctx context.Context, name string) (total, unread int, err error) {
	total, unread, err = tx.s.selectChecked(ctx, name)
	if err == nil {
		tx.unread = unread
	}
	return total, unread, err
}

func (tx *Tx) FetchMessage(ctx context.Context, ord Ordinal) (*message.Email, error) {
	return tx.s.fetchMessage(ctx, ord)
}

func (tx *Tx) FetchHeaders(ctx context.Context, ords []Ordinal) ([]*message.Email, error) {
	return tx.s.fetchHeaders(ctx, ords)
}

func (tx *Tx) Exists(ctx context.Context, ord Ordinal) (bool, error) {
	return tx.s.exists(ctx, ord)
}

func (tx *Tx) SetFlag(ctx context.Context, ord Ordinal, flag string, on bool) (bool, error) {
	return tx.s.setFlag(ctx, ord, flag, on)
}

func (tx *Tx) MoveMessage(ctx context.Context, ord Ordinal, target string) error {
	return tx.s.moveMessage(ctx, ord, target)
}

func (tx *Tx) DeleteMessage(ctx context.Context, ord Ordinal) error {
	return tx.s.deleteMessage(ctx, ord)
}

func (tx *Tx) Search(ctx context.Context, q search.Query) (*SearchResult, error) {
	return tx.s.search(ctx, q)
}

func (tx *Tx) Append(ctx context.Context, mailbox string, raw []byte, flagNames []string, date time.Time) error {
	return tx.s.appendMessage(ctx, mailbox, raw, flagNames, date)
}

// Answered marks ord answered when it still carries messageID. It reports
// false when the message was renumbered away or the store was refused.
func (tx *Tx) Answered(ctx context.Context, ord Ordinal, messageID string) (bool, error) {
	if messageID != "" {
		headers, err := tx.s.fetchHeaders(ctx, []Ordinal{ord})
		if err != nil {
			return false, err
		}
		if len(headers) == 0 || headers[0].MessageID != messageID {
			return false, nil
		}
	}
	return tx.s.setFlag(ctx, ord, flags.Answered, true)
}
