// Package message decodes raw RFC 5322 messages into structured emails
// and composes outgoing ones.
package message

import (
	"errors"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Email is a message decoded from a fetch. ID is the sequence number the
// message had when it was fetched, valid only within that selection.
type Email struct {
	ID          string       `json:"email_id"`
	Subject     string       `json:"subject"`
	From        string       `json:"from_addr"`
	To          string       `json:"to_addr"`
	Cc          string       `json:"cc_addr"`
	Date        string       `json:"date"`
	MessageID   string       `json:"message_id"`
	BodyText    string       `json:"body_text"`
	BodyHTML    string       `json:"body_html"`
	Attachments []Attachment `json:"attachments"`
	Flags       []string     `json:"flags"`
	IsRead      bool         `json:"is_read"`
	IsImportant bool         `json:"is_important"`
	Folder      string       `json:"folder"`

	Time       time.Time `json:"-"`
	References []string  `json:"-"`
	Tree       *Part     `json:"-"`
}

// Parse decodes raw into an Email. A message whose header cannot be read
// is returned with the whole input as its text body.
func Parse(raw []byte, id string) (*Email, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty message")
	}

	tree, err := ParseTree(raw)
	if err != nil {
		return &Email{ID: id, BodyText: lenient(string(raw)), Attachments: []Attachment{}}, nil
	}

	h := mail.Header{Header: tree.Header}
	email := &Email{
		ID:        id,
		Subject:   DecodeHeader(h.Get("Subject")),
		From:      DecodeHeader(h.Get("From")),
		To:        DecodeHeader(h.Get("To")),
		Cc:        DecodeHeader(h.Get("Cc")),
		Date:      h.Get("Date"),
		MessageID: strings.TrimSpace(h.Get("Message-Id")),
		Tree:      tree,
	}
	if t, err := h.Date(); err == nil {
		email.Time = t
	}
	if refs, err := h.MsgIDList("References"); err == nil {
		email.References = refs
	}

	email.BodyText, email.BodyHTML = ExtractBody(tree)
	email.Attachments = ExtractAttachments(tree)
	if email.Attachments == nil {
		email.Attachments = []Attachment{}
	}
	return email, nil
}

// FromAddress returns the decoded sender.
func (e *Email) FromAddress() Address {
	name, addr := ParseAddress(e.From)
	return Address{Name: name, Email: addr}
}
