package message

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	netmail "net/mail"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
)

// Outgoing is a message to be composed for sending or saving.
type Outgoing struct {
	From        Address
	To          []Address
	Cc          []Address
	Subject     string
	Text        string
	HTML        string
	InReplyTo   string
	References  []string
	Attachments []Attachment
	Date        time.Time
}

// Recipients returns the envelope recipients: To then Cc. Bcc addresses are
// passed to the transfer agent separately and never written to the header.
func (o Outgoing) Recipients() []string {
	out := make([]string, 0, len(o.To)+len(o.Cc))
	for _, a := range o.To {
		out = append(out, a.Email)
	}
	for _, a := range o.Cc {
		out = append(out, a.Email)
	}
	return out
}

// Compose renders o as RFC 5322 bytes. Non-ASCII display names and
// subjects are written as encoded-words.
func Compose(o Outgoing) ([]byte, error) {
	if o.From.Email == "" {
		return nil, errors.New("composing message: missing From address")
	}
	if len(o.To) == 0 {
		return nil, errors.New("composing message: no recipients")
	}

	var h mail.Header
	date := o.Date
	if date.IsZero() {
		date = time.Now()
	}
	h.SetDate(date)
	h.SetAddressList("From", toMailAddresses([]Address{o.From}))
	h.SetAddressList("To", toMailAddresses(o.To))
	h.SetAddressList("Cc", toMailAddresses(o.Cc))
	h.SetSubject(o.Subject)
	if err := h.GenerateMessageIDWithHostname(domainOf(o.From.Email)); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}
	if o.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{trimAngles(o.InReplyTo)})
	}
	if len(o.References) > 0 {
		refs := make([]string, 0, len(o.References))
		for _, r := range o.References {
			refs = append(refs, trimAngles(r))
		}
		h.SetMsgIDList("References", refs)
	}

	var buf bytes.Buffer
	var err error
	switch {
	case len(o.Attachments) > 0:
		err = writeMixed(&buf, h, o)
	case o.HTML != "":
		err = writeAlternative(&buf, h, o)
	default:
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		err = writeSingle(&buf, h, o.Text)
	}
	if err != nil {
		return nil, fmt.Errorf("composing message: %w", err)
	}
	return buf.Bytes(), nil
}

func writeSingle(buf *bytes.Buffer, h mail.Header, text string) error {
	w, err := mail.CreateSingleInlineWriter(buf, h)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, text); err != nil {
		return err
	}
	return w.Close()
}

func writeAlternative(buf *bytes.Buffer, h mail.Header, o Outgoing) error {
	iw, err := mail.CreateInlineWriter(buf, h)
	if err != nil {
		return err
	}
	if err := writeInlineParts(iw, o); err != nil {
		return err
	}
	return iw.Close()
}

func writeMixed(buf *bytes.Buffer, h mail.Header, o Outgoing) error {
	mw, err := mail.CreateWriter(buf, h)
	if err != nil {
		return err
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return err
	}
	if err := writeInlineParts(iw, o); err != nil {
		return err
	}
	if err := iw.Close(); err != nil {
		return err
	}

	for _, a := range o.Attachments {
		var ah mail.AttachmentHeader
		ct := a.ContentType
		if ct == "" {
			ct = contentTypeFor(a.Filename)
		}
		mediaType, params, err := mime.ParseMediaType(ct)
		if err != nil {
			mediaType, params = "application/octet-stream", nil
		}
		ah.SetContentType(mediaType, params)
		ah.SetFilename(a.Filename)

		w, err := mw.CreateAttachment(ah)
		if err != nil {
			return err
		}
		if _, err := w.Write(a.Content); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeInlineParts(iw *mail.InlineWriter, o Outgoing) error {
	parts := []struct {
		contentType string
		body        string
	}{{"text/plain", o.Text}}
	if o.HTML != "" {
		parts = append(parts, struct {
			contentType string
			body        string
		}{"text/html", o.HTML})
	}

	for _, p := range parts {
		var ih mail.InlineHeader
		ih.SetContentType(p.contentType, map[string]string{"charset": "utf-8"})
		w, err := iw.CreatePart(ih)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(w, p.body); err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
	}
	return nil
}

func toMailAddresses(list []Address) []*mail.Address {
	out := make([]*mail.Address, 0, len(list))
	for _, a := range list {
		out = append(out, &mail.Address{Name: a.Name, Address: a.Email})
	}
	return out
}

func contentTypeFor(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func domainOf(addr string) string {
	if i := strings.LastIndexByte(addr, '@'); i >= 0 && i+1 < len(addr) {
		return addr[i+1:]
	}
	return "localhost"
}

func trimAngles(id string) string {
	return strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(id), "<"), ">")
}

// Restore rebuilds a message from a decoded Email, keeping its original
// Date and Message-Id. Attachment content is not part of an Email record
// and is not restored.
func Restore(e *Email) ([]byte, error) {
	if e == nil {
		return nil, errors.New("restoring message: nil email")
	}

	var h mail.Header
	switch {
	case e.Date != "" && validDate(e.Date):
		h.Set("Date", strings.TrimSpace(e.Date))
	case !e.Time.IsZero():
		h.SetDate(e.Time)
	default:
		h.SetDate(time.Now())
	}
	if from := DecodeAddressList(e.From); len(from) > 0 {
		h.SetAddressList("From", toMailAddresses(from))
	}
	if to := DecodeAddressList(e.To); len(to) > 0 {
		h.SetAddressList("To", toMailAddresses(to))
	}
	if cc := DecodeAddressList(e.Cc); len(cc) > 0 {
		h.SetAddressList("Cc", toMailAddresses(cc))
	}
	h.SetSubject(e.Subject)
	if id := trimAngles(e.MessageID); id != "" {
		h.SetMsgIDList("Message-Id", []string{id})
	}

	var buf bytes.Buffer
	var err error
	if e.BodyHTML != "" {
		err = writeAlternative(&buf, h, Outgoing{Text: e.BodyText, HTML: e.BodyHTML})
	} else {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		err = writeSingle(&buf, h, e.BodyText)
	}
	if err != nil {
		return nil, fmt.Errorf("restoring message %s: %w", e.ID, err)
	}
	return buf.Bytes(), nil
}

func validDate(s string) bool {
	_, err := ParseDate(s)
	return err == nil
}

// ParseDate parses a Date header value.
func ParseDate(s string) (time.Time, error) {
	return netmail.ParseDate(strings.TrimSpace(s))
}
