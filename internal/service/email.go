// Package service implements the mail operations exposed as tools, on top
// of one long-lived mailbox session.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/mailbox/flags"
	"github.com/nhle/email-mcp/internal/mailbox/folder"
	"github.com/nhle/email-mcp/internal/mailbox/search"
	"github.com/nhle/email-mcp/internal/message"
	"github.com/nhle/email-mcp/internal/model"
	"github.com/nhle/email-mcp/internal/sender"
	"github.com/nhle/email-mcp/internal/store"
)

// DefaultFolder is used when a request names no folder.
const DefaultFolder = "INBOX"

// PreviewLength is the number of characters of body text in summaries.
const PreviewLength = 200

// ErrSendFailed wraps failures reported by the SMTP server.
var ErrSendFailed = errors.New("sending failed")

// EmailSummary is one row of a listing.
type EmailSummary struct {
	ID             string `json:"email_id"`
	Subject        string `json:"subject"`
	From           string `json:"from_addr"`
	To             string `json:"to_addr"`
	Date           string `json:"date"`
	IsRead         bool   `json:"is_read"`
	IsImportant    bool   `json:"is_important"`
	HasAttachments bool   `json:"has_attachments"`
	Preview        string `json:"preview,omitempty"`
}

// EmailPage is one page of a folder listing, newest first.
type EmailPage struct {
	Folder       string         `json:"folder"`
	Page         int            `json:"page"`
	PageSize     int            `json:"page_size"`
	TotalResults int            `json:"total_results"`
	TotalPages   int            `json:"total_pages"`
	Unread       int            `json:"unread_count"`
	Emails       []EmailSummary `json:"emails"`
	Warning      string         `json:"warning,omitempty"`
}

// SearchRequest is a search within one folder.
type SearchRequest struct {
	Folder   string
	Query    string
	Field    string
	Page     int
	PageSize int
}

// SearchPage is one page of search results, newest first.
type SearchPage struct {
	Folder       string         `json:"folder"`
	Query        string         `json:"query"`
	Page         int            `json:"page"`
	PageSize     int            `json:"page_size"`
	TotalResults int            `json:"total_results"`
	Fallback     bool           `json:"fallback"`
	Lossy        bool           `json:"lossy"`
	Emails       []EmailSummary `json:"emails"`
	Warning      string         `json:"warning,omitempty"`
}

// SendRequest describes a new outgoing message. Attachments are local
// file paths.
type SendRequest struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	HTMLBody    string
	Attachments []string
	InReplyTo   string
	References  []string
}

// ReplyRequest answers the message ID in Folder.
type ReplyRequest struct {
	Folder      string
	ID          string
	Body        string
	HTMLBody    string
	ReplyAll    bool
	Attachments []string
}

// ForwardRequest forwards the message ID in Folder with its attachments.
type ForwardRequest struct {
	Folder string
	ID     string
	To     []string
	Cc     []string
	Bcc    []string
	Body   string
}

// SendResult reports a delivered message.
type SendResult struct {
	Subject    string `json:"subject"`
	Recipients int    `json:"recipient_count"`
	SavedTo    string `json:"saved_to,omitempty"`
}

// DraftPage is one page of stored drafts.
type DraftPage struct {
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Total    int           `json:"total_results"`
	Drafts   []model.Draft `json:"drafts"`
	Warning  string        `json:"warning,omitempty"`
}

// EmailService implements message operations.
type EmailService struct {
	session *mailbox.Session
	batches *mailbox.Coordinator
	sender  sender.Sender
	store   store.Store
	from    message.Address
	log     *slog.Logger
	now     func() time.Time
}

// NewEmailService creates an EmailService sending as from.
func NewEmailService(
	s *mailbox.Session,
	snd sender.Sender,
	st store.Store,
	from message.Address,
	log *slog.Logger,
) *EmailService {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "email_service"))
	return &EmailService{
		session: s,
		batches: mailbox.NewCoordinator(s, log),
		sender:  snd,
		store:   st,
		from:    from,
		log:     log,
		now:     time.Now,
	}
}

func folderOrDefault(name string) string {
	if name = strings.TrimSpace(name); name == "" {
		return DefaultFolder
	}
	return name
}

func parseID(id string) (mailbox.Ordinal, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
	if err != nil || n == 0 {
		return 0, &mailbox.ValidationError{Field: "email_id", Message: fmt.Sprintf("%q is not a message number", id)}
	}
	return mailbox.Ordinal(n), nil
}

func summarize(e *message.Email, preview bool) EmailSummary {
	s := EmailSummary{
		ID:             e.ID,
		Subject:        e.Subject,
		From:           e.From,
		To:             e.To,
		Date:           e.Date,
		IsRead:         e.IsRead,
		IsImportant:    e.IsImportant,
		HasAttachments: len(e.Attachments) > 0,
	}
	if preview {
		s.Preview = message.Preview(e, PreviewLength)
	}
	return s
}

// ListEmails returns one page of folderName, newest first, with previews.
func (e *EmailService) ListEmails(ctx context.Context, folderName string, page, pageSize int) (*EmailPage, error) {
	folderName = folderOrDefault(folderName)
	page, pageSize, warning := NormalizePage(page, pageSize)

	var result *EmailPage
	err := e.session.Do(ctx, folderName, func(tx *mailbox.Tx) error {
		total := tx.Total()
		result = &EmailPage{
			Folder:       folderName,
			Page:         page,
			PageSize:     pageSize,
			TotalResults: total,
			TotalPages:   (total + pageSize - 1) / pageSize,
			Unread:       tx.Unread(),
			Emails:       []EmailSummary{},
			Warning:      warning,
		}

		start := total - (page-1)*pageSize
		for n := start; n >= 1 && n > start-pageSize; n-- {
			email, err := tx.FetchMessage(ctx, mailbox.Ordinal(n))
			if err != nil {
				if mailbox.IsNotFound(err) {
					continue
				}
				return err
			}
			result.Emails = append(result.Emails, summarize(email, true))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetEmail fetches one message without marking it read.
func (e *EmailService) GetEmail(ctx context.Context, folderName, id string) (*message.Email, error) {
	ord, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return e.fetchOne(ctx, folderOrDefault(folderName), ord)
}

func (e *EmailService) fetchOne(ctx context.Context, folderName string, ord mailbox.Ordinal) (*message.Email, error) {
	var email *message.Email
	err := e.session.Do(ctx, folderName, func(tx *mailbox.Tx) error {
		var err error
		email, err = tx.FetchMessage(ctx, ord)
		return err
	})
	if err != nil {
		return nil, err
	}
	return email, nil
}

// SearchEmails searches one folder and returns a page of header
// summaries, newest first.
func (e *EmailService) SearchEmails(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	folderName := folderOrDefault(req.Folder)
	page, pageSize, warning := NormalizePage(req.Page, req.PageSize)

	field, err := search.ParseField(req.Field)
	if err != nil {
		return nil, &mailbox.ValidationError{Field: "field", Message: err.Error()}
	}
	q := search.Query{Text: req.Query, Field: field}
	if _, err := search.Build(q, false); err != nil {
		return nil, &mailbox.ValidationError{Field: "query", Message: err.Error()}
	}

	var result *SearchPage
	err = e.session.Do(ctx, folderName, func(tx *mailbox.Tx) error {
		found, err := tx.Search(ctx, q)
		if err != nil {
			return err
		}

		ords := slices.Clone(found.Ordinals)
		slices.SortFunc(ords, func(a, b mailbox.Ordinal) int { return int(b) - int(a) })

		result = &SearchPage{
			Folder:       folderName,
			Query:        req.Query,
			Page:         page,
			PageSize:     pageSize,
			TotalResults: len(ords),
			Fallback:     found.Fallback,
			Lossy:        found.Lossy,
			Emails:       []EmailSummary{},
			Warning:      warning,
		}

		from := (page - 1) * pageSize
		if from >= len(ords) {
			return nil
		}
		to := min(from+pageSize, len(ords))

		emails, err := tx.FetchHeaders(ctx, ords[from:to])
		if err != nil {
			return err
		}
		for _, email := range emails {
			result.Emails = append(result.Emails, summarize(email, false))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkEmails sets or clears read or important state. mark is one of
// read, unread, important or unimportant.
func (e *EmailService) MarkEmails(ctx context.Context, folderName string, ids []string, mark string) (*mailbox.BatchResult, error) {
	b := mailbox.Batch{Folder: folderOrDefault(folderName), Action: mailbox.ActionMark, IDs: ids}
	switch strings.ToLower(strings.TrimSpace(mark)) {
	case "read":
		b.Flag, b.On = flags.Seen, true
	case "unread":
		b.Flag, b.On = flags.Seen, false
	case "important", "flagged":
		b.Flag, b.On = flags.Flagged, true
	case "unimportant", "normal", "unflagged":
		b.Flag, b.On = flags.Flagged, false
	default:
		return nil, &mailbox.ValidationError{Field: "mark_as", Message: fmt.Sprintf("unknown mark %q", mark)}
	}
	return e.batches.Apply(ctx, b)
}

// MoveEmails moves ids from folderName to target.
func (e *EmailService) MoveEmails(ctx context.Context, folderName string, ids []string, target string) (*mailbox.BatchResult, error) {
	return e.batches.Apply(ctx, mailbox.Batch{
		Folder: folderOrDefault(folderName),
		Action: mailbox.ActionMove,
		IDs:    ids,
		Target: target,
	})
}

// DeleteEmails permanently removes ids from folderName.
func (e *EmailService) DeleteEmails(ctx context.Context, folderName string, ids []string) (*mailbox.BatchResult, error) {
	return e.batches.Apply(ctx, mailbox.Batch{
		Folder: folderOrDefault(folderName),
		Action: mailbox.ActionDelete,
		IDs:    ids,
	})
}

// SendEmail composes and sends a new message and saves a copy to the
// Sent folder.
func (e *EmailService) SendEmail(ctx context.Context, req SendRequest) (*SendResult, error) {
	to, err := ParseRecipients("to", req.To, true)
	if err != nil {
		return nil, err
	}
	cc, err := ParseRecipients("cc", req.Cc, false)
	if err != nil {
		return nil, err
	}
	bcc, err := ParseRecipients("bcc", req.Bcc, false)
	if err != nil {
		return nil, err
	}
	attachments, err := loadAttachments(req.Attachments)
	if err != nil {
		return nil, err
	}

	return e.deliver(ctx, message.Outgoing{
		From:        e.from,
		To:          to,
		Cc:          cc,
		Subject:     SanitizeSubject(req.Subject),
		Text:        req.Body,
		HTML:        req.HTMLBody,
		InReplyTo:   req.InReplyTo,
		References:  req.References,
		Attachments: attachments,
	}, bcc)
}

// ReplyEmail answers a message and marks it answered.
func (e *EmailService) ReplyEmail(ctx context.Context, req ReplyRequest) (*SendResult, error) {
	ord, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	attachments, err := loadAttachments(req.Attachments)
	if err != nil {
		return nil, err
	}
	folderName := folderOrDefault(req.Folder)
	original, err := e.fetchOne(ctx, folderName, ord)
	if err != nil {
		return nil, err
	}

	author := original.FromAddress()
	if author.Email == "" {
		return nil, &mailbox.ValidationError{Field: "email_id", Message: "original message has no sender"}
	}
	var cc []message.Address
	if req.ReplyAll {
		skip := []string{strings.ToLower(author.Email), strings.ToLower(e.from.Email)}
		for _, a := range append(message.DecodeAddressList(original.To), message.DecodeAddressList(original.Cc)...) {
			key := strings.ToLower(a.Email)
			if a.Email == "" || slices.Contains(skip, key) {
				continue
			}
			skip = append(skip, key)
			cc = append(cc, a)
		}
	}

	references := slices.Clone(original.References)
	if original.MessageID != "" {
		references = append(references, original.MessageID)
	}

	result, err := e.deliver(ctx, message.Outgoing{
		From:        e.from,
		To:          []message.Address{author},
		Cc:          cc,
		Subject:     SanitizeSubject(prefixSubject("Re:", original.Subject)),
		Text:        req.Body + "\n\n" + quote(original),
		HTML:        req.HTMLBody,
		InReplyTo:   original.MessageID,
		References:  references,
		Attachments: attachments,
	}, nil)
	if err != nil {
		return nil, err
	}

	// The folder may have been renumbered while sending, so the flag is only
	// set if ord still holds the original.
	var answered bool
	err = e.session.Do(ctx, folderName, func(tx *mailbox.Tx) error {
		var err error
		answered, err = tx.Answered(ctx, ord, original.MessageID)
		return err
	})
	if err != nil || !answered {
		e.log.Warn("marking original answered failed",
			slog.String("folder", folderName),
			slog.String("email_id", req.ID),
			slog.Any("error", err),
		)
	}
	return result, nil
}

// ForwardEmail forwards a message, re-attaching its attachments.
func (e *EmailService) ForwardEmail(ctx context.Context, req ForwardRequest) (*SendResult, error) {
	ord, err := parseID(req.ID)
	if err != nil {
		return nil, err
	}
	to, err := ParseRecipients("to", req.To, true)
	if err != nil {
		return nil, err
	}
	cc, err := ParseRecipients("cc", req.Cc, false)
	if err != nil {
		return nil, err
	}
	bcc, err := ParseRecipients("bcc", req.Bcc, false)
	if err != nil {
		return nil, err
	}

	original, err := e.fetchOne(ctx, folderOrDefault(req.Folder), ord)
	if err != nil {
		return nil, err
	}

	var attachments []message.Attachment
	if original.Tree != nil {
		attachments = message.ExtractAttachments(original.Tree)
	}

	return e.deliver(ctx, message.Outgoing{
		From:        e.from,
		To:          to,
		Cc:          cc,
		Subject:     SanitizeSubject(prefixSubject("Fwd:", original.Subject)),
		Text:        strings.TrimLeft(req.Body+"\n\n"+forwarded(original), "\n"),
		Attachments: attachments,
	}, bcc)
}

// deliver composes out, sends it to its recipients plus bcc and files a
// copy in the first Sent folder that accepts it.
func (e *EmailService) deliver(ctx context.Context, out message.Outgoing, bcc []message.Address) (*SendResult, error) {
	out.Date = e.now()
	raw, err := message.Compose(out)
	if err != nil {
		return nil, &mailbox.ValidationError{Field: "message", Message: err.Error()}
	}

	rcpt := out.Recipients()
	for _, a := range bcc {
		rcpt = append(rcpt, a.Email)
	}
	if err := e.sender.Send(ctx, sender.Envelope{From: e.from.Email, To: rcpt}, raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	result := &SendResult{Subject: out.Subject, Recipients: len(rcpt)}
	result.SavedTo = e.saveSent(ctx, raw)
	e.log.Info("message sent",
		slog.Int("recipients", len(rcpt)),
		slog.String("saved_to", result.SavedTo),
	)
	return result, nil
}

func (e *EmailService) saveSent(ctx context.Context, raw []byte) string {
	for _, name := range folder.SentCandidates {
		err := e.session.Append(ctx, name, raw, []string{flags.Seen}, e.now())
		if err == nil {
			return name
		}
		if mailbox.IsFatal(err) {
			e.log.Warn("saving sent copy failed", slog.Any("error", err))
			return ""
		}
		e.log.Debug("sent folder rejected copy", slog.String("folder", name), slog.Any("error", err))
	}
	e.log.Warn("no sent folder accepted the copy")
	return ""
}

func loadAttachments(paths []string) ([]message.Attachment, error) {
	out := make([]message.Attachment, 0, len(paths))
	for _, p := range paths {
		if strings.TrimSpace(p) == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, &mailbox.ValidationError{Field: "attachments", Message: fmt.Sprintf("cannot read %s: %v", p, err)}
		}
		out = append(out, message.Attachment{
			Filename: filepath.Base(p),
			Size:     int64(len(data)),
			Content:  data,
		})
	}
	return out, nil
}

func prefixSubject(prefix, subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), strings.ToLower(prefix)) {
		return subject
	}
	return prefix + " " + subject
}

func originalText(e *message.Email) string {
	if strings.TrimSpace(e.BodyText) != "" {
		return e.BodyText
	}
	return message.HTMLToText(e.BodyHTML)
}

func quote(e *message.Email) string {
	var b strings.Builder
	fmt.Fprintf(&b, "On %s, %s wrote:\n", e.Date, e.From)
	for _, line := range strings.Split(strings.TrimRight(originalText(e), "\r\n"), "\n") {
		b.WriteString("> ")
		b.WriteString(strings.TrimRight(line, "\r"))
		b.WriteString("\n")
	}
	return b.String()
}

func forwarded(e *message.Email) string {
	var b strings.Builder
	b.WriteString("---------- Forwarded message ----------\n")
	fmt.Fprintf(&b, "From: %s\n", e.From)
	fmt.Fprintf(&b, "Date: %s\n", e.Date)
	fmt.Fprintf(&b, "Subject: %s\n", e.Subject)
	fmt.Fprintf(&b, "To: %s\n", e.To)
	if e.Cc != "" {
		fmt.Fprintf(&b, "Cc: %s\n", e.Cc)
	}
	if len(e.Attachments) > 0 {
		names := make([]string, 0, len(e.Attachments))
		for _, a := range e.Attachments {
			names = append(names, fmt.Sprintf("%s (%s)", a.Filename, message.FormatSize(a.Size)))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\n")
	b.WriteString(originalText(e))
	return b.String()
}

// SaveDraft validates and stores a draft. Addresses are optional but must
// be valid when present.
func (e *EmailService) SaveDraft(ctx context.Context, d model.Draft) (*model.Draft, error) {
	for field, list := range map[string][]string{"to": d.To, "cc": d.Cc, "bcc": d.Bcc} {
		if _, err := ParseRecipients(field, list, false); err != nil {
			return nil, err
		}
	}
	for _, p := range d.Attachments {
		if _, err := os.Stat(p); err != nil {
			return nil, &mailbox.ValidationError{Field: "attachments", Message: fmt.Sprintf("cannot read %s: %v", p, err)}
		}
	}
	d.To = SplitAddresses(d.To...)
	d.Cc = SplitAddresses(d.Cc...)
	d.Bcc = SplitAddresses(d.Bcc...)
	d.Subject = SanitizeSubject(d.Subject)
	return e.store.SaveDraft(ctx, d)
}

// ListDrafts returns a page of drafts, most recently updated first.
func (e *EmailService) ListDrafts(ctx context.Context, page, pageSize int) (*DraftPage, error) {
	page, pageSize, warning := NormalizePage(page, pageSize)
	total, err := e.store.CountDrafts(ctx)
	if err != nil {
		return nil, err
	}
	drafts, err := e.store.ListDrafts(ctx, store.DraftFilter{Limit: pageSize, Offset: (page - 1) * pageSize})
	if err != nil {
		return nil, err
	}
	return &DraftPage{Page: page, PageSize: pageSize, Total: total, Drafts: drafts, Warning: warning}, nil
}

func (e *EmailService) GetDraft(ctx context.Context, id string) (*model.Draft, error) {
	return e.store.GetDraft(ctx, id)
}

func (e *EmailService) DeleteDraft(ctx context.Context, id string) error {
	return e.store.DeleteDraft(ctx, id)
}

// SendDraft sends a stored draft and removes it once delivered.
func (e *EmailService) SendDraft(ctx context.Context, id string) (*SendResult, error) {
	d, err := e.store.GetDraft(ctx, id)
	if err != nil {
		return nil, err
	}
	result, err := e.SendEmail(ctx, SendRequest{
		To:          d.To,
		Cc:          d.Cc,
		Bcc:         d.Bcc,
		Subject:     d.Subject,
		Body:        d.Body,
		HTMLBody:    d.HTMLBody,
		Attachments: d.Attachments,
		InReplyTo:   d.InReplyTo,
	})
	if err != nil {
		return nil, err
	}
	if err := e.store.DeleteDraft(ctx, id); err != nil {
		e.log.Warn("removing sent draft failed", slog.String("draft_id", id), slog.Any("error", err))
	}
	return result, nil
}
