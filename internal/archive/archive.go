// Package archive exports folders to JSON files and imports them back.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/mailbox/flags"
	"github.com/nhle/email-mcp/internal/message"
	"github.com/nhle/email-mcp/internal/metrics"
	"github.com/nhle/email-mcp/internal/model"
	"github.com/nhle/email-mcp/internal/store"
)

// DefaultFolder receives records that name no folder.
const DefaultFolder = "INBOX"

// File is the export file layout.
type File struct {
	ExportDate  string           `json:"export_date"`
	TotalEmails int              `json:"total_emails"`
	Emails      []*message.Email `json:"emails"`
}

// ExportRequest selects what to export and where.
type ExportRequest struct {
	Folder string
	// IDs restricts the export to these ordinals; empty exports the
	// whole folder newest first.
	IDs []string
	// Destination is a local path, an s3://bucket/key URL, or empty for
	// a generated name in the export directory.
	Destination string
}

type ExportResult struct {
	Destination string   `json:"destination"`
	TotalEmails int      `json:"total_emails"`
	FailedIDs   []string `json:"failed_ids"`
}

// ImportRequest names the export file to import. Folder, when set,
// overrides the folder of every record.
type ImportRequest struct {
	Source string
	Folder string
}

type ImportResult struct {
	Imported       int      `json:"imported_count"`
	Failed         int      `json:"failed_count"`
	FailedIDs      []string `json:"failed_ids"`
	CreatedFolders []string `json:"created_folders"`
}

// Archiver moves messages between a mailbox session and export files.
type Archiver struct {
	session *mailbox.Session
	store   store.Store
	local   Storage
	remote  Storage
	log     *slog.Logger
	now     func() time.Time
}

// New creates an Archiver. st and remote may be nil: export history is
// then not recorded and s3:// locations are rejected.
func New(s *mailbox.Session, st store.Store, local, remote Storage, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	if local == nil {
		local = &LocalStorage{}
	}
	return &Archiver{
		session: s,
		store:   st,
		local:   local,
		remote:  remote,
		log:     log.With(slog.String("component", "archive")),
		now:     time.Now,
	}
}

func (a *Archiver) storageFor(location string) (Storage, error) {
	if !IsRemote(location) {
		return a.local, nil
	}
	if a.remote == nil {
		return nil, &mailbox.ValidationError{Field: "destination", Message: "s3 export is not configured"}
	}
	return a.remote, nil
}

// Export writes the selected messages of a folder to a JSON file.
func (a *Archiver) Export(ctx context.Context, req ExportRequest) (*ExportResult, error) {
	folderName := strings.TrimSpace(req.Folder)
	if folderName == "" {
		folderName = DefaultFolder
	}
	storage, err := a.storageFor(req.Destination)
	if err != nil {
		return nil, err
	}

	result := &ExportResult{FailedIDs: []string{}}
	var emails []*message.Email
	err = a.session.Do(ctx, folderName, func(tx *mailbox.Tx) error {
		ids := req.IDs
		if len(ids) == 0 {
			ids = make([]string, 0, tx.Total())
			for n := tx.Total(); n >= 1; n-- {
				ids = append(ids, strconv.Itoa(n))
			}
		}

		emails = make([]*message.Email, 0, len(ids))
		for _, id := range ids {
			n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 32)
			if err != nil || n == 0 {
				result.FailedIDs = append(result.FailedIDs, id)
				metrics.ArchiveMessagesTotal.WithLabelValues("export", "failed").Inc()
				continue
			}
			email, err := tx.FetchMessage(ctx, mailbox.Ordinal(n))
			if err != nil {
				if mailbox.IsFatal(err) {
					return err
				}
				a.log.Warn("skipping message in export",
					slog.String("folder", folderName),
					slog.String("email_id", id),
					slog.Any("error", err),
				)
				result.FailedIDs = append(result.FailedIDs, id)
				metrics.ArchiveMessagesTotal.WithLabelValues("export", "failed").Inc()
				continue
			}
			emails = append(emails, email)
			metrics.ArchiveMessagesTotal.WithLabelValues("export", "ok").Inc()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	now := a.now()
	data, err := json.MarshalIndent(File{
		ExportDate:  now.Format(time.RFC3339),
		TotalEmails: len(emails),
		Emails:      emails,
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding export: %w", err)
	}

	name := req.Destination
	if name == "" {
		name = fmt.Sprintf("emails_%s_%s.json", safeName(folderName), now.Format("20060102_150405"))
	}
	location, err := storage.Put(ctx, name, data)
	if err != nil {
		return nil, err
	}
	result.Destination = location
	result.TotalEmails = len(emails)

	if a.store != nil {
		rec := model.ExportRecord{
			Destination: location,
			Folder:      folderName,
			EmailCount:  len(emails),
			CreatedAt:   now.UTC(),
		}
		if err := a.store.RecordExport(ctx, rec); err != nil {
			a.log.Warn("recording export history failed", slog.Any("error", err))
		}
	}

	a.log.Info("exported folder",
		slog.String("folder", folderName),
		slog.String("destination", location),
		slog.Int("emails", len(emails)),
		slog.Int("failed", len(result.FailedIDs)),
	)
	return result, nil
}

// Import appends the records of an export file back into the mailbox.
// Folders are created as needed and each folder's records are appended
// in ImportOrder.
func (a *Archiver) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if strings.TrimSpace(req.Source) == "" {
		return nil, &mailbox.ValidationError{Field: "source", Message: "source is required"}
	}
	storage, err := a.storageFor(req.Source)
	if err != nil {
		return nil, err
	}
	data, err := storage.Get(ctx, req.Source)
	if err != nil {
		return nil, err
	}

	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &mailbox.ValidationError{Field: "source", Message: fmt.Sprintf("not an export file: %v", err)}
	}

	result := &ImportResult{FailedIDs: []string{}, CreatedFolders: []string{}}
	var folders []string
	byFolder := make(map[string][]*message.Email)
	for _, rec := range file.Emails {
		if rec == nil {
			continue
		}
		name := strings.TrimSpace(req.Folder)
		if name == "" {
			name = strings.TrimSpace(rec.Folder)
		}
		if name == "" {
			name = DefaultFolder
		}
		if _, seen := byFolder[name]; !seen {
			folders = append(folders, name)
		}
		byFolder[name] = append(byFolder[name], rec)
	}

	for _, name := range folders {
		records := byFolder[name]

		created, err := a.session.EnsureFolder(ctx, name)
		if err != nil {
			if mailbox.IsFatal(err) {
				return result, err
			}
			a.log.Warn("cannot prepare import folder", slog.String("folder", name), slog.Any("error", err))
			for _, rec := range records {
				a.fail(result, rec)
			}
			continue
		}
		if created {
			result.CreatedFolders = append(result.CreatedFolders, name)
		}

		for _, rec := range ImportOrder(records) {
			if err := a.restore(ctx, name, rec); err != nil {
				if mailbox.IsFatal(err) {
					return result, err
				}
				a.log.Warn("import of message failed",
					slog.String("folder", name),
					slog.String("email_id", rec.ID),
					slog.Any("error", err),
				)
				a.fail(result, rec)
				continue
			}
			result.Imported++
			metrics.ArchiveMessagesTotal.WithLabelValues("import", "ok").Inc()
		}
	}

	a.log.Info("imported export file",
		slog.String("source", req.Source),
		slog.Int("imported", result.Imported),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// History returns the most recent exports, newest first.
func (a *Archiver) History(ctx context.Context, limit int) ([]model.ExportRecord, error) {
	if a.store == nil {
		return []model.ExportRecord{}, nil
	}
	return a.store.ListExports(ctx, limit)
}

func (a *Archiver) fail(result *ImportResult, rec *message.Email) {
	result.Failed++
	result.FailedIDs = append(result.FailedIDs, rec.ID)
	metrics.ArchiveMessagesTotal.WithLabelValues("import", "failed").Inc()
}

func (a *Archiver) restore(ctx context.Context, folderName string, rec *message.Email) error {
	raw, err := message.Restore(rec)
	if err != nil {
		return err
	}

	var flagNames []string
	if rec.IsRead {
		flagNames = append(flagNames, flags.Seen)
	}
	if rec.IsImportant {
		flagNames = append(flagNames, flags.Flagged)
	}

	var date time.Time
	if t, err := message.ParseDate(rec.Date); err == nil {
		date = t
	}
	return a.session.Append(ctx, folderName, raw, flagNames, date)
}

// ImportOrder returns records sorted by descending numeric email_id.
// Records with a non-numeric id follow in their original order.
func ImportOrder(records []*message.Email) []*message.Email {
	out := slices.Clone(records)
	slices.SortStableFunc(out, func(x, y *message.Email) int {
		nx, okx := numericID(x.ID)
		ny, oky := numericID(y.ID)
		switch {
		case okx && oky:
			if nx > ny {
				return -1
			}
			if nx < ny {
				return 1
			}
			return 0
		case okx:
			return -1
		case oky:
			return 1
		default:
			return 0
		}
	})
	return out
}

func numericID(id string) (uint64, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
	return n, err == nil
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			return '_'
		}
		return r
	}, s)
}
