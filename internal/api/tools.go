package api

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/nhle/email-mcp/internal/archive"
	"github.com/nhle/email-mcp/internal/mailbox"
	"github.com/nhle/email-mcp/internal/model"
	"github.com/nhle/email-mcp/internal/service"
	appsync "github.com/nhle/email-mcp/internal/sync"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Tool is one callable operation.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	call func(ctx context.Context, raw json.RawMessage) (interface{}, error)
}

// newTool binds fn to a tool that decodes and validates arguments of
// type A before calling it.
func newTool[A any](name, description string, fn func(context.Context, A) (interface{}, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		call: func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var args A
			if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
				dec := json.NewDecoder(bytes.NewReader(trimmed))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&args); err != nil {
					return nil, &mailbox.ValidationError{Field: "arguments", Message: err.Error()}
				}
			}
			if err := validate.Struct(args); err != nil {
				return nil, err
			}
			return fn(ctx, args)
		},
	}
}

// === Argument types ===

type noArgs struct{}

type listArgs struct {
	Folder   string `json:"folder"`
	Page     int    `json:"page" validate:"gte=0"`
	PageSize int    `json:"page_size" validate:"gte=0"`
}

type emailArgs struct {
	Folder  string `json:"folder"`
	EmailID string `json:"email_id" validate:"required"`
}

type searchArgs struct {
	Folder   string `json:"folder"`
	Query    string `json:"query" validate:"required"`
	SearchIn string `json:"search_in"`
	Page     int    `json:"page" validate:"gte=0"`
	PageSize int    `json:"page_size" validate:"gte=0"`
}

type markArgs struct {
	Folder   string   `json:"folder"`
	EmailIDs []string `json:"email_ids" validate:"required,min=1,dive,required"`
	MarkAs   string   `json:"mark_as" validate:"required"`
}

type moveArgs struct {
	Folder       string   `json:"folder"`
	EmailIDs     []string `json:"email_ids" validate:"required,min=1,dive,required"`
	TargetFolder string   `json:"target_folder" validate:"required"`
}

type deleteArgs struct {
	Folder   string   `json:"folder"`
	EmailIDs []string `json:"email_ids" validate:"required,min=1,dive,required"`
}

type sendArgs struct {
	To          []string `json:"to" validate:"required,min=1"`
	Cc          []string `json:"cc"`
	Bcc         []string `json:"bcc"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	HTMLBody    string   `json:"html_body"`
	Attachments []string `json:"attachments"`
}

type replyArgs struct {
	Folder      string   `json:"folder"`
	EmailID     string   `json:"email_id" validate:"required"`
	Body        string   `json:"body" validate:"required"`
	HTMLBody    string   `json:"html_body"`
	ReplyAll    bool     `json:"reply_all"`
	Attachments []string `json:"attachments"`
}

type forwardArgs struct {
	Folder  string   `json:"folder"`
	EmailID string   `json:"email_id" validate:"required"`
	To      []string `json:"to" validate:"required,min=1"`
	Cc      []string `json:"cc"`
	Bcc     []string `json:"bcc"`
	Body    string   `json:"body"`
}

type draftArgs struct {
	DraftID     string   `json:"draft_id"`
	To          []string `json:"to"`
	Cc          []string `json:"cc"`
	Bcc         []string `json:"bcc"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	HTMLBody    string   `json:"html_body"`
	Attachments []string `json:"attachments"`
	InReplyTo   string   `json:"in_reply_to"`
}

type pageArgs struct {
	Page     int `json:"page" validate:"gte=0"`
	PageSize int `json:"page_size" validate:"gte=0"`
}

type draftIDArgs struct {
	DraftID string `json:"draft_id" validate:"required"`
}

type folderArgs struct {
	FolderName string `json:"folder_name" validate:"required"`
}

type optionalFolderArgs struct {
	FolderName string `json:"folder_name"`
}

type exportArgs struct {
	Folder     string   `json:"folder"`
	EmailIDs   []string `json:"email_ids" validate:"omitempty,dive,required"`
	OutputPath string   `json:"output_path"`
}

type importArgs struct {
	InputPath    string `json:"input_path" validate:"required"`
	TargetFolder string `json:"target_folder"`
}

type historyArgs struct {
	Limit int `json:"limit" validate:"gte=0,lte=500"`
}

type watchArgs struct {
	Refresh bool `json:"refresh"`
}

// deleted is returned by tools that remove something.
type deleted struct {
	Deleted string `json:"deleted"`
}

type unread struct {
	Folder string `json:"folder,omitempty"`
	Unread int    `json:"unread_count"`
}

// Services are the operations exposed as tools.
type Services struct {
	Email   *service.EmailService
	Folders *service.FolderService
	Archive *archive.Archiver

	// Watcher is nil when no folders are watched.
	Watcher *appsync.Poller
}

func buildTools(s Services) map[string]Tool {
	tools := []Tool{
		newTool("list_emails", "List messages in a folder, newest first.",
			func(ctx context.Context, a listArgs) (interface{}, error) {
				return s.Email.ListEmails(ctx, a.Folder, a.Page, a.PageSize)
			}),
		newTool("get_email", "Fetch one message with bodies and attachment metadata.",
			func(ctx context.Context, a emailArgs) (interface{}, error) {
				return s.Email.GetEmail(ctx, a.Folder, a.EmailID)
			}),
		newTool("search_emails", "Search a folder by text, subject, sender or body.",
			func(ctx context.Context, a searchArgs) (interface{}, error) {
				return s.Email.SearchEmails(ctx, service.SearchRequest{
					Folder:   a.Folder,
					Query:    a.Query,
					Field:    a.SearchIn,
					Page:     a.Page,
					PageSize: a.PageSize,
				})
			}),
		newTool("mark_emails", "Mark messages read, unread, important or unimportant.",
			func(ctx context.Context, a markArgs) (interface{}, error) {
				return s.Email.MarkEmails(ctx, a.Folder, a.EmailIDs, a.MarkAs)
			}),
		newTool("move_emails", "Move messages to another folder.",
			func(ctx context.Context, a moveArgs) (interface{}, error) {
				return s.Email.MoveEmails(ctx, a.Folder, a.EmailIDs, a.TargetFolder)
			}),
		newTool("delete_emails", "Permanently delete messages.",
			func(ctx context.Context, a deleteArgs) (interface{}, error) {
				return s.Email.DeleteEmails(ctx, a.Folder, a.EmailIDs)
			}),
		newTool("send_email", "Send a new message and keep a copy in the Sent folder.",
			func(ctx context.Context, a sendArgs) (interface{}, error) {
				return s.Email.SendEmail(ctx, service.SendRequest{
					To:          a.To,
					Cc:          a.Cc,
					Bcc:         a.Bcc,
					Subject:     a.Subject,
					Body:        a.Body,
					HTMLBody:    a.HTMLBody,
					Attachments: a.Attachments,
				})
			}),
		newTool("reply_email", "Reply to a message, optionally to all recipients.",
			func(ctx context.Context, a replyArgs) (interface{}, error) {
				return s.Email.ReplyEmail(ctx, service.ReplyRequest{
					Folder:      a.Folder,
					ID:          a.EmailID,
					Body:        a.Body,
					HTMLBody:    a.HTMLBody,
					ReplyAll:    a.ReplyAll,
					Attachments: a.Attachments,
				})
			}),
		newTool("forward_email", "Forward a message with its attachments.",
			func(ctx context.Context, a forwardArgs) (interface{}, error) {
				return s.Email.ForwardEmail(ctx, service.ForwardRequest{
					Folder: a.Folder,
					ID:     a.EmailID,
					To:     a.To,
					Cc:     a.Cc,
					Bcc:    a.Bcc,
					Body:   a.Body,
				})
			}),
		newTool("save_draft", "Create or update a draft.",
			func(ctx context.Context, a draftArgs) (interface{}, error) {
				return s.Email.SaveDraft(ctx, model.Draft{
					ID:          a.DraftID,
					To:          a.To,
					Cc:          a.Cc,
					Bcc:         a.Bcc,
					Subject:     a.Subject,
					Body:        a.Body,
					HTMLBody:    a.HTMLBody,
					Attachments: a.Attachments,
					InReplyTo:   a.InReplyTo,
				})
			}),
		newTool("list_drafts", "List drafts, most recently updated first.",
			func(ctx context.Context, a pageArgs) (interface{}, error) {
				return s.Email.ListDrafts(ctx, a.Page, a.PageSize)
			}),
		newTool("get_draft", "Fetch one draft.",
			func(ctx context.Context, a draftIDArgs) (interface{}, error) {
				return s.Email.GetDraft(ctx, a.DraftID)
			}),
		newTool("delete_draft", "Delete a draft.",
			func(ctx context.Context, a draftIDArgs) (interface{}, error) {
				if err := s.Email.DeleteDraft(ctx, a.DraftID); err != nil {
					return nil, err
				}
				return deleted{Deleted: a.DraftID}, nil
			}),
		newTool("send_draft", "Send a draft and remove it.",
			func(ctx context.Context, a draftIDArgs) (interface{}, error) {
				return s.Email.SendDraft(ctx, a.DraftID)
			}),
		newTool("list_folders", "List all folders.",
			func(ctx context.Context, _ noArgs) (interface{}, error) {
				return s.Folders.ListFolders(ctx)
			}),
		newTool("create_folder", "Create a folder.",
			func(ctx context.Context, a folderArgs) (interface{}, error) {
				name, err := s.Folders.CreateFolder(ctx, a.FolderName)
				if err != nil {
					return nil, err
				}
				return map[string]string{"created": name}, nil
			}),
		newTool("delete_folder", "Delete a folder. Standard folders are protected.",
			func(ctx context.Context, a folderArgs) (interface{}, error) {
				if err := s.Folders.DeleteFolder(ctx, a.FolderName); err != nil {
					return nil, err
				}
				return deleted{Deleted: a.FolderName}, nil
			}),
		newTool("folder_stats", "Total and unread counts of a folder.",
			func(ctx context.Context, a optionalFolderArgs) (interface{}, error) {
				return s.Folders.Stats(ctx, a.FolderName)
			}),
		newTool("unread_count", "Unread count of a folder, or of all folders when none is given.",
			func(ctx context.Context, a optionalFolderArgs) (interface{}, error) {
				n, err := s.Folders.UnreadCount(ctx, a.FolderName)
				if err != nil {
					return nil, err
				}
				return unread{Folder: a.FolderName, Unread: n}, nil
			}),
		newTool("export_emails", "Export messages to a JSON file or s3:// location.",
			func(ctx context.Context, a exportArgs) (interface{}, error) {
				return s.Archive.Export(ctx, archive.ExportRequest{
					Folder:      a.Folder,
					IDs:         a.EmailIDs,
					Destination: a.OutputPath,
				})
			}),
		newTool("import_emails", "Import messages from an export file.",
			func(ctx context.Context, a importArgs) (interface{}, error) {
				return s.Archive.Import(ctx, archive.ImportRequest{
					Source: a.InputPath,
					Folder: a.TargetFolder,
				})
			}),
		newTool("list_exports", "Recent exports, newest first.",
			func(ctx context.Context, a historyArgs) (interface{}, error) {
				return s.Archive.History(ctx, a.Limit)
			}),
		newTool("watch_status", "Message counts of the watched folders from the last background poll.",
			func(_ context.Context, a watchArgs) (interface{}, error) {
				if s.Watcher == nil {
					return []appsync.FolderStatus{}, nil
				}
				if a.Refresh {
					s.Watcher.RefreshAll()
				}
				return s.Watcher.Statuses(), nil
			}),
	}

	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Name] = t
	}
	return byName
}

func sortedTools(tools map[string]Tool) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
