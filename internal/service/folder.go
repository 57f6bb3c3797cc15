package service

import (
	"context"
	"log/slog"

	"github.com/nhle/email-mcp/internal/mailbox"
)

// FolderStats are the message counts of one folder.
type FolderStats struct {
	Folder string `json:"folder_name"`
	Total  int    `json:"total_messages"`
	Unread int    `json:"unread_messages"`
}

// FolderService implements folder management.
type FolderService struct {
	session *mailbox.Session
	log     *slog.Logger
}

func NewFolderService(s *mailbox.Session, log *slog.Logger) *FolderService {
	if log == nil {
		log = slog.Default()
	}
	return &FolderService{session: s, log: log.With(slog.String("component", "folder_service"))}
}

func (f *FolderService) ListFolders(ctx context.Context) ([]mailbox.Folder, error) {
	folders, err := f.session.ListFolders(ctx)
	if err != nil {
		return nil, err
	}
	if folders == nil {
		folders = []mailbox.Folder{}
	}
	return folders, nil
}

// CreateFolder creates name and returns the name the server accepted,
// which may carry an INBOX prefix.
func (f *FolderService) CreateFolder(ctx context.Context, name string) (string, error) {
	created, err := f.session.CreateFolder(ctx, name)
	if err != nil {
		return "", err
	}
	f.log.Info("folder created", slog.String("folder", created))
	return created, nil
}

func (f *FolderService) DeleteFolder(ctx context.Context, name string) error {
	if err := f.session.DeleteFolder(ctx, name); err != nil {
		return err
	}
	f.log.Info("folder deleted", slog.String("folder", name))
	return nil
}

// Stats selects name and reports its counts.
func (f *FolderService) Stats(ctx context.Context, name string) (*FolderStats, error) {
	name = folderOrDefault(name)
	total, unread, err := f.session.SelectFolder(ctx, name)
	if err != nil {
		return nil, err
	}
	return &FolderStats{Folder: name, Total: total, Unread: unread}, nil
}

// UnreadCount returns the unread count of name, or the sum over every
// selectable folder when name is empty. Folders that cannot be selected
// are skipped.
func (f *FolderService) UnreadCount(ctx context.Context, name string) (int, error) {
	if name != "" {
		_, unread, err := f.session.SelectFolder(ctx, name)
		return unread, err
	}

	folders, err := f.session.ListFolders(ctx)
	if err != nil {
		return 0, err
	}
	sum := 0
	for _, fl := range folders {
		if !fl.Selectable {
			continue
		}
		_, unread, err := f.session.SelectFolder(ctx, fl.Name)
		if err != nil {
			if mailbox.IsFatal(err) {
				return 0, err
			}
			f.log.Warn("skipping folder in unread count", slog.String("folder", fl.Name), slog.Any("error", err))
			continue
		}
		sum += unread
	}
	return sum, nil
}
