package store

import (
	"context"
	"errors"

	"github.com/nhle/email-mcp/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// DraftFilter controls pagination for draft queries.
type DraftFilter struct {
	Limit  int
	Offset int
}

// Store defines the local persistence for drafts and export history.
type Store interface {
	// === Drafts ===

	// SaveDraft inserts the draft, or updates it when the ID exists.
	SaveDraft(ctx context.Context, draft model.Draft) (*model.Draft, error)
	GetDraft(ctx context.Context, id string) (*model.Draft, error)
	ListDrafts(ctx context.Context, filter DraftFilter) ([]model.Draft, error)
	CountDrafts(ctx context.Context) (int, error)
	DeleteDraft(ctx context.Context, id string) error

	// === Export history ===

	RecordExport(ctx context.Context, rec model.ExportRecord) error
	ListExports(ctx context.Context, limit int) ([]model.ExportRecord, error)

	Close() error
}
