package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nhle/email-mcp/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// An in-memory database exists per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// draftRow is the column layout of the drafts table.
type draftRow struct {
	ID          string    `db:"id"`
	To          string    `db:"to_addrs"`
	Cc          string    `db:"cc_addrs"`
	Bcc         string    `db:"bcc_addrs"`
	Subject     string    `db:"subject"`
	Body        string    `db:"body"`
	HTMLBody    string    `db:"html_body"`
	Attachments string    `db:"attachments"`
	InReplyTo   string    `db:"in_reply_to"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func encodeList(list []string) (string, error) {
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(raw string) ([]string, error) {
	var list []string
	if raw == "" {
		return list, nil
	}
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	return list, nil
}

func toDraftRow(d model.Draft) (draftRow, error) {
	row := draftRow{
		ID:        d.ID,
		Subject:   d.Subject,
		Body:      d.Body,
		HTMLBody:  d.HTMLBody,
		InReplyTo: d.InReplyTo,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	var err error
	if row.To, err = encodeList(d.To); err != nil {
		return row, fmt.Errorf("marshaling to: %w", err)
	}
	if row.Cc, err = encodeList(d.Cc); err != nil {
		return row, fmt.Errorf("marshaling cc: %w", err)
	}
	if row.Bcc, err = encodeList(d.Bcc); err != nil {
		return row, fmt.Errorf("marshaling bcc: %w", err)
	}
	if row.Attachments, err = encodeList(d.Attachments); err != nil {
		return row, fmt.Errorf("marshaling attachments: %w", err)
	}
	return row, nil
}

func (r draftRow) draft() (model.Draft, error) {
	d := model.Draft{
		ID:        r.ID,
		Subject:   r.Subject,
		Body:      r.Body,
		HTMLBody:  r.HTMLBody,
		InReplyTo: r.InReplyTo,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	var err error
	if d.To, err = decodeList(r.To); err != nil {
		return d, fmt.Errorf("unmarshaling to of draft %s: %w", r.ID, err)
	}
	if d.Cc, err = decodeList(r.Cc); err != nil {
		return d, fmt.Errorf("unmarshaling cc of draft %s: %w", r.ID, err)
	}
	if d.Bcc, err = decodeList(r.Bcc); err != nil {
		return d, fmt.Errorf("unmarshaling bcc of draft %s: %w", r.ID, err)
	}
	if d.Attachments, err = decodeList(r.Attachments); err != nil {
		return d, fmt.Errorf("unmarshaling attachments of draft %s: %w", r.ID, err)
	}
	return d, nil
}

// SaveDraft inserts a new draft, generating a UUID if ID is empty, or
// replaces the content of an existing one.
func (s *SQLiteStore) SaveDraft(
	ctx context.Context,
	draft model.Draft,
) (*model.Draft, error) {
	now := time.Now().UTC()
	if draft.ID == "" {
		draft.ID = uuid.New().String()
	}
	draft.UpdatedAt = now

	var createdAt time.Time
	err := s.db.GetContext(ctx, &createdAt, "SELECT created_at FROM drafts WHERE id = ?", draft.ID)
	switch {
	case err == nil:
		draft.CreatedAt = createdAt
	case errors.Is(err, sql.ErrNoRows):
		draft.CreatedAt = now
	default:
		return nil, fmt.Errorf("looking up draft %s: %w", draft.ID, err)
	}

	row, err := toDraftRow(draft)
	if err != nil {
		return nil, err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO drafts (
			id, to_addrs, cc_addrs, bcc_addrs,
			subject, body, html_body, attachments, in_reply_to,
			created_at, updated_at
		) VALUES (
			:id, :to_addrs, :cc_addrs, :bcc_addrs,
			:subject, :body, :html_body, :attachments, :in_reply_to,
			:created_at, :updated_at
		)
		ON CONFLICT(id) DO UPDATE SET
			to_addrs = excluded.to_addrs,
			cc_addrs = excluded.cc_addrs,
			bcc_addrs = excluded.bcc_addrs,
			subject = excluded.subject,
			body = excluded.body,
			html_body = excluded.html_body,
			attachments = excluded.attachments,
			in_reply_to = excluded.in_reply_to,
			updated_at = excluded.updated_at`,
		row,
	)
	if err != nil {
		return nil, fmt.Errorf("saving draft %s: %w", draft.ID, err)
	}

	return &draft, nil
}

// GetDraft retrieves a single draft by its ID.
func (s *SQLiteStore) GetDraft(
	ctx context.Context,
	id string,
) (*model.Draft, error) {
	var row draftRow
	err := s.db.GetContext(ctx, &row, "SELECT * FROM drafts WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting draft %s: %w", id, err)
	}

	d, err := row.draft()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDrafts returns drafts, most recently updated first.
func (s *SQLiteStore) ListDrafts(
	ctx context.Context,
	filter DraftFilter,
) ([]model.Draft, error) {
	query := "SELECT * FROM drafts ORDER BY updated_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	var rows []draftRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("querying drafts: %w", err)
	}

	drafts := make([]model.Draft, 0, len(rows))
	for _, r := range rows {
		d, err := r.draft()
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}

// CountDrafts returns the number of stored drafts.
func (s *SQLiteStore) CountDrafts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM drafts"); err != nil {
		return 0, fmt.Errorf("counting drafts: %w", err)
	}
	return n, nil
}

// DeleteDraft removes a draft by ID.
func (s *SQLiteStore) DeleteDraft(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM drafts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting draft %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting draft %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("draft %s: %w", id, ErrNotFound)
	}
	return nil
}

// RecordExport inserts an export history entry.
func (s *SQLiteStore) RecordExport(
	ctx context.Context,
	rec model.ExportRecord,
) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO exports (id, destination, folder, email_count, created_at)
		VALUES (:id, :destination, :folder, :email_count, :created_at)`,
		rec,
	)
	if err != nil {
		return fmt.Errorf("recording export: %w", err)
	}
	return nil
}

// ListExports returns the most recent exports first.
func (s *SQLiteStore) ListExports(
	ctx context.Context,
	limit int,
) ([]model.ExportRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []model.ExportRecord
	err := s.db.SelectContext(ctx, &recs,
		"SELECT * FROM exports ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("querying exports: %w", err)
	}
	return recs, nil
}
