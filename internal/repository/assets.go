package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
	"github.com/curateapp/curate/internal/entity"
)

// AssetRepository persists bookmarks and documents, including the
// per-artifact storage-key fields the pipeline fills in.
type AssetRepository interface {
	CreateBookmark(ctx context.Context, b *entity.Bookmark) error
	GetBookmark(ctx context.Context, userID, id uuid.UUID) (*entity.Bookmark, error)
	CreateDocument(ctx context.Context, d *entity.Document) error
	GetDocument(ctx context.Context, userID, id uuid.UUID) (*entity.Document, error)
	// SetStorageKeys merges every non-nil key into the asset row in a
	// single write.
	SetStorageKeys(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID, keys entity.StorageKeys) error
	// UpdateMetadata overwrites the extracted metadata fields.
	UpdateMetadata(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID, md entity.Metadata) error
	// Delete removes the asset row together with its processing job and
	// tag links.
	Delete(ctx context.Context, kind constants.AssetKind, userID, assetID uuid.UUID) error
}

type assetRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewAssetRepository(db *DB, logger *slog.Logger) AssetRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &assetRepo{db: db, logger: logger}
}

func tableFor(kind constants.AssetKind) string {
	if kind == constants.AssetKindDocument {
		return "documents"
	}
	return "bookmarks"
}

func marshalExtra(extra map[string]any) (any, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalExtra(raw sql.NullString) map[string]any {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil
	}
	return m
}

func (r *assetRepo) CreateBookmark(ctx context.Context, b *entity.Bookmark) error {
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	extra, err := marshalExtra(b.Metadata.Extra)
	if err != nil {
		return common.WrapError(err, "encode extra")
	}
	_, err = r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO bookmarks (id, user_id, url, title, description, author, language, due_date, pinned, archived, enabled, extra, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		b.ID.String(), b.UserID.String(), b.URL,
		b.Metadata.Title, b.Metadata.Description, b.Metadata.Author, b.Metadata.Language,
		b.Metadata.DueDate, b.Metadata.Pinned, b.Metadata.Archived, b.Metadata.Enabled,
		extra, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create bookmark", "bookmark_id", b.ID, "user_id", b.UserID, "error", err)
		return &common.InfraError{Component: "database", Cause: err}
	}
	return nil
}

func (r *assetRepo) GetBookmark(ctx context.Context, userID, id uuid.UUID) (*entity.Bookmark, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`
		SELECT id, user_id, url, title, description, author, language, due_date, pinned, archived, enabled, extra,
		       raw_key, readable_key, markdown_key, text_key, favicon_key, thumbnail_key, screenshot_key, pdf_key,
		       created_at, updated_at
		FROM bookmarks WHERE id = ? AND user_id = ?`), id.String(), userID.String())

	var (
		b       entity.Bookmark
		idS     string
		userS   string
		extra   sql.NullString
		dueDate sql.NullTime
	)
	err := row.Scan(&idS, &userS, &b.URL,
		&b.Metadata.Title, &b.Metadata.Description, &b.Metadata.Author, &b.Metadata.Language,
		&dueDate, &b.Metadata.Pinned, &b.Metadata.Archived, &b.Metadata.Enabled, &extra,
		&b.Keys.RawContent, &b.Keys.ReadableContent, &b.Keys.Markdown, &b.Keys.Text,
		&b.Keys.Favicon, &b.Keys.Thumbnail, &b.Keys.Screenshot, &b.Keys.PDF,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewAppError("BOOKMARK_NOT_FOUND", id.String(), common.ErrNotFound)
		}
		r.logger.Error("failed to get bookmark", "bookmark_id", id, "error", err)
		return nil, &common.InfraError{Component: "database", Cause: err}
	}
	b.ID, _ = uuid.Parse(idS)
	b.UserID, _ = uuid.Parse(userS)
	if dueDate.Valid {
		t := dueDate.Time
		b.Metadata.DueDate = &t
	}
	b.Metadata.Extra = unmarshalExtra(extra)
	return &b, nil
}

func (r *assetRepo) CreateDocument(ctx context.Context, d *entity.Document) error {
	now := time.Now().UTC()
	d.CreatedAt, d.UpdatedAt = now, now
	extra, err := marshalExtra(d.Metadata.Extra)
	if err != nil {
		return common.WrapError(err, "encode extra")
	}
	_, err = r.db.ExecContext(ctx, r.db.rebind(`
		INSERT INTO documents (id, user_id, filename, mime_type, title, description, author, language, due_date, pinned, archived, enabled, extra, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID.String(), d.UserID.String(), d.Filename, d.MimeType,
		d.Metadata.Title, d.Metadata.Description, d.Metadata.Author, d.Metadata.Language,
		d.Metadata.DueDate, d.Metadata.Pinned, d.Metadata.Archived, d.Metadata.Enabled,
		extra, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		r.logger.Error("failed to create document", "document_id", d.ID, "user_id", d.UserID, "error", err)
		return &common.InfraError{Component: "database", Cause: err}
	}
	return nil
}

func (r *assetRepo) GetDocument(ctx context.Context, userID, id uuid.UUID) (*entity.Document, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`
		SELECT id, user_id, filename, mime_type, title, description, author, language, due_date, pinned, archived, enabled, extra,
		       raw_key, readable_key, markdown_key, text_key, favicon_key, thumbnail_key, screenshot_key, pdf_key,
		       created_at, updated_at
		FROM documents WHERE id = ? AND user_id = ?`), id.String(), userID.String())

	var (
		d       entity.Document
		idS     string
		userS   string
		extra   sql.NullString
		dueDate sql.NullTime
	)
	err := row.Scan(&idS, &userS, &d.Filename, &d.MimeType,
		&d.Metadata.Title, &d.Metadata.Description, &d.Metadata.Author, &d.Metadata.Language,
		&dueDate, &d.Metadata.Pinned, &d.Metadata.Archived, &d.Metadata.Enabled, &extra,
		&d.Keys.RawContent, &d.Keys.ReadableContent, &d.Keys.Markdown, &d.Keys.Text,
		&d.Keys.Favicon, &d.Keys.Thumbnail, &d.Keys.Screenshot, &d.Keys.PDF,
		&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewAppError("DOCUMENT_NOT_FOUND", id.String(), common.ErrNotFound)
		}
		r.logger.Error("failed to get document", "document_id", id, "error", err)
		return nil, &common.InfraError{Component: "database", Cause: err}
	}
	d.ID, _ = uuid.Parse(idS)
	d.UserID, _ = uuid.Parse(userS)
	if dueDate.Valid {
		t := dueDate.Time
		d.Metadata.DueDate = &t
	}
	d.Metadata.Extra = unmarshalExtra(extra)
	return &d, nil
}

func (r *assetRepo) SetStorageKeys(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID, keys entity.StorageKeys) error {
	sets := make([]string, 0, 9)
	args := make([]any, 0, 10)
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	add("raw_key", keys.RawContent)
	add("readable_key", keys.ReadableContent)
	add("markdown_key", keys.Markdown)
	add("text_key", keys.Text)
	add("favicon_key", keys.Favicon)
	add("thumbnail_key", keys.Thumbnail)
	add("screenshot_key", keys.Screenshot)
	add("pdf_key", keys.PDF)
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC())
	args = append(args, assetID.String())

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", tableFor(kind), strings.Join(sets, ", "))
	if _, err := r.db.ExecContext(ctx, r.db.rebind(query), args...); err != nil {
		r.logger.Error("failed to set storage keys", "asset_kind", kind, "asset_id", assetID, "error", err)
		return &common.InfraError{Component: "database", Cause: err}
	}
	return nil
}

func (r *assetRepo) UpdateMetadata(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID, md entity.Metadata) error {
	query := fmt.Sprintf(`UPDATE %s SET title = ?, description = ?, author = ?, language = ?, updated_at = ? WHERE id = ?`, tableFor(kind))
	_, err := r.db.ExecContext(ctx, r.db.rebind(query),
		md.Title, md.Description, md.Author, md.Language, time.Now().UTC(), assetID.String())
	if err != nil {
		r.logger.Error("failed to update metadata", "asset_kind", kind, "asset_id", assetID, "error", err)
		return &common.InfraError{Component: "database", Cause: err}
	}
	return nil
}

func (r *assetRepo) Delete(ctx context.Context, kind constants.AssetKind, userID, assetID uuid.UUID) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &common.InfraError{Component: "database", Cause: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, r.db.rebind(
		fmt.Sprintf("DELETE FROM %s WHERE id = ? AND user_id = ?", tableFor(kind))),
		assetID.String(), userID.String())
	if err != nil {
		return &common.InfraError{Component: "database", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return common.NewAppError("ASSET_NOT_FOUND", assetID.String(), common.ErrNotFound)
	}
	// The processing job is removed transactionally with its asset, never
	// on its own.
	if _, err := tx.ExecContext(ctx, r.db.rebind(
		"DELETE FROM processing_jobs WHERE asset_kind = ? AND asset_id = ?"),
		string(kind), assetID.String()); err != nil {
		return &common.InfraError{Component: "database", Cause: err}
	}
	if _, err := tx.ExecContext(ctx, r.db.rebind(
		"DELETE FROM asset_tags WHERE asset_kind = ? AND asset_id = ?"),
		string(kind), assetID.String()); err != nil {
		return &common.InfraError{Component: "database", Cause: err}
	}
	if err := tx.Commit(); err != nil {
		return &common.InfraError{Component: "database", Cause: err}
	}
	r.logger.Info("asset deleted", "asset_kind", kind, "asset_id", assetID, "user_id", userID)
	return nil
}
