package repository

import "context"

// Schema DDL shared by the postgres and sqlite dialects. Type names stay in
// the common subset both accept.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS bookmarks (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		url           TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		author        TEXT,
		language      TEXT NOT NULL DEFAULT '',
		due_date      TIMESTAMP,
		pinned        BOOLEAN NOT NULL DEFAULT FALSE,
		archived      BOOLEAN NOT NULL DEFAULT FALSE,
		enabled       BOOLEAN NOT NULL DEFAULT TRUE,
		extra         TEXT,
		raw_key       TEXT,
		readable_key  TEXT,
		markdown_key  TEXT,
		text_key      TEXT,
		favicon_key   TEXT,
		thumbnail_key TEXT,
		screenshot_key TEXT,
		pdf_key       TEXT,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_bookmarks_user ON bookmarks (user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		filename      TEXT NOT NULL,
		mime_type     TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		author        TEXT,
		language      TEXT NOT NULL DEFAULT '',
		due_date      TIMESTAMP,
		pinned        BOOLEAN NOT NULL DEFAULT FALSE,
		archived      BOOLEAN NOT NULL DEFAULT FALSE,
		enabled       BOOLEAN NOT NULL DEFAULT TRUE,
		extra         TEXT,
		raw_key       TEXT,
		readable_key  TEXT,
		markdown_key  TEXT,
		text_key      TEXT,
		favicon_key   TEXT,
		thumbnail_key TEXT,
		screenshot_key TEXT,
		pdf_key       TEXT,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_documents_user ON documents (user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS processing_jobs (
		id            TEXT PRIMARY KEY,
		asset_kind    TEXT NOT NULL,
		asset_id      TEXT NOT NULL,
		user_id       TEXT NOT NULL,
		status        TEXT NOT NULL,
		stages        TEXT NOT NULL,
		error_message TEXT,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		generation    INTEGER NOT NULL DEFAULT 1,
		created_at    TIMESTAMP NOT NULL,
		updated_at    TIMESTAMP NOT NULL,
		UNIQUE (asset_kind, asset_id)
	)`,

	`CREATE TABLE IF NOT EXISTS tags (
		id      TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name    TEXT NOT NULL,
		UNIQUE (user_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS asset_tags (
		tag_id     TEXT NOT NULL,
		asset_kind TEXT NOT NULL,
		asset_id   TEXT NOT NULL,
		UNIQUE (tag_id, asset_kind, asset_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_asset_tags_asset ON asset_tags (asset_kind, asset_id)`,
}

// Migrate applies the schema. Statements are idempotent.
func (d *DB) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
