package entity

import (
	"time"

	"github.com/google/uuid"
)

// StorageKeys holds one opaque blob-store key per derived artifact.
// A key is nil until the artifact exists; reprocessing may overwrite it.
type StorageKeys struct {
	RawContent      *string `json:"raw_content,omitempty"`
	ReadableContent *string `json:"readable_content,omitempty"`
	Markdown        *string `json:"markdown,omitempty"`
	Text            *string `json:"text,omitempty"`
	Favicon         *string `json:"favicon,omitempty"`
	Thumbnail       *string `json:"thumbnail,omitempty"`
	Screenshot      *string `json:"screenshot,omitempty"`
	PDF             *string `json:"pdf,omitempty"`
}

// Metadata is the mutable envelope shared by both asset kinds. Extra is an
// open extension map for forward-compatible fields; everything the code
// relies on has a typed field.
type Metadata struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Author      *string        `json:"author,omitempty"`
	Language    string         `json:"language"`
	DueDate     *time.Time     `json:"due_date,omitempty"`
	Pinned      bool           `json:"pinned"`
	Archived    bool           `json:"archived"`
	Enabled     bool           `json:"enabled"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Bookmark is a URL asset owned by a user.
type Bookmark struct {
	ID        uuid.UUID   `json:"id"`
	UserID    uuid.UUID   `json:"user_id"`
	URL       string      `json:"url"`
	Metadata  Metadata    `json:"metadata"`
	Keys      StorageKeys `json:"storage_keys"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Document is an uploaded file asset owned by a user.
type Document struct {
	ID        uuid.UUID   `json:"id"`
	UserID    uuid.UUID   `json:"user_id"`
	Filename  string      `json:"filename"`
	MimeType  string      `json:"mime_type"`
	Metadata  Metadata    `json:"metadata"`
	Keys      StorageKeys `json:"storage_keys"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Tag is a user-scoped, case-normalized label, many-to-many with assets.
type Tag struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
}
