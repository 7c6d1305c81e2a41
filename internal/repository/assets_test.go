package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
	"github.com/curateapp/curate/internal/entity"
)

func strPtr(s string) *string { return &s }

func TestBookmarkRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewAssetRepository(newTestDB(t), nil)

	author := "Jane Writer"
	b := &entity.Bookmark{
		ID:     uuid.New(),
		UserID: uuid.New(),
		URL:    "https://example.com/article",
		Metadata: entity.Metadata{
			Title:       "An Article",
			Description: "About things",
			Author:      &author,
			Language:    "en",
			Enabled:     true,
			Extra:       map[string]any{"source": "import"},
		},
	}
	if err := repo.CreateBookmark(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := repo.GetBookmark(ctx, b.UserID, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.URL != b.URL || got.Metadata.Title != "An Article" || !got.Metadata.Enabled {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.Metadata.Author == nil || *got.Metadata.Author != author {
		t.Errorf("author = %v", got.Metadata.Author)
	}
	if got.Metadata.Extra["source"] != "import" {
		t.Errorf("extra = %v", got.Metadata.Extra)
	}
	if got.Keys.RawContent != nil {
		t.Errorf("new bookmark has a raw key: %v", *got.Keys.RawContent)
	}
}

func TestGetBookmarkScopedToUser(t *testing.T) {
	ctx := context.Background()
	repo := NewAssetRepository(newTestDB(t), nil)

	b := &entity.Bookmark{ID: uuid.New(), UserID: uuid.New(), URL: "https://example.com"}
	if err := repo.CreateBookmark(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := repo.GetBookmark(ctx, uuid.New(), b.ID); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("cross-user get err = %v, want not found kind", err)
	}
}

func TestSetStorageKeysMerges(t *testing.T) {
	ctx := context.Background()
	repo := NewAssetRepository(newTestDB(t), nil)

	b := &entity.Bookmark{ID: uuid.New(), UserID: uuid.New(), URL: "https://example.com"}
	if err := repo.CreateBookmark(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	// First write: extraction artifacts.
	err := repo.SetStorageKeys(ctx, constants.AssetKindBookmark, b.ID, entity.StorageKeys{
		ReadableContent: strPtr("users/u/bookmark/a/readable.html"),
		Markdown:        strPtr("users/u/bookmark/a/content.md"),
	})
	if err != nil {
		t.Fatalf("first set: %v", err)
	}
	// Second write: pdf only. Earlier keys must survive.
	err = repo.SetStorageKeys(ctx, constants.AssetKindBookmark, b.ID, entity.StorageKeys{
		PDF: strPtr("users/u/bookmark/a/page.pdf"),
	})
	if err != nil {
		t.Fatalf("second set: %v", err)
	}

	got, err := repo.GetBookmark(ctx, b.UserID, b.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Keys.ReadableContent == nil || got.Keys.Markdown == nil || got.Keys.PDF == nil {
		t.Errorf("keys not merged: %+v", got.Keys)
	}
	if got.Keys.Favicon != nil {
		t.Errorf("unset key became non-nil: %v", *got.Keys.Favicon)
	}
}

func TestUpdateMetadata(t *testing.T) {
	ctx := context.Background()
	repo := NewAssetRepository(newTestDB(t), nil)

	d := &entity.Document{
		ID: uuid.New(), UserID: uuid.New(),
		Filename: "notes.html", MimeType: "text/html",
		Metadata: entity.Metadata{Title: "notes.html", Language: "en"},
	}
	if err := repo.CreateDocument(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := repo.UpdateMetadata(ctx, constants.AssetKindDocument, d.ID, entity.Metadata{
		Title:       "Extracted Title",
		Description: "From the content",
		Language:    "de",
	}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := repo.GetDocument(ctx, d.UserID, d.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Metadata.Title != "Extracted Title" || got.Metadata.Language != "de" {
		t.Errorf("metadata not updated: %+v", got.Metadata)
	}
}

func TestDeleteCascades(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	assets := NewAssetRepository(db, nil)
	jobs := NewProcessingJobRepository(db, nil)
	tags := NewTagRepository(db, nil)

	b := &entity.Bookmark{ID: uuid.New(), UserID: uuid.New(), URL: "https://example.com"}
	if err := assets.CreateBookmark(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := jobs.Upsert(ctx, constants.AssetKindBookmark, b.ID, b.UserID, constants.BookmarkStages()); err != nil {
		t.Fatalf("upsert job: %v", err)
	}
	tag, err := tags.GetOrCreate(ctx, b.UserID, "reading")
	if err != nil {
		t.Fatalf("tag: %v", err)
	}
	if err := tags.AttachToAsset(ctx, tag.ID, constants.AssetKindBookmark, b.ID); err != nil {
		t.Fatalf("attach: %v", err)
	}

	if err := assets.Delete(ctx, constants.AssetKindBookmark, b.UserID, b.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := assets.GetBookmark(ctx, b.UserID, b.ID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("bookmark still readable: %v", err)
	}
	if _, err := jobs.Get(ctx, constants.AssetKindBookmark, b.ID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("job survived delete: %v", err)
	}
	links, err := tags.ListForAsset(ctx, constants.AssetKindBookmark, b.ID)
	if err != nil {
		t.Fatalf("list tags: %v", err)
	}
	if len(links) != 0 {
		t.Errorf("tag links survived delete: %v", links)
	}
}

func TestDeleteUnknownAssetIsNotFound(t *testing.T) {
	repo := NewAssetRepository(newTestDB(t), nil)
	err := repo.Delete(context.Background(), constants.AssetKindBookmark, uuid.New(), uuid.New())
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want not found kind", err)
	}
}
