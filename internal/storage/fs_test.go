package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
)

func newFSStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFSStore: %v", err)
	}
	return store
}

func TestFSStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)
	userID, assetID := uuid.New(), uuid.New()

	key, err := store.SaveAsset(ctx, SaveRequest{
		UserID: userID, Kind: constants.AssetKindBookmark, AssetID: assetID,
		FileName: constants.FileMarkdown,
		Body:     strings.NewReader("# Hello"),
	})
	if err != nil {
		t.Fatalf("SaveAsset: %v", err)
	}
	if want := AssetKey(userID, constants.AssetKindBookmark, assetID, constants.FileMarkdown); key != want {
		t.Errorf("key = %q, want %q", key, want)
	}

	rc, size, err := store.GetStream(ctx, key)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "# Hello" || size != int64(len(body)) {
		t.Errorf("body = %q size = %d", body, size)
	}
}

func TestFSStoreOverwritesDeterministically(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)
	userID, assetID := uuid.New(), uuid.New()

	req := SaveRequest{
		UserID: userID, Kind: constants.AssetKindBookmark, AssetID: assetID,
		FileName: constants.FileText,
	}
	req.Body = strings.NewReader("first run")
	key1, err := store.SaveAsset(ctx, req)
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	req.Body = strings.NewReader("second run")
	key2, err := store.SaveAsset(ctx, req)
	if err != nil {
		t.Fatalf("second save: %v", err)
	}
	if key1 != key2 {
		t.Fatalf("reprocessing produced a new key: %q vs %q", key1, key2)
	}

	rc, _, err := store.GetStream(ctx, key2)
	if err != nil {
		t.Fatalf("GetStream: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "second run" {
		t.Errorf("body = %q, want latest write", body)
	}
}

func TestFSStoreMissingBlobIsNotFound(t *testing.T) {
	store := newFSStore(t)
	_, _, err := store.GetStream(context.Background(), "users/nobody/bookmark/x/content.md")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("err = %v, want not found kind", err)
	}
}

func TestFSStoreRejectsKeyEscape(t *testing.T) {
	store := newFSStore(t)
	for _, key := range []string{"../outside", "users/../../etc/passwd", "/etc/passwd"} {
		if _, _, err := store.GetStream(context.Background(), key); err == nil {
			t.Errorf("GetStream(%q) escaped the root", key)
		}
	}
}

func TestFSStoreDeleteAsset(t *testing.T) {
	ctx := context.Background()
	store := newFSStore(t)
	userID, assetID := uuid.New(), uuid.New()

	var keys []string
	for _, name := range []string{constants.FileMarkdown, constants.FileText, "favicon.png"} {
		key, err := store.SaveAsset(ctx, SaveRequest{
			UserID: userID, Kind: constants.AssetKindBookmark, AssetID: assetID,
			FileName: name, Body: strings.NewReader("data"),
		})
		if err != nil {
			t.Fatalf("save %s: %v", name, err)
		}
		keys = append(keys, key)
	}

	// Blobs of another asset must survive the namespace delete.
	otherKey, err := store.SaveAsset(ctx, SaveRequest{
		UserID: userID, Kind: constants.AssetKindBookmark, AssetID: uuid.New(),
		FileName: constants.FileText, Body: strings.NewReader("other"),
	})
	if err != nil {
		t.Fatalf("save other: %v", err)
	}

	if err := store.DeleteAsset(ctx, userID, constants.AssetKindBookmark, assetID); err != nil {
		t.Fatalf("DeleteAsset: %v", err)
	}
	for _, key := range keys {
		if _, _, err := store.GetStream(ctx, key); !errors.Is(err, common.ErrNotFound) {
			t.Errorf("blob %s survived: %v", key, err)
		}
	}
	if _, _, err := store.GetStream(ctx, otherKey); err != nil {
		t.Errorf("unrelated blob removed: %v", err)
	}
}
