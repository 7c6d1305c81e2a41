// Package storage abstracts the key-addressed blob store that holds raw
// and derived artifacts. Keys are deterministic per
// (user, asset kind, asset id, file name) so reprocessing an asset
// overwrites its artifacts in place.
package storage

import (
	"context"
	"io"
	"path"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
)

// SaveRequest describes one blob write under an asset namespace.
type SaveRequest struct {
	UserID      uuid.UUID
	Kind        constants.AssetKind
	AssetID     uuid.UUID
	FileName    string
	Body        io.Reader
	ContentType string
}

// BlobStore is the contract the pipeline expects from object storage.
type BlobStore interface {
	// SaveAsset writes one artifact and returns its storage key.
	SaveAsset(ctx context.Context, req SaveRequest) (string, error)
	// GetStream opens a stored blob. Absent keys fail with a
	// common.ErrNotFound kind.
	GetStream(ctx context.Context, storageKey string) (io.ReadCloser, int64, error)
	// Delete removes a single blob.
	Delete(ctx context.Context, storageKey string) error
	// DeleteAsset removes every blob under an asset's namespace.
	DeleteAsset(ctx context.Context, userID uuid.UUID, kind constants.AssetKind, assetID uuid.UUID) error
}

// AssetKey builds the deterministic storage key for one artifact.
func AssetKey(userID uuid.UUID, kind constants.AssetKind, assetID uuid.UUID, fileName string) string {
	return path.Join("users", userID.String(), string(kind), assetID.String(), fileName)
}

// AssetPrefix is the namespace prefix holding all of an asset's blobs.
func AssetPrefix(userID uuid.UUID, kind constants.AssetKind, assetID uuid.UUID) string {
	return path.Join("users", userID.String(), string(kind), assetID.String())
}
