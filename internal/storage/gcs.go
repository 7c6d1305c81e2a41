package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
)

// GCSStore keeps blobs as objects in a Google Cloud Storage bucket.
type GCSStore struct {
	bucket *gcs.BucketHandle
	logger *slog.Logger
}

func NewGCSStore(ctx context.Context, bucketName string, logger *slog.Logger) (*GCSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, &common.InfraError{Component: "storage", Cause: err}
	}
	return &GCSStore{bucket: client.Bucket(bucketName), logger: logger}, nil
}

func (s *GCSStore) SaveAsset(ctx context.Context, req SaveRequest) (string, error) {
	key := AssetKey(req.UserID, req.Kind, req.AssetID, req.FileName)
	w := s.bucket.Object(key).NewWriter(ctx)
	if req.ContentType != "" {
		w.ContentType = req.ContentType
	}
	if _, err := io.Copy(w, req.Body); err != nil {
		_ = w.Close()
		return "", &common.InfraError{Component: "storage", Cause: err}
	}
	if err := w.Close(); err != nil {
		return "", &common.InfraError{Component: "storage", Cause: err}
	}
	s.logger.Debug("blob saved", "storage_key", key)
	return key, nil
}

func (s *GCSStore) GetStream(ctx context.Context, storageKey string) (io.ReadCloser, int64, error) {
	r, err := s.bucket.Object(storageKey).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, 0, common.NewAppError("BLOB_NOT_FOUND", storageKey, common.ErrNotFound)
		}
		return nil, 0, &common.InfraError{Component: "storage", Cause: err}
	}
	return r, r.Attrs.Size, nil
}

func (s *GCSStore) Delete(ctx context.Context, storageKey string) error {
	err := s.bucket.Object(storageKey).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return &common.InfraError{Component: "storage", Cause: err}
	}
	return nil
}

func (s *GCSStore) DeleteAsset(ctx context.Context, userID uuid.UUID, kind constants.AssetKind, assetID uuid.UUID) error {
	prefix := AssetPrefix(userID, kind, assetID) + "/"
	it := s.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return &common.InfraError{Component: "storage", Cause: err}
		}
		if err := s.bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return &common.InfraError{Component: "storage", Cause: err}
		}
	}
}
