package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
)

// FSStore keeps blobs as files under a root directory. Storage keys map
// directly to relative paths.
type FSStore struct {
	root   string
	logger *slog.Logger
}

func NewFSStore(root string, logger *slog.Logger) (*FSStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, &common.InfraError{Component: "storage", Cause: err}
	}
	return &FSStore{root: root, logger: logger}, nil
}

func (s *FSStore) SaveAsset(ctx context.Context, req SaveRequest) (string, error) {
	key := AssetKey(req.UserID, req.Kind, req.AssetID, req.FileName)
	full, err := s.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", &common.InfraError{Component: "storage", Cause: err}
	}

	// Write to a temp file first so a half-written artifact never becomes
	// visible under its final key.
	tmp, err := os.CreateTemp(filepath.Dir(full), ".tmp-*")
	if err != nil {
		return "", &common.InfraError{Component: "storage", Cause: err}
	}
	if _, err := io.Copy(tmp, req.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", &common.InfraError{Component: "storage", Cause: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", &common.InfraError{Component: "storage", Cause: err}
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return "", &common.InfraError{Component: "storage", Cause: err}
	}
	s.logger.Debug("blob saved", "storage_key", key)
	return key, nil
}

func (s *FSStore) GetStream(ctx context.Context, storageKey string) (io.ReadCloser, int64, error) {
	full, err := s.resolve(storageKey)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, common.NewAppError("BLOB_NOT_FOUND", storageKey, common.ErrNotFound)
		}
		return nil, 0, &common.InfraError{Component: "storage", Cause: err}
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, &common.InfraError{Component: "storage", Cause: err}
	}
	return f, st.Size(), nil
}

func (s *FSStore) Delete(ctx context.Context, storageKey string) error {
	full, err := s.resolve(storageKey)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return &common.InfraError{Component: "storage", Cause: err}
	}
	return nil
}

func (s *FSStore) DeleteAsset(ctx context.Context, userID uuid.UUID, kind constants.AssetKind, assetID uuid.UUID) error {
	full, err := s.resolve(AssetPrefix(userID, kind, assetID))
	if err != nil {
		return err
	}
	if err := os.RemoveAll(full); err != nil {
		return &common.InfraError{Component: "storage", Cause: err}
	}
	return nil
}

// resolve maps a storage key to an absolute path and rejects keys that
// would escape the root.
func (s *FSStore) resolve(key string) (string, error) {
	full := filepath.Join(s.root, filepath.FromSlash(key))
	rootAbs, err := filepath.Abs(s.root)
	if err != nil {
		return "", &common.InfraError{Component: "storage", Cause: err}
	}
	fullAbs, err := filepath.Abs(full)
	if err != nil {
		return "", &common.InfraError{Component: "storage", Cause: err}
	}
	if fullAbs != rootAbs && !strings.HasPrefix(fullAbs, rootAbs+string(filepath.Separator)) {
		return "", fmt.Errorf("storage key escapes root: %q", key)
	}
	return fullAbs, nil
}
