// Package persist writes a processed asset's artifacts to blob storage.
package persist

import (
	"bytes"
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/entity"
	"github.com/curateapp/curate/internal/storage"
)

// Artifact is one derived file to persist under the asset's prefix.
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
	// Assign records the resulting key on the asset's key set. It runs
	// under the Persister's lock.
	Assign func(keys *entity.StorageKeys, key string)
}

// Persister saves artifacts concurrently and collects the resulting keys.
type Persister struct {
	store  storage.BlobStore
	logger *slog.Logger
}

func NewPersister(store storage.BlobStore, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{store: store, logger: logger}
}

// SaveArtifacts writes every artifact under the asset's deterministic
// prefix. On error the partial keys are discarded and the stage fails;
// keys are deterministic, so a later retry simply overwrites.
func (p *Persister) SaveArtifacts(ctx context.Context, userID uuid.UUID, kind constants.AssetKind, assetID uuid.UUID, artifacts []Artifact) (entity.StorageKeys, error) {
	var (
		mu   sync.Mutex
		keys entity.StorageKeys
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range artifacts {
		if len(a.Data) == 0 {
			continue
		}
		a := a
		g.Go(func() error {
			key, err := p.store.SaveAsset(gctx, storage.SaveRequest{
				UserID:      userID,
				Kind:        kind,
				AssetID:     assetID,
				FileName:    a.FileName,
				Body:        bytes.NewReader(a.Data),
				ContentType: a.ContentType,
			})
			if err != nil {
				return err
			}
			mu.Lock()
			a.Assign(&keys, key)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return entity.StorageKeys{}, err
	}

	p.logger.Debug("artifacts persisted", "asset_id", assetID, "count", len(artifacts))
	return keys, nil
}
