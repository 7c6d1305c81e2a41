// Package bookmarks is the ingestion surface for URL assets: it creates
// the row, declares the processing stage set, and queues the work.
package bookmarks

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
	"github.com/curateapp/curate/internal/entity"
	"github.com/curateapp/curate/internal/queue"
	"github.com/curateapp/curate/internal/repository"
	"github.com/curateapp/curate/internal/storage"
)

type Service struct {
	assets repository.AssetRepository
	jobs   repository.ProcessingJobRepository
	tags   repository.TagRepository
	store  storage.BlobStore
	queues *queue.Registry
	logger *slog.Logger
}

func NewService(assets repository.AssetRepository, jobs repository.ProcessingJobRepository, tags repository.TagRepository, store storage.BlobStore, queues *queue.Registry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{assets: assets, jobs: jobs, tags: tags, store: store, queues: queues, logger: logger}
}

// validateURL accepts absolute http(s) URLs only.
func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", common.NewAppError("INVALID_URL", raw, common.ErrInvalidInput)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", common.NewAppError("INVALID_URL", raw, common.ErrInvalidInput)
	}
	return u.String(), nil
}

// enqueue hands the payload to the bookmark queue. A rejected Add (full
// or shutting down) marks the extract stage failed before surfacing: the
// job record exists but nothing will run it, and it must not read as
// processing.
func (s *Service) enqueue(ctx context.Context, payload entity.QueuePayload, force bool) (bool, error) {
	q := s.queues.Get(constants.QueueBookmarks)
	if q == nil {
		return false, common.NewAppError("QUEUE_NOT_CONFIGURED", constants.QueueBookmarks, common.ErrInternal)
	}
	queued, err := q.Add(ctx, payload, queue.AddOptions{JobID: payload.AssetID.String(), Force: force})
	if err != nil {
		if _, ferr := s.jobs.AdvanceStage(ctx, constants.AssetKindBookmark, payload.AssetID, repository.StageOutcome{
			Stage:  constants.StageExtract,
			Status: constants.StageFailed,
			Detail: err.Error(),
		}, payload.Generation); ferr != nil {
			s.logger.Error("failed to record enqueue rejection", "bookmark_id", payload.AssetID, "error", ferr)
		}
		return false, err
	}
	return queued, nil
}

// Create stores a new bookmark, declares its stage set, and queues
// processing. The returned job is in the processing state.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, rawURL string) (*entity.Bookmark, *entity.ProcessingJob, error) {
	normalized, err := validateURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	bookmark := &entity.Bookmark{
		ID:     uuid.New(),
		UserID: userID,
		URL:    normalized,
		Metadata: entity.Metadata{
			Language: "en",
			Enabled:  true,
		},
	}
	if err := s.assets.CreateBookmark(ctx, bookmark); err != nil {
		return nil, nil, err
	}

	job, err := s.jobs.Upsert(ctx, constants.AssetKindBookmark, bookmark.ID, userID, constants.BookmarkStages())
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.enqueue(ctx, entity.QueuePayload{
		AssetID:    bookmark.ID,
		UserID:     userID,
		Generation: job.Generation,
	}, false); err != nil {
		return nil, nil, err
	}

	s.logger.Info("bookmark created", "bookmark_id", bookmark.ID, "user_id", userID, "url", normalized)
	return bookmark, job, nil
}

// Retry requeues processing. A retry of a job that is still running is a
// no-op unless force is set; force resets the stage set, bumps the
// generation, and fences out the superseded run. The bool reports
// whether a new run was queued.
func (s *Service) Retry(ctx context.Context, userID, id uuid.UUID, force bool) (*entity.ProcessingJob, bool, error) {
	bookmark, err := s.assets.GetBookmark(ctx, userID, id)
	if err != nil {
		return nil, false, err
	}

	job, err := s.jobs.Get(ctx, constants.AssetKindBookmark, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}
	if job != nil && !job.Status.Terminal() && !force {
		s.logger.Info("retry skipped, job still in flight", "bookmark_id", id)
		return job, false, nil
	}

	job, err = s.jobs.Upsert(ctx, constants.AssetKindBookmark, id, userID, constants.BookmarkStages())
	if err != nil {
		return nil, false, err
	}

	payload := entity.QueuePayload{
		AssetID:    id,
		UserID:     userID,
		Generation: job.Generation,
	}
	if bookmark.Keys.RawContent != nil {
		payload.RawKey = *bookmark.Keys.RawContent
	}
	// The generation was just bumped, so a parked entry holds a stale
	// payload and must be replaced.
	queued, err := s.enqueue(ctx, payload, true)
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("bookmark retry queued", "bookmark_id", id, "force", force, "generation", job.Generation)
	return job, queued, nil
}

// Get returns the bookmark, its processing job (nil when never queued),
// and its tags.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*entity.Bookmark, *entity.ProcessingJob, []*entity.Tag, error) {
	bookmark, err := s.assets.GetBookmark(ctx, userID, id)
	if err != nil {
		return nil, nil, nil, err
	}
	job, err := s.jobs.Get(ctx, constants.AssetKindBookmark, id)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			return nil, nil, nil, err
		}
		job = nil
	}
	tags, err := s.tags.ListForAsset(ctx, constants.AssetKindBookmark, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return bookmark, job, tags, nil
}

// Delete removes the bookmark row (with its job and tag links) and then
// its blobs. Blob deletion failures are logged, not surfaced: the row is
// gone and deterministic keys make the leftovers re-deletable.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.assets.Delete(ctx, constants.AssetKindBookmark, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteAsset(ctx, userID, constants.AssetKindBookmark, id); err != nil {
		s.logger.Warn("blob cleanup failed", "bookmark_id", id, "error", err)
	}
	return nil
}
