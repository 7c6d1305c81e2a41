// Package documents is the ingestion surface for uploaded file assets.
package documents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
	"github.com/curateapp/curate/internal/entity"
	"github.com/curateapp/curate/internal/queue"
	"github.com/curateapp/curate/internal/repository"
	"github.com/curateapp/curate/internal/storage"
)

// maxUploadBytes bounds a single document upload.
const maxUploadBytes = 64 << 20

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

// sanitizeFilename strips any path components and defaults the result so
// the blob name is always a single safe segment.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "upload.bin"
	}
	return name
}

// resolveMimeType trusts the declared type, falling back to the filename
// extension and finally to octet-stream.
func resolveMimeType(declared, filename string) string {
	declared = strings.TrimSpace(declared)
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if byExt := mime.TypeByExtension(filepath.Ext(filename)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}

// enqueue hands the payload to the document queue. A rejected Add (full
// or shutting down) marks the extract stage failed before surfacing so
// the job record never reads as processing with nothing queued.
func (s *Service) enqueue(ctx context.Context, payload entity.QueuePayload, force bool) (bool, error) {
	q := s.queues.Get(constants.QueueDocuments)
	if q == nil {
		return false, common.NewAppError("QUEUE_NOT_CONFIGURED", constants.QueueDocuments, common.ErrInternal)
	}
	queued, err := q.Add(ctx, payload, queue.AddOptions{JobID: payload.AssetID.String(), Force: force})
	if err != nil {
		if _, ferr := s.jobs.AdvanceStage(ctx, constants.AssetKindDocument, payload.AssetID, repository.StageOutcome{
			Stage:  constants.StageExtract,
			Status: constants.StageFailed,
			Detail: err.Error(),
		}, payload.Generation); ferr != nil {
			s.logger.Error("failed to record enqueue rejection", "document_id", payload.AssetID, "error", ferr)
		}
		return false, err
	}
	return queued, nil
}

// Upload stores the raw file first, then the row, then queues
// processing. If the row insert fails the stored blob is deleted so no
// orphan survives the failed upload.
func (s *Service) Upload(ctx context.Context, userID uuid.UUID, filename, mimeType string, body io.Reader) (*entity.Document, *entity.ProcessingJob, error) {
	filename = sanitizeFilename(filename)
	mimeType = resolveMimeType(mimeType, filename)

	doc := &entity.Document{
		ID:       uuid.New(),
		UserID:   userID,
		Filename: filename,
		MimeType: mimeType,
		Metadata: entity.Metadata{
			Title:    filename,
			Language: "en",
			Enabled:  true,
		},
	}

	rawKey, err := s.store.SaveAsset(ctx, storage.SaveRequest{
		UserID:      userID,
		Kind:        constants.AssetKindDocument,
		AssetID:     doc.ID,
		FileName:    filename,
		Body:        io.LimitReader(body, maxUploadBytes),
		ContentType: mimeType,
	})
	if err != nil {
		return nil, nil, err
	}
	doc.Keys.RawContent = &rawKey

	if err := s.assets.CreateDocument(ctx, doc); err != nil {
		// Compensate: the blob has no row pointing at it.
		if delErr := s.store.Delete(ctx, rawKey); delErr != nil {
			s.logger.Warn("orphan blob cleanup failed", "raw_key", rawKey, "error", delErr)
		}
		return nil, nil, err
	}
	if err := s.assets.SetStorageKeys(ctx, constants.AssetKindDocument, doc.ID, entity.StorageKeys{RawContent: &rawKey}); err != nil {
		return nil, nil, err
	}

	job, err := s.jobs.Upsert(ctx, constants.AssetKindDocument, doc.ID, userID, constants.DocumentStages())
	if err != nil {
		return nil, nil, err
	}

	if _, err := s.enqueue(ctx, entity.QueuePayload{
		AssetID:    doc.ID,
		UserID:     userID,
		RawKey:     rawKey,
		MimeType:   mimeType,
		Generation: job.Generation,
	}, false); err != nil {
		return nil, nil, err
	}

	s.logger.Info("document uploaded", "document_id", doc.ID, "user_id", userID, "filename", filename, "mime_type", mimeType)
	return doc, job, nil
}

// Retry requeues processing of the stored raw file. In-flight jobs are a
// no-op unless force is set; the bool reports whether a run was queued.
func (s *Service) Retry(ctx context.Context, userID, id uuid.UUID, force bool) (*entity.ProcessingJob, bool, error) {
	doc, err := s.assets.GetDocument(ctx, userID, id)
	if err != nil {
		return nil, false, err
	}
	if doc.Keys.RawContent == nil {
		return nil, false, common.NewAppError("RAW_CONTENT_MISSING", id.String(), common.ErrInvalidInput)
	}

	job, err := s.jobs.Get(ctx, constants.AssetKindDocument, id)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, false, err
	}
	if job != nil && !job.Status.Terminal() && !force {
		s.logger.Info("retry skipped, job still in flight", "document_id", id)
		return job, false, nil
	}

	job, err = s.jobs.Upsert(ctx, constants.AssetKindDocument, id, userID, constants.DocumentStages())
	if err != nil {
		return nil, false, err
	}

	queued, err := s.enqueue(ctx, entity.QueuePayload{
		AssetID:    id,
		UserID:     userID,
		RawKey:     *doc.Keys.RawContent,
		MimeType:   doc.MimeType,
		Generation: job.Generation,
	}, true)
	if err != nil {
		return nil, false, err
	}

	s.logger.Info("document retry queued", "document_id", id, "force", force, "generation", job.Generation)
	return job, queued, nil
}

// Get returns the document, its processing job (nil when never queued),
// and its tags.
func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*entity.Document, *entity.ProcessingJob, []*entity.Tag, error) {
	doc, err := s.assets.GetDocument(ctx, userID, id)
	if err != nil {
		return nil, nil, nil, err
	}
	job, err := s.jobs.Get(ctx, constants.AssetKindDocument, id)
	if err != nil {
		if !errors.Is(err, common.ErrNotFound) {
			return nil, nil, nil, err
		}
		job = nil
	}
	tags, err := s.tags.ListForAsset(ctx, constants.AssetKindDocument, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return doc, job, tags, nil
}

// Content streams the stored raw file.
func (s *Service) Content(ctx context.Context, userID, id uuid.UUID) (io.ReadCloser, int64, string, error) {
	doc, err := s.assets.GetDocument(ctx, userID, id)
	if err != nil {
		return nil, 0, "", err
	}
	if doc.Keys.RawContent == nil {
		return nil, 0, "", common.NewAppError("RAW_CONTENT_MISSING", id.String(), common.ErrNotFound)
	}
	rc, size, err := s.store.GetStream(ctx, *doc.Keys.RawContent)
	if err != nil {
		return nil, 0, "", err
	}
	return rc, size, doc.MimeType, nil
}

// Delete removes the document row (with its job and tag links) and then
// its blobs.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.assets.Delete(ctx, constants.AssetKindDocument, userID, id); err != nil {
		return err
	}
	if err := s.store.DeleteAsset(ctx, userID, constants.AssetKindDocument, id); err != nil {
		s.logger.Warn("blob cleanup failed", "document_id", id, "error", err)
	}
	return nil
}
