package bookmarks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
	"github.com/curateapp/curate/internal/entity"
	"github.com/curateapp/curate/internal/queue"
	"github.com/curateapp/curate/internal/repository"
	"github.com/curateapp/curate/internal/storage"

	"github.com/google/uuid"
)

type testEnv struct {
	svc      *Service
	jobs     repository.ProcessingJobRepository
	queue    *queue.Queue
	payloads chan entity.QueuePayload
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repository.OpenSQLite(":memory:", nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close(nil) })
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, err := storage.NewFSStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("fs store: %v", err)
	}

	payloads := make(chan entity.QueuePayload, 16)
	q := queue.New(constants.QueueBookmarks, func(_ context.Context, job queue.Job) error {
		payloads <- job.Payload
		return nil
	}, nil, queue.WithWorkers(1))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})
	registry := queue.NewRegistry()
	registry.Register(constants.QueueBookmarks, q)

	assets := repository.NewAssetRepository(db, nil)
	jobs := repository.NewProcessingJobRepository(db, nil)
	tags := repository.NewTagRepository(db, nil)
	return &testEnv{
		svc:      NewService(assets, jobs, tags, store, registry, nil),
		jobs:     jobs,
		queue:    q,
		payloads: payloads,
	}
}

func (e *testEnv) nextPayload(t *testing.T) entity.QueuePayload {
	t.Helper()
	select {
	case p := <-e.payloads:
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("no payload reached the queue handler")
		return entity.QueuePayload{}
	}
}

func TestCreateQueuesProcessing(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	bookmark, job, err := e.svc.Create(ctx, userID, " https://example.com/a ")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if bookmark.URL != "https://example.com/a" {
		t.Errorf("url = %q", bookmark.URL)
	}
	if job.Status != constants.JobStatusProcessing || job.Generation != 1 {
		t.Errorf("job = %+v", job)
	}
	if len(job.Stages) != len(constants.BookmarkStages()) {
		t.Errorf("stage count = %d", len(job.Stages))
	}

	p := e.nextPayload(t)
	if p.AssetID != bookmark.ID || p.Generation != 1 {
		t.Errorf("payload = %+v", p)
	}
}

func TestCreateRejectsBadURLs(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	for _, raw := range []string{"", "not a url", "ftp://example.com/file", "/relative/path", "https://"} {
		if _, _, err := e.svc.Create(ctx, uuid.New(), raw); !errors.Is(err, common.ErrInvalidInput) {
			t.Errorf("Create(%q) err = %v, want invalid input kind", raw, err)
		}
	}
}

func TestRetryInFlightIsNoOp(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	bookmark, created, err := e.svc.Create(ctx, userID, "https://example.com/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	e.nextPayload(t)

	// The job is still processing; a plain retry changes nothing.
	job, queued, err := e.svc.Retry(ctx, userID, bookmark.ID, false)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if queued {
		t.Error("non-forced retry of an in-flight job queued work")
	}
	if job.Generation != created.Generation {
		t.Errorf("generation moved from %d to %d", created.Generation, job.Generation)
	}
}

func TestForcedRetryBumpsGeneration(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	bookmark, _, err := e.svc.Create(ctx, userID, "https://example.com/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	e.nextPayload(t)

	job, queued, err := e.svc.Retry(ctx, userID, bookmark.ID, true)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !queued {
		t.Error("forced retry did not queue")
	}
	if job.Generation != 2 || job.RetryCount != 1 {
		t.Errorf("job = generation %d retry %d", job.Generation, job.RetryCount)
	}
	if p := e.nextPayload(t); p.Generation != 2 {
		t.Errorf("payload generation = %d", p.Generation)
	}
}

func TestRetryAfterFailureRequeues(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	bookmark, _, err := e.svc.Create(ctx, userID, "https://example.com/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	e.nextPayload(t)

	// Drive the job to a terminal failure.
	if _, err := e.jobs.AdvanceStage(ctx, constants.AssetKindBookmark, bookmark.ID,
		repository.StageOutcome{Stage: constants.StageExtract, Status: constants.StageFailed, Detail: "dns"}, 1); err != nil {
		t.Fatalf("advance: %v", err)
	}

	job, queued, err := e.svc.Retry(ctx, userID, bookmark.ID, false)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if !queued {
		t.Error("retry of a failed job did not queue")
	}
	if job.Status != constants.JobStatusProcessing {
		t.Errorf("status after retry = %v", job.Status)
	}
}

func TestRetrySurfacesQueueRejection(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	bookmark, _, err := e.svc.Create(ctx, userID, "https://example.com/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	e.nextPayload(t)

	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	e.queue.Shutdown(sctx)

	_, queued, err := e.svc.Retry(ctx, userID, bookmark.ID, true)
	if err == nil || queued {
		t.Fatalf("Retry on closed queue = (queued %v, err %v), want surfaced error", queued, err)
	}
	if !errors.Is(err, queue.ErrClosed) {
		t.Errorf("err = %v, want queue closed in chain", err)
	}

	// Nothing will ever run this generation; the record must say so.
	job, err := e.jobs.Get(ctx, constants.AssetKindBookmark, bookmark.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Status != constants.JobStatusFailed {
		t.Errorf("job status = %v, a rejected enqueue must not leave it processing", job.Status)
	}
	if job.Stages[constants.StageExtract] != constants.StageFailed {
		t.Errorf("extract stage = %v, want failed", job.Stages[constants.StageExtract])
	}
}

func TestGetReturnsJobAndTags(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	bookmark, _, err := e.svc.Create(ctx, userID, "https://example.com/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, job, tags, err := e.svc.Get(ctx, userID, bookmark.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != bookmark.ID {
		t.Errorf("id = %v", got.ID)
	}
	if job == nil {
		t.Error("job missing")
	}
	if len(tags) != 0 {
		t.Errorf("unexpected tags: %v", tags)
	}

	if _, _, _, err := e.svc.Get(ctx, userID, uuid.New()); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("unknown id err = %v, want not found kind", err)
	}
}

func TestDeleteRemovesJob(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	userID := uuid.New()

	bookmark, _, err := e.svc.Create(ctx, userID, "https://example.com/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	e.nextPayload(t)

	if err := e.svc.Delete(ctx, userID, bookmark.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, _, _, err := e.svc.Get(ctx, userID, bookmark.ID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("bookmark survived delete: %v", err)
	}
	if _, err := e.jobs.Get(ctx, constants.AssetKindBookmark, bookmark.ID); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("job survived delete: %v", err)
	}
}
