package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
	"github.com/curateapp/curate/internal/common"
	"github.com/curateapp/curate/internal/entity"
)

// ErrStaleGeneration is returned when a stage write carries a generation
// older than the row's. The writer is a leftover from before a forced
// retry and must stop without touching the job.
var ErrStaleGeneration = errors.New("processing job generation is stale")

// StageOutcome is one stage transition reported by a worker.
type StageOutcome struct {
	Stage  string
	Status constants.StageStatus
	Detail string // error detail for failed stages
}

// ProcessingJobRepository is the durable processing-status store.
type ProcessingJobRepository interface {
	// Upsert creates the job record or resets an existing one: stages are
	// (re)declared as pending, status returns to processing, the retry
	// count increments on reset, and the generation is bumped. Returns the
	// job after the write.
	Upsert(ctx context.Context, kind constants.AssetKind, assetID, userID uuid.UUID, stageNames []string) (*entity.ProcessingJob, error)
	// AdvanceStage transitions one stage and recomputes the overall
	// status. Writes carrying a stale generation fail with
	// ErrStaleGeneration and leave the row untouched.
	AdvanceStage(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID, outcome StageOutcome, generation int64) (*entity.ProcessingJob, error)
	// Get returns the current job record, with a NotFound kind when the
	// asset was never queued.
	Get(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID) (*entity.ProcessingJob, error)
}

type processingJobRepo struct {
	db     *DB
	logger *slog.Logger
}

func NewProcessingJobRepository(db *DB, logger *slog.Logger) ProcessingJobRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &processingJobRepo{db: db, logger: logger}
}

func (r *processingJobRepo) Upsert(ctx context.Context, kind constants.AssetKind, assetID, userID uuid.UUID, stageNames []string) (*entity.ProcessingJob, error) {
	stages := make(map[string]constants.StageStatus, len(stageNames))
	for _, name := range stageNames {
		stages[name] = constants.StagePending
	}
	stagesJSON, err := json.Marshal(stages)
	if err != nil {
		return nil, common.WrapError(err, "encode stages")
	}
	now := time.Now().UTC()

	existing, err := r.Get(ctx, kind, assetID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		_, err = r.db.ExecContext(ctx, r.db.rebind(`
			INSERT INTO processing_jobs (id, asset_kind, asset_id, user_id, status, stages, retry_count, generation, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, 1, ?, ?)`),
			uuid.New().String(), string(kind), assetID.String(), userID.String(),
			string(constants.JobStatusProcessing), string(stagesJSON), now, now)
		if err != nil {
			r.logger.Error("failed to create processing job", "asset_kind", kind, "asset_id", assetID, "error", err)
			return nil, &common.InfraError{Component: "database", Cause: err}
		}
		r.logger.Info("processing job created", "asset_kind", kind, "asset_id", assetID)
		return r.Get(ctx, kind, assetID)
	}

	_, err = r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE processing_jobs
		SET status = ?, stages = ?, error_message = NULL, retry_count = retry_count + 1, generation = generation + 1, updated_at = ?
		WHERE asset_kind = ? AND asset_id = ?`),
		string(constants.JobStatusProcessing), string(stagesJSON), now,
		string(kind), assetID.String())
	if err != nil {
		r.logger.Error("failed to reset processing job", "asset_kind", kind, "asset_id", assetID, "error", err)
		return nil, &common.InfraError{Component: "database", Cause: err}
	}
	r.logger.Info("processing job reset", "asset_kind", kind, "asset_id", assetID, "retry_count", existing.RetryCount+1)
	return r.Get(ctx, kind, assetID)
}

func (r *processingJobRepo) AdvanceStage(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID, outcome StageOutcome, generation int64) (*entity.ProcessingJob, error) {
	job, err := r.Get(ctx, kind, assetID)
	if err != nil {
		return nil, err
	}
	if job.Generation != generation {
		return nil, fmt.Errorf("%w: held %d, current %d", ErrStaleGeneration, generation, job.Generation)
	}
	if _, ok := job.Stages[outcome.Stage]; !ok {
		return nil, common.NewAppError("UNDECLARED_STAGE", outcome.Stage, common.ErrInvalidInput)
	}

	job.Stages[outcome.Stage] = outcome.Status
	job.Status = entity.DeriveStatus(job.Stages)

	var errMsg *string
	if outcome.Status == constants.StageFailed && outcome.Detail != "" {
		detail := fmt.Sprintf("%s: %s", outcome.Stage, outcome.Detail)
		errMsg = &detail
	} else if job.ErrorMessage != nil && job.Status != constants.JobStatusFailed {
		// A recovery reset clears the stale error detail.
		errMsg = nil
	} else {
		errMsg = job.ErrorMessage
	}
	job.ErrorMessage = errMsg

	stagesJSON, err := json.Marshal(job.Stages)
	if err != nil {
		return nil, common.WrapError(err, "encode stages")
	}

	// The generation guard repeats in the WHERE clause so a forced retry
	// that lands between our read and this write still fences us out.
	res, err := r.db.ExecContext(ctx, r.db.rebind(`
		UPDATE processing_jobs
		SET status = ?, stages = ?, error_message = ?, updated_at = ?
		WHERE asset_kind = ? AND asset_id = ? AND generation = ?`),
		string(job.Status), string(stagesJSON), errMsg, time.Now().UTC(),
		string(kind), assetID.String(), generation)
	if err != nil {
		r.logger.Error("failed to advance stage", "asset_kind", kind, "asset_id", assetID, "stage", outcome.Stage, "error", err)
		return nil, &common.InfraError{Component: "database", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: lost the row to a newer generation", ErrStaleGeneration)
	}

	r.logger.Debug("stage advanced",
		"asset_kind", kind, "asset_id", assetID,
		"stage", outcome.Stage, "stage_status", outcome.Status, "job_status", job.Status)
	return job, nil
}

func (r *processingJobRepo) Get(ctx context.Context, kind constants.AssetKind, assetID uuid.UUID) (*entity.ProcessingJob, error) {
	row := r.db.QueryRowContext(ctx, r.db.rebind(`
		SELECT id, asset_kind, asset_id, user_id, status, stages, error_message, retry_count, generation, created_at, updated_at
		FROM processing_jobs WHERE asset_kind = ? AND asset_id = ?`),
		string(kind), assetID.String())

	var (
		job        entity.ProcessingJob
		idS        string
		kindS      string
		assetS     string
		userS      string
		statusS    string
		stagesJSON string
	)
	err := row.Scan(&idS, &kindS, &assetS, &userS, &statusS, &stagesJSON,
		&job.ErrorMessage, &job.RetryCount, &job.Generation, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.NewAppError("PROCESSING_JOB_NOT_FOUND", assetID.String(), common.ErrNotFound)
		}
		r.logger.Error("failed to get processing job", "asset_kind", kind, "asset_id", assetID, "error", err)
		return nil, &common.InfraError{Component: "database", Cause: err}
	}
	job.ID, _ = uuid.Parse(idS)
	job.AssetKind = constants.AssetKind(kindS)
	job.AssetID, _ = uuid.Parse(assetS)
	job.UserID, _ = uuid.Parse(userS)
	job.Status = constants.JobStatus(statusS)
	if err := json.Unmarshal([]byte(stagesJSON), &job.Stages); err != nil {
		return nil, common.WrapError(err, "decode stages")
	}
	return &job, nil
}
