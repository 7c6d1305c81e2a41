package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/curateapp/curate/constants"
)

// ProcessingJob is the durable state-machine instance for one
// (asset kind, asset id) pair. The stage set is declared when the asset is
// queued; the overall status is always derived from the stages.
type ProcessingJob struct {
	ID           uuid.UUID                          `json:"id"`
	AssetKind    constants.AssetKind                `json:"asset_kind"`
	AssetID      uuid.UUID                          `json:"asset_id"`
	UserID       uuid.UUID                          `json:"user_id"`
	Status       constants.JobStatus                `json:"status"`
	Stages       map[string]constants.StageStatus   `json:"stages"`
	ErrorMessage *string                            `json:"error_message,omitempty"`
	RetryCount   int                                `json:"retry_count"`
	// Generation is a fencing token bumped on every (re)queue. Stage writes
	// from a worker holding an older generation are rejected, so a stale
	// run can never overwrite a newer retry's progress.
	Generation int64     `json:"generation"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DeriveStatus computes the overall status from a stage map:
// completed iff every stage is completed, failed iff any stage is failed,
// otherwise processing.
func DeriveStatus(stages map[string]constants.StageStatus) constants.JobStatus {
	allCompleted := len(stages) > 0
	for _, st := range stages {
		if st == constants.StageFailed {
			return constants.JobStatusFailed
		}
		if st != constants.StageCompleted {
			allCompleted = false
		}
	}
	if allCompleted {
		return constants.JobStatusCompleted
	}
	return constants.JobStatusProcessing
}

// QueuePayload is the unit of work handed to the job queue. The queue job
// id equals the asset id, which is what enforces dedup.
type QueuePayload struct {
	AssetID    uuid.UUID `json:"asset_id"`
	UserID     uuid.UUID `json:"user_id"`
	RawKey     string    `json:"raw_key,omitempty"` // blob key of the raw input, empty until fetched
	MimeType   string    `json:"mime_type"`
	Generation int64     `json:"generation"`
}
