package constants

// JobStatus is the canonical overall status for rows in processing_job.
// It is derived from the per-stage statuses and never set independently.
type JobStatus string

// Stable values (store these exact strings in DB).
const (
	JobStatusProcessing JobStatus = "processing" // at least one stage still pending or running
	JobStatusCompleted  JobStatus = "completed"  // every declared stage completed
	JobStatusFailed     JobStatus = "failed"     // at least one declared stage failed
)

// Terminal reports whether the overall status can no longer change
// without a retry resetting the stage set.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// StageStatus tracks one named unit of work inside a processing job.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// Stage names declared by the pipelines.
const (
	StageExtract = "extract"
	StagePersist = "persist"
	StagePDF     = "pdf"
	StageTags    = "tags"
)

// BookmarkStages is the stage set declared when a bookmark is queued.
func BookmarkStages() []string {
	return []string{StageExtract, StagePersist, StagePDF, StageTags}
}

// DocumentStages is the stage set declared when a document is queued.
func DocumentStages() []string {
	return []string{StageExtract, StagePersist}
}
