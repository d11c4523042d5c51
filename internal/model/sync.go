package model

import "time"

// SyncLockID is the _id of the single process-wide sync lock document.
// The document is created inert at provisioning time and is never deleted;
// only its `active` flag transitions.
const SyncLockID = "sync"

// CutoverLockID is the _id of the lock document raised while a DCC's live
// records are being swapped. Queries pause on it rather than read a
// half-replaced collection.
const CutoverLockID = "cutover"

// SyncLock is the single mutual-exclusion record gating ingestion batches.
type SyncLock struct {
	ID          string     `bson:"_id" json:"id"`
	Active      bool       `bson:"active" json:"active"`
	TaskID      string     `bson:"task_id,omitempty" json:"task_id,omitempty"`
	DCCNames    []string   `bson:"dcc_names,omitempty" json:"dcc_names,omitempty"`
	StartedAt   time.Time  `bson:"started_at,omitempty" json:"started_at,omitempty"`
	CompletedAt *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
}

// Sync task states.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// DCCResult records the outcome of one DCC's ingestion within a batch.
type DCCResult struct {
	DCC        string    `json:"dcc"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Records    int64     `json:"records"`
	FinishedAt time.Time `json:"finished_at"`
}

// SyncTask is the status record of one accepted sync batch. It is kept in the
// task status store and surfaced via the status endpoint; per-DCC failures
// land here without changing the already-returned acceptance.
type SyncTask struct {
	ID          string      `json:"id"`
	DCCNames    []string    `json:"dcc_names"`
	Status      string      `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Results     []DCCResult `json:"results,omitempty"`
}
