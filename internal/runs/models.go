// Package runs implements the durable background run scheduler: an
// idempotent enqueue, a pull-based dispatcher, cooperative cancellation, and
// retry with backoff, all persisted through GORM.
package runs

import (
	"time"
)

// RunStatus is the state of a background run.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// BackgroundRun is the durable record of one long-running release action.
// The persisted row is the single source of truth; any in-memory or cached
// view is advisory.
type BackgroundRun struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	Status          RunStatus `gorm:"size:16;index" json:"status"`
	Action          string    `gorm:"size:32" json:"action"`
	AndroidTrack    string    `gorm:"size:32" json:"androidTrack,omitempty"`
	AttemptCount    int       `json:"attemptCount"`
	MaxAttempts     int       `json:"maxAttempts"`
	Retryable       bool      `json:"retryable"`
	NextRetryAt     time.Time `gorm:"index" json:"nextRetryAt"`
	CancelRequested bool      `json:"cancelRequested"`
	Progress        string    `gorm:"size:128" json:"progress,omitempty"`
	Input           string    `gorm:"type:text" json:"input,omitempty"`
	Output          string    `gorm:"type:text" json:"output,omitempty"`
	Metadata        string    `gorm:"type:text" json:"metadata,omitempty"`
	IdempotencyKey  string    `gorm:"uniqueIndex;size:128" json:"idempotencyKey"`
	LastError       string    `gorm:"type:text" json:"error,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// TableName keeps the table name stable across GORM naming strategies.
func (BackgroundRun) TableName() string { return "background_runs" }

// SupervisorEvent is one append-only audit-log entry, emitted at every run
// state transition. Rows are never updated.
type SupervisorEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Event     string    `gorm:"size:64;index" json:"event"`
	RunID     string    `gorm:"size:36;index" json:"run_id"`
	Stage     string    `gorm:"size:64" json:"stage,omitempty"`
	Summary   string    `gorm:"size:256" json:"summary"`
	Details   string    `gorm:"type:text" json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TableName keeps the table name stable across GORM naming strategies.
func (SupervisorEvent) TableName() string { return "supervisor_events" }
