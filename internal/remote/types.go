package remote

import (
	"errors"
	"time"
)

// Remote status values reported in SyncProgress.Status
const (
	// StatusActive means the server is advancing the job
	StatusActive = "active"

	// StatusStale means the server stopped advancing the job without
	// terminating it (no forward progress for 2+ hours)
	StatusStale = "stale"

	// StatusIdle means no job exists server-side
	StatusIdle = "idle"

	// StatusCompleted means the job finished successfully
	StatusCompleted = "completed"

	// StatusError means the job failed server-side
	StatusError = "error"
)

// ErrAlreadyRunning is returned by StartSync when the server rejects the
// start with 409 Conflict. The server is the final arbiter of concurrency,
// so callers treat this as "attach", never as a failure.
var ErrAlreadyRunning = errors.New("sync already running on server")

// ErrRemoteReported marks a job the server reports as failed
var ErrRemoteReported = errors.New("sync job failed server-side")

// ErrStaleSession marks a job the server stopped advancing but did not
// explicitly terminate
var ErrStaleSession = errors.New("sync session is stale")

// SyncProgress is the authoritative job snapshot inside a monitoring-status
// response. It is read-only client-side and always wins over local estimates.
type SyncProgress struct {
	IsActive           bool    `json:"is_active"`
	Status             string  `json:"status"`
	SyncType           string  `json:"sync_type"`
	StartTime          string  `json:"start_time,omitempty"`
	ElapsedTime        string  `json:"elapsed_time,omitempty"`
	ProgressPercentage float64 `json:"progress_percentage"`

	// ActualSynced supersedes EmailsProcessed where the server provides it
	ActualSynced    *int `json:"actual_synced,omitempty"`
	EmailsProcessed int  `json:"emails_processed"`

	EmailsPerMinute     float64 `json:"emails_per_minute"`
	CurrentBatch        int     `json:"current_batch"`
	TotalBatches        int     `json:"total_batches"`
	ErrorCount          int     `json:"error_count"`
	EstimatedCompletion string  `json:"estimated_completion,omitempty"`
	LastError           string  `json:"last_error,omitempty"`
	BackendStatus       string  `json:"backend_status,omitempty"`
}

// Synced returns the authoritative synced count, preferring actual_synced
// over emails_processed
func (p *SyncProgress) Synced() int {
	if p.ActualSynced != nil {
		return *p.ActualSynced
	}
	return p.EmailsProcessed
}

// StartedAt parses the remote start time, reporting whether one was present
func (p *SyncProgress) StartedAt() (time.Time, bool) {
	if p.StartTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, p.StartTime)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Terminal reports whether the remote status is a terminal one
func (p *SyncProgress) Terminal() bool {
	return p.Status == StatusCompleted || p.Status == StatusError
}

// MonitoringStatus is the full monitoring-status response envelope
type MonitoringStatus struct {
	SyncProgress  SyncProgress   `json:"sync_progress"`
	DatabaseStats map[string]any `json:"database_stats,omitempty"`
	ActivityStats map[string]any `json:"activity_stats,omitempty"`
	Timestamp     string         `json:"timestamp,omitempty"`
}

// StartRequest is the start-sync command payload
type StartRequest struct {
	SyncType  string `json:"sync_type"`
	MaxEmails int    `json:"max_emails"`
	StartDate string `json:"start_date,omitempty"`
}

// StartResponse is the start-sync success payload
type StartResponse struct {
	Message      string `json:"message,omitempty"`
	EmailsSynced int    `json:"emails_synced"`
	Status       string `json:"status"`
}

// StopResponse is the stop-sync response payload
type StopResponse struct {
	Success     bool   `json:"success"`
	SyncStopped bool   `json:"sync_stopped,omitempty"`
	Message     string `json:"message,omitempty"`
}

// ResumeInfo describes whether an abandoned job can be resumed
type ResumeInfo struct {
	CanResume    bool           `json:"can_resume"`
	ResumeReason string         `json:"resume_reason,omitempty"`
	ResumeConfig map[string]any `json:"resume_config,omitempty"`
}

// ResumeInfoResponse is the resume-info response envelope
type ResumeInfoResponse struct {
	Success    bool       `json:"success"`
	ResumeInfo ResumeInfo `json:"resume_info"`
	Error      string     `json:"error,omitempty"`
}

// ResumeResponse is the resume-sync response payload
type ResumeResponse struct {
	Success      bool           `json:"success"`
	ResumeConfig map[string]any `json:"resume_config,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// conflictBody is the 409 response body shape
type conflictBody struct {
	Error string `json:"error"`
}
