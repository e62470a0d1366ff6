// Package session owns the client-side record of the in-flight sync job.
// All other components read it through snapshots; mutation goes through the
// Store's transition methods so the single-writer invariant holds.
package session

import "time"

// Type identifies which kind of sync job a session tracks
type Type string

const (
	// TypeQuick is a bounded sync of the most recent emails
	TypeQuick Type = "quick"

	// TypeDateRange syncs emails from a given start date forward
	TypeDateRange Type = "date-range"

	// TypeFull is an unbounded (or high-ceiling) archive sync
	TypeFull Type = "full"

	// TypeManual is a user-triggered one-off sync
	TypeManual Type = "manual"

	// TypeBackground is the server's own scheduled sync, observed rather
	// than started by this client
	TypeBackground Type = "background"
)

// Valid reports whether t is a known sync type
func (t Type) Valid() bool {
	switch t {
	case TypeQuick, TypeDateRange, TypeFull, TypeManual, TypeBackground:
		return true
	}
	return false
}

// Origin records whether this client started the job or attached to one
// started elsewhere. Informational only; both mean the session is running.
type Origin string

const (
	// OriginStarted means this client issued the start command
	OriginStarted Origin = "started"

	// OriginAttached means the client observed an already-running job
	OriginAttached Origin = "attached"
)

// Outcome is the terminal state of a finished session
type Outcome string

const (
	// OutcomeCompleted means the job finished successfully
	OutcomeCompleted Outcome = "completed"

	// OutcomeFailed means the server reported the job failed
	OutcomeFailed Outcome = "failed"

	// OutcomeStopped means the user stopped the job
	OutcomeStopped Outcome = "stopped"

	// OutcomeStale means the server stopped advancing the job without
	// terminating it
	OutcomeStale Outcome = "stale"
)

// Session describes the in-flight (or just-finished) sync job
type Session struct {
	ID     string `json:"id"`
	Type   Type   `json:"type"`
	Origin Origin `json:"origin"`

	// StartTime is set once at acceptance
	StartTime time.Time `json:"start_time"`

	// TotalTarget is the requested email ceiling
	TotalTarget int `json:"total_target"`

	// Counters; non-decreasing while running except when the authoritative
	// remote snapshot overwrites them
	EmailsSynced int `json:"emails_synced"`
	ErrorCount   int `json:"error_count"`
	BatchCount   int `json:"batch_count"`

	// Running is true from acceptance until a terminal event
	Running bool `json:"running"`

	// Outcome is set by Finalize or MarkStale; empty while running
	Outcome Outcome `json:"outcome,omitempty"`

	LastError string `json:"last_error,omitempty"`

	// EndpointUsed is the control endpoint that accepted the start command
	EndpointUsed string `json:"endpoint_used,omitempty"`

	// Derived display fields, recomputed by the monitor
	Elapsed             time.Duration `json:"elapsed"`
	EmailsPerMinute     float64       `json:"emails_per_minute"`
	ProgressPercent     float64       `json:"progress_percent"`
	EstimatedCompletion *time.Time    `json:"estimated_completion,omitempty"`
	Stalled             bool          `json:"stalled,omitempty"`
}
