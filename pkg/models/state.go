package models

import "time"

// RunStatus represents the overall state of a report run
type RunStatus string

const (
	RunPending             RunStatus = "pending"
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
	RunFailed              RunStatus = "failed"
	RunCancelled           RunStatus = "cancelled"
)

// Terminal reports whether the run reached a final state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunCompletedWithErrors, RunFailed, RunCancelled:
		return true
	}
	return false
}

// RunState is the persisted form of a RequestSession. It is written
// atomically on every transition so an interrupted run can be resumed.
type RunState struct {
	RequestID   string    `json:"request_id"`
	CreatedAt   time.Time `json:"created_at"`
	LastSavedAt time.Time `json:"last_saved_at"`

	Status RunStatus `json:"status"`

	// TOC planning (complete = the section list below is authoritative)
	TOCComplete bool            `json:"toc_complete"`
	TOC         TableOfContents `json:"toc"`

	// Per-section progress, in TOC order
	Sections []Section `json:"sections"`

	// Warnings that degraded but did not fail the run (polish fallbacks,
	// PDF conversion failure)
	Warnings []string `json:"warnings,omitempty"`

	// Statistics (cumulative)
	Stats SessionStats `json:"stats"`

	// Configuration snapshot for mismatch detection on resume
	ConfigHash string `json:"config_hash"`

	// Rendered outputs, set once rendering succeeds
	Outputs Outputs `json:"outputs,omitempty"`
}

// FailedSectionIDs returns the ids of sections that ended in failure,
// in TOC order.
func (r *RunState) FailedSectionIDs() []string {
	var ids []string
	for _, s := range r.Sections {
		if s.Status == SectionFailed {
			ids = append(ids, s.ID)
		}
	}
	return ids
}
