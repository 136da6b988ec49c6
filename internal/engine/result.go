package engine

import (
	"fmt"
	"time"

	"github.com/mwheeler/reelsync/internal/remote"
)

// RunStatus is the terminal (or in-flight) state of a sync run.
type RunStatus string

const (
	// StatusInProgress marks a run that has started but not finished.
	StatusInProgress RunStatus = "in_progress"
	// StatusSuccess marks a run where every attempted item succeeded.
	StatusSuccess RunStatus = "success"
	// StatusPartial marks a completed run with a mix of successes and
	// failures.
	StatusPartial RunStatus = "partial"
	// StatusFailed marks a run that aborted, or where every attempted
	// item failed.
	StatusFailed RunStatus = "failed"
)

// ItemError records one item that could not be synced.
type ItemError struct {
	Kind    remote.EntityKind `json:"entity_type"`
	ID      string            `json:"entity_id"`
	Message string            `json:"message"`
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, e.Message)
}

// Delta accumulates counts for one step of a run (one entity kind, one
// page sweep, one id list). Steps fold their delta into the run's
// SyncResult exactly once, so abort paths never double-count.
type Delta struct {
	Processed int
	Created   int
	Updated   int
	Skipped   int
	Failed    int
	Errors    []ItemError
}

// AddError counts a failed item and records why it failed.
func (d *Delta) AddError(kind remote.EntityKind, id, message string) {
	d.Failed++
	d.Errors = append(d.Errors, ItemError{Kind: kind, ID: id, Message: message})
}

// SyncResult is the mutable outcome of one sync run. Processed counts
// items handled without error, including skips; Created, Updated and
// Skipped partition it. Failed items are counted separately and listed
// in Errors.
type SyncResult struct {
	JobID       string     `json:"job_id"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Total     int `json:"total_items"`
	Processed int `json:"processed_items"`
	Created   int `json:"created_items"`
	Updated   int `json:"updated_items"`
	Skipped   int `json:"skipped_items"`
	Failed    int `json:"failed_items"`

	Errors []ItemError `json:"errors,omitempty"`

	// FailureMessage carries the abort reason when Status is failed
	// because the run stopped early rather than because items failed.
	FailureMessage string `json:"failure_message,omitempty"`
}

// NewResult starts an in-progress result for the given job id.
func NewResult(jobID string) *SyncResult {
	return &SyncResult{
		JobID:     jobID,
		Status:    StatusInProgress,
		StartedAt: time.Now().UTC(),
	}
}

// Fold adds one step's delta into the run totals.
func (r *SyncResult) Fold(d Delta) {
	r.Processed += d.Processed
	r.Created += d.Created
	r.Updated += d.Updated
	r.Skipped += d.Skipped
	r.Failed += d.Failed
	r.Errors = append(r.Errors, d.Errors...)
}

// Complete finalizes a run that reached the end of its item set and
// derives the terminal status from the counts.
func (r *SyncResult) Complete() {
	now := time.Now().UTC()
	r.CompletedAt = &now
	switch {
	case r.Failed == 0:
		r.Status = StatusSuccess
	case r.Processed == 0:
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
}

// Fail finalizes a run that aborted before completing its item set.
func (r *SyncResult) Fail(message string) {
	now := time.Now().UTC()
	r.CompletedAt = &now
	r.Status = StatusFailed
	r.FailureMessage = message
}

// Duration reports how long the run took, measured to now while the run
// is still in progress.
func (r *SyncResult) Duration() time.Duration {
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(r.StartedAt)
	}
	return time.Since(r.StartedAt)
}

// SuccessRate reports processed / (processed + failed). Call sites
// disagree on what a run that attempted nothing means, so the caller
// supplies the value to report when no items were attempted.
func (r *SyncResult) SuccessRate(zeroAttempted float64) float64 {
	attempted := r.Processed + r.Failed
	if attempted == 0 {
		return zeroAttempted
	}
	return float64(r.Processed) / float64(attempted)
}

// Summary renders a one-line human-readable account of the run.
func (r *SyncResult) Summary() string {
	s := fmt.Sprintf("%s: %d processed (%d created, %d updated, %d skipped), %d failed in %s",
		r.Status, r.Processed, r.Created, r.Updated, r.Skipped, r.Failed,
		r.Duration().Round(time.Millisecond))
	if r.FailureMessage != "" {
		s += ": " + r.FailureMessage
	}
	return s
}
