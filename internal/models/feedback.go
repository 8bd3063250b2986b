// Package models defines data structures used throughout the feedback sync job.
package models

import (
	"time"
)

// SyncState is the lifecycle state of a feedback record's issue sync.
type SyncState string

const (
	// StatePending means the record has never been synced and carries no error.
	StatePending SyncState = "pending"
	// StateFailed means the last sync attempt failed and the record is waiting
	// for an explicit retry reset.
	StateFailed SyncState = "failed"
	// StateSynced means an external issue exists for the record; terminal.
	StateSynced SyncState = "synced"
	// StateExhausted means the record failed and its retry budget is spent;
	// terminal unless an operator intervenes.
	StateExhausted SyncState = "exhausted"
)

// FeedbackRecord is one user-submitted feedback/bug report document.
//
// Content fields are written by the submission path and never mutated here.
// The sync status fields (IssueURL, IssueNumber, IssueError, RetryCount,
// LastAttempt, LastRetry, ProcessedAt, Status) are mutated only by the sync
// driver. IssueURL transitions nil -> non-nil at most once.
type FeedbackRecord struct {
	ID string `firestore:"-" json:"id"`

	Text         string            `firestore:"text" json:"text"`
	Platform     string            `firestore:"platform" json:"platform"`
	AppVersion   string            `firestore:"appVersion" json:"app_version"`
	BuildNumber  string            `firestore:"buildNumber" json:"build_number"`
	DeviceInfo   map[string]string `firestore:"deviceInfo" json:"device_info"`
	Email        string            `firestore:"email" json:"email"`
	ScreenshotID string            `firestore:"screenshotId" json:"screenshot_id"`
	SubmittedAt  time.Time         `firestore:"submittedAt" json:"submitted_at"`

	IssueURL    *string    `firestore:"issueUrl" json:"issue_url"`
	IssueNumber *int       `firestore:"issueNumber" json:"issue_number"`
	IssueError  *string    `firestore:"issueError" json:"issue_error"`
	RetryCount  int        `firestore:"retryCount" json:"retry_count"`
	LastAttempt *time.Time `firestore:"lastAttempt" json:"last_attempt"`
	LastRetry   *time.Time `firestore:"lastRetry" json:"last_retry"`
	ProcessedAt *time.Time `firestore:"processedAt" json:"processed_at"`
	Status      string     `firestore:"status" json:"status"`
}

// Synced reports whether an external issue already exists for the record.
func (r *FeedbackRecord) Synced() bool {
	return r.IssueURL != nil && *r.IssueURL != ""
}

// State derives the lifecycle state from the status fields. The retry ceiling
// decides when a failed record counts as exhausted.
func (r *FeedbackRecord) State(retryCeiling int) SyncState {
	if r.Synced() {
		return StateSynced
	}
	if r.IssueError == nil || *r.IssueError == "" {
		return StatePending
	}
	if r.RetryCount >= retryCeiling {
		return StateExhausted
	}
	return StateFailed
}

// HasScreenshot reports whether the record references a reassemblable blob.
func (r *FeedbackRecord) HasScreenshot() bool {
	return r.ScreenshotID != ""
}
