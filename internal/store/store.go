// Package store defines the document store boundary for feedback records and
// screenshot blobs, and provides the Firestore-backed implementation.
//
// The sync driver and report exporter depend only on the interfaces here, so
// the store can be faked in tests and swapped across deployments.
package store

import (
	"context"

	"feedbacksync/internal/models"
)

// FeedbackStore reads feedback records and writes their sync status fields.
//
// Implementations promise best-effort server-side filtering only: callers get
// the documented ordering (submission time descending) and state filters, but
// the store is allowed to realize them with an in-memory pass when the
// backend cannot combine filters and ordering server-side.
type FeedbackStore interface {
	// ListPending returns up to limit records with no issue and no recorded
	// error, newest submissions first.
	ListPending(ctx context.Context, limit int) ([]*models.FeedbackRecord, error)

	// ListFailedForRetry returns up to limit failed records whose retryCount
	// is strictly below ceiling. Exhausted records are never returned.
	ListFailedForRetry(ctx context.Context, limit, ceiling int) ([]*models.FeedbackRecord, error)

	// ListRecent returns the most recent limit records regardless of sync
	// state, for the report exporter.
	ListRecent(ctx context.Context, limit int) ([]*models.FeedbackRecord, error)

	// MarkSynced records the created issue on the record. Sets issueUrl,
	// issueNumber, status, processedAt (server time) and clears issueError.
	MarkSynced(ctx context.Context, recordID, issueURL string, issueNumber int) error

	// MarkFailed records a failed attempt: sets issueError and lastAttempt
	// (server time) and increments retryCount atomically.
	MarkFailed(ctx context.Context, recordID, message string) error

	// ResetForRetry clears issueError and stamps lastRetry (server time).
	// This is the only transition from failed back to pending; it does not
	// attempt the sync itself.
	ResetForRetry(ctx context.Context, recordID string) error
}

// BlobStore reads screenshot blob metadata and chunks.
type BlobStore interface {
	// Metadata returns the blob's parent document, or a RecordNotFound error
	// when the blob does not exist.
	Metadata(ctx context.Context, blobID string) (*models.BlobMetadata, error)

	// Chunks returns all chunk documents for the blob ordered by index
	// ascending.
	Chunks(ctx context.Context, blobID string) ([]models.BlobChunk, error)
}
