// Package worker drives the batch passes over feedback records: the sync run
// that creates external issues and the read-only report export.
package worker

import (
	"context"
	"encoding/base64"
	"fmt"

	"feedbacksync/internal/blob"
	"feedbacksync/internal/config"
	"feedbacksync/internal/models"
	"feedbacksync/internal/observability"
	"feedbacksync/internal/services"
	"feedbacksync/internal/store"
	contextutils "feedbacksync/internal/utils"
)

// IssueTracker is the slice of the issue-tracker client the sync driver
// needs. Satisfied by services.GitHubService.
type IssueTracker interface {
	CreateIssue(ctx context.Context, title, body string, labels []string) (*services.IssueResult, error)
	CreateGist(ctx context.Context, filename, description, content string) (*services.GistResult, error)
}

// SyncStats summarizes one sync run.
type SyncStats struct {
	Processed int `json:"processed"`
	Synced    int `json:"synced"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Rearmed   int `json:"rearmed"`
}

// Syncer runs the feedback-to-issue state machine: it queries pending
// records, creates one issue per record, writes the linkage back, and
// re-arms failed records that still have retry budget.
type Syncer struct {
	feedback    store.FeedbackStore
	reassembler *blob.Reassembler
	persister   *blob.Persister
	tracker     IssueTracker
	cfg         config.SyncConfig
	logger      *observability.Logger
}

// NewSyncer creates a new Syncer instance. The persister may be nil, in which
// case screenshots are uploaded but not kept locally.
func NewSyncer(
	feedback store.FeedbackStore,
	reassembler *blob.Reassembler,
	persister *blob.Persister,
	tracker IssueTracker,
	cfg config.SyncConfig,
	logger *observability.Logger,
) *Syncer {
	if feedback == nil {
		panic("NewSyncer: feedback store is nil")
	}
	if reassembler == nil {
		panic("NewSyncer: reassembler is nil")
	}
	if tracker == nil {
		panic("NewSyncer: tracker is nil")
	}
	if logger == nil {
		panic("NewSyncer: logger is nil")
	}
	return &Syncer{
		feedback:    feedback,
		reassembler: reassembler,
		persister:   persister,
		tracker:     tracker,
		cfg:         cfg,
		logger:      logger,
	}
}

// Run performs one full pass: process pending records, then re-arm failed
// records below the retry ceiling. Per-record failures are recorded on the
// record and never abort the batch; only store query failures for the batches
// themselves are returned.
func (s *Syncer) Run(ctx context.Context) (result0 *SyncStats, err error) {
	ctx, span := observability.TraceSyncFunction(ctx, "run",
		observability.AttributeBatchSize(s.cfg.PendingBatchSize),
	)
	defer observability.FinishSpan(span, &err)

	stats := &SyncStats{}

	records, err := s.feedback.ListPending(ctx, s.cfg.PendingBatchSize)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query pending feedback records")
	}

	s.logger.Info(ctx, "Starting sync run", map[string]interface{}{
		"pending":       len(records),
		"retry_ceiling": s.cfg.RetryCeiling,
	})

	// Sequential on purpose. Parallel fan-out would complicate issue-tracker
	// rate limiting for no benefit at this batch size.
	failedThisRun := map[string]bool{}
	for _, rec := range records {
		if rec.Synced() {
			// A stale query can still hand back an already-synced record;
			// the issue URL is written at most once, so never touch it again.
			stats.Skipped++
			continue
		}

		stats.Processed++
		if procErr := s.processRecord(ctx, rec); procErr != nil {
			stats.Failed++
			failedThisRun[rec.ID] = true
			s.recordFailure(ctx, rec, procErr)
			continue
		}
		stats.Synced++
	}

	rearmed, err := s.rearmFailed(ctx, failedThisRun)
	if err != nil {
		return nil, err
	}
	stats.Rearmed = rearmed

	s.logger.Info(ctx, "Sync run complete", map[string]interface{}{
		"processed": stats.Processed,
		"synced":    stats.Synced,
		"failed":    stats.Failed,
		"skipped":   stats.Skipped,
		"rearmed":   stats.Rearmed,
	})

	return stats, nil
}

// processRecord takes one pending record through reassembly, upload,
// formatting, issue creation and the success write-back. A non-nil return
// marks the record failed; blob unavailability and local persistence problems
// are soft and only downgrade the issue to one without a screenshot.
func (s *Syncer) processRecord(ctx context.Context, rec *models.FeedbackRecord) (err error) {
	ctx, span := observability.TraceSyncFunction(ctx, "process_record",
		observability.AttributeRecordID(rec.ID),
	)
	defer observability.FinishSpan(span, &err)

	screenshot, err := s.attachScreenshot(ctx, rec)
	if err != nil {
		return err
	}

	issue := services.FormatIssue(rec, screenshot)

	result, err := s.tracker.CreateIssue(ctx, issue.Title, issue.Body, issue.Labels)
	if err != nil {
		return contextutils.WrapErrorf(err, "failed to create issue for record %s", rec.ID)
	}

	if err := s.feedback.MarkSynced(ctx, rec.ID, result.URL, result.Number); err != nil {
		return contextutils.WrapErrorf(err, "issue %d created but status write-back failed for record %s", result.Number, rec.ID)
	}

	s.logger.Info(ctx, "Feedback record synced", map[string]interface{}{
		"record_id":    rec.ID,
		"issue_url":    result.URL,
		"issue_number": result.Number,
	})

	return nil
}

// attachScreenshot reassembles and uploads the record's screenshot, if any.
// Returns (nil, nil) when the record has no blob or the blob is unavailable;
// the issue is then created without an image. Store and upload failures are
// real errors and fail the record.
func (s *Syncer) attachScreenshot(ctx context.Context, rec *models.FeedbackRecord) (*services.ScreenshotRef, error) {
	if !rec.HasScreenshot() {
		return nil, nil
	}

	b, err := s.reassembler.Reassemble(ctx, rec.ScreenshotID)
	if err != nil {
		if blob.IsUnavailable(err) {
			s.logger.Warn(ctx, "Screenshot unavailable, syncing without it", map[string]interface{}{
				"record_id": rec.ID,
				"blob_id":   rec.ScreenshotID,
				"error":     err.Error(),
			})
			return nil, nil
		}
		return nil, contextutils.WrapErrorf(err, "failed to reassemble screenshot for record %s", rec.ID)
	}

	if s.persister != nil {
		if _, perr := s.persister.Persist(ctx, b, rec.ID); perr != nil {
			s.logger.Warn(ctx, "Failed to persist screenshot locally", map[string]interface{}{
				"record_id": rec.ID,
				"error":     perr.Error(),
			})
		}
	}

	// The image is far too large to inline into the issue body as base64, so
	// it is hosted in a secret gist and referenced by URL.
	filename := rec.ID + b.Extension() + ".b64"
	gist, err := s.tracker.CreateGist(ctx, filename,
		fmt.Sprintf("Screenshot for feedback %s", rec.ID),
		base64.StdEncoding.EncodeToString(b.Data))
	if err != nil {
		return nil, contextutils.WrapErrorf(err, "failed to upload screenshot for record %s", rec.ID)
	}

	return &services.ScreenshotRef{ImageURL: gist.RawURL, PageURL: gist.URL}, nil
}

// recordFailure writes the failure onto the record. This is the transition to
// the failed state; it also spends one unit of the retry budget.
func (s *Syncer) recordFailure(ctx context.Context, rec *models.FeedbackRecord, procErr error) {
	s.logger.Error(ctx, "Failed to sync feedback record", procErr, map[string]interface{}{
		"record_id":   rec.ID,
		"retry_count": rec.RetryCount,
	})

	if err := s.feedback.MarkFailed(ctx, rec.ID, procErr.Error()); err != nil {
		// Nothing left to record the failure on. Log and move to the next
		// record; the record stays pending and is retried on a later run.
		s.logger.Error(ctx, "Failed to record sync failure", err, map[string]interface{}{
			"record_id": rec.ID,
		})
	}
}

// rearmFailed moves failed records below the retry ceiling back to pending by
// clearing their error. It never attempts the sync itself; re-armed records
// are picked up by the pending query on the next run. Records that failed
// during the current run are excluded so a failure stays visible on the
// record for at least one full run.
func (s *Syncer) rearmFailed(ctx context.Context, exclude map[string]bool) (result0 int, err error) {
	ctx, span := observability.TraceSyncFunction(ctx, "rearm_failed",
		observability.AttributeBatchSize(s.cfg.RetryBatchSize),
	)
	defer observability.FinishSpan(span, &err)

	records, err := s.feedback.ListFailedForRetry(ctx, s.cfg.RetryBatchSize, s.cfg.RetryCeiling)
	if err != nil {
		return 0, contextutils.WrapError(err, "failed to query failed feedback records")
	}

	rearmed := 0
	for _, rec := range records {
		if exclude[rec.ID] {
			continue
		}
		if err := s.feedback.ResetForRetry(ctx, rec.ID); err != nil {
			s.logger.Error(ctx, "Failed to re-arm feedback record", err, map[string]interface{}{
				"record_id": rec.ID,
			})
			continue
		}
		rearmed++
		s.logger.Info(ctx, "Re-armed failed feedback record", map[string]interface{}{
			"record_id":   rec.ID,
			"retry_count": rec.RetryCount,
		})
	}

	return rearmed, nil
}
