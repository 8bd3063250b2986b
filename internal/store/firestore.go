package store

import (
	"context"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"feedbacksync/internal/config"
	"feedbacksync/internal/models"
	"feedbacksync/internal/observability"
	contextutils "feedbacksync/internal/utils"
)

// overfetchFactor compensates for filters the backend cannot apply
// server-side: the pending and retry queries fetch this many times the
// requested limit and finish filtering in memory.
const overfetchFactor = 4

// Client is the Firestore-backed implementation of FeedbackStore and BlobStore.
type Client struct {
	fs     *firestore.Client
	cfg    config.StoreConfig
	logger *observability.Logger
}

var (
	_ FeedbackStore = (*Client)(nil)
	_ BlobStore     = (*Client)(nil)
)

// NewClient opens a Firestore client with the given service-account document.
func NewClient(ctx context.Context, cfg config.StoreConfig, credentialsJSON []byte, logger *observability.Logger) (*Client, error) {
	if logger == nil {
		panic("store.NewClient: logger is nil")
	}

	fs, err := firestore.NewClient(ctx, cfg.ProjectID, option.WithCredentialsJSON(credentialsJSON))
	if err != nil {
		return nil, contextutils.NewAppErrorWithCause(
			contextutils.ErrorCodeServiceUnavailable,
			contextutils.SeverityFatal,
			"failed to open document store client",
			err.Error(),
			err,
		)
	}

	return &Client{fs: fs, cfg: cfg, logger: logger}, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	return c.fs.Close()
}

// ListPending returns up to limit pending records, newest first.
//
// The backend cannot combine the two null-equality filters with
// submission-time ordering without a composite index, so the query filters on
// issueUrl server-side and finishes the issueError filter and the sort in
// memory over an overfetched page.
func (c *Client) ListPending(ctx context.Context, limit int) (result0 []*models.FeedbackRecord, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "list_pending", observability.AttributeBatchSize(limit))
	defer observability.FinishSpan(span, &err)

	query := c.fs.Collection(c.cfg.FeedbackCollection).
		Where("issueUrl", "==", nil).
		Limit(limit * overfetchFactor)

	records, err := c.collectRecords(ctx, query)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query pending records")
	}

	pending := records[:0]
	for _, r := range records {
		if r.IssueError == nil || *r.IssueError == "" {
			pending = append(pending, r)
		}
	}
	sortBySubmissionDesc(pending)
	if len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// ListFailedForRetry returns up to limit failed records below the retry ceiling.
func (c *Client) ListFailedForRetry(ctx context.Context, limit, ceiling int) (result0 []*models.FeedbackRecord, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "list_failed_for_retry", observability.AttributeBatchSize(limit))
	defer observability.FinishSpan(span, &err)

	// issueError != null would be an inequality filter, which the backend
	// cannot combine with the rest; filter in memory instead.
	query := c.fs.Collection(c.cfg.FeedbackCollection).
		Where("issueUrl", "==", nil).
		Limit(limit * overfetchFactor)

	records, err := c.collectRecords(ctx, query)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query failed records")
	}

	failed := records[:0]
	for _, r := range records {
		if r.IssueError != nil && *r.IssueError != "" && r.RetryCount < ceiling {
			failed = append(failed, r)
		}
	}
	sortBySubmissionDesc(failed)
	if len(failed) > limit {
		failed = failed[:limit]
	}
	return failed, nil
}

// ListRecent returns the most recent limit records regardless of sync state.
func (c *Client) ListRecent(ctx context.Context, limit int) (result0 []*models.FeedbackRecord, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "list_recent", observability.AttributeBatchSize(limit))
	defer observability.FinishSpan(span, &err)

	query := c.fs.Collection(c.cfg.FeedbackCollection).
		OrderBy("submittedAt", firestore.Desc).
		Limit(limit)

	records, err := c.collectRecords(ctx, query)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query recent records")
	}
	return records, nil
}

// MarkSynced writes the success fields in a single update. The processedAt
// stamp is server-assigned.
func (c *Client) MarkSynced(ctx context.Context, recordID, issueURL string, issueNumber int) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "mark_synced", observability.AttributeRecordID(recordID))
	defer observability.FinishSpan(span, &err)

	_, err = c.fs.Collection(c.cfg.FeedbackCollection).Doc(recordID).Update(ctx, []firestore.Update{
		{Path: "issueUrl", Value: issueURL},
		{Path: "issueNumber", Value: issueNumber},
		{Path: "issueError", Value: nil},
		{Path: "status", Value: string(models.StateSynced)},
		{Path: "processedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrStoreUpdate, "failed to mark record %s synced: %w", recordID, err)
	}
	return nil
}

// MarkFailed records the failure and bumps the retry counter atomically.
func (c *Client) MarkFailed(ctx context.Context, recordID, message string) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "mark_failed", observability.AttributeRecordID(recordID))
	defer observability.FinishSpan(span, &err)

	_, err = c.fs.Collection(c.cfg.FeedbackCollection).Doc(recordID).Update(ctx, []firestore.Update{
		{Path: "issueError", Value: message},
		{Path: "status", Value: string(models.StateFailed)},
		{Path: "lastAttempt", Value: firestore.ServerTimestamp},
		{Path: "retryCount", Value: firestore.Increment(1)},
	})
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrStoreUpdate, "failed to mark record %s failed: %w", recordID, err)
	}
	return nil
}

// ResetForRetry re-arms a failed record without attempting the sync.
func (c *Client) ResetForRetry(ctx context.Context, recordID string) (err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "reset_for_retry", observability.AttributeRecordID(recordID))
	defer observability.FinishSpan(span, &err)

	_, err = c.fs.Collection(c.cfg.FeedbackCollection).Doc(recordID).Update(ctx, []firestore.Update{
		{Path: "issueError", Value: nil},
		{Path: "status", Value: string(models.StatePending)},
		{Path: "lastRetry", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		return contextutils.WrapErrorf(contextutils.ErrStoreUpdate, "failed to reset record %s for retry: %w", recordID, err)
	}
	return nil
}

// Metadata returns the screenshot blob's parent document.
func (c *Client) Metadata(ctx context.Context, blobID string) (result0 *models.BlobMetadata, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "blob_metadata", observability.AttributeBlobID(blobID))
	defer observability.FinishSpan(span, &err)

	doc, err := c.fs.Collection(c.cfg.ScreenshotsCollection).Doc(blobID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "screenshot blob %s not found", blobID)
		}
		return nil, contextutils.WrapErrorf(contextutils.ErrStoreQuery, "failed to fetch blob metadata %s: %w", blobID, err)
	}

	var meta models.BlobMetadata
	if err := doc.DataTo(&meta); err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrStoreQuery, "failed to decode blob metadata %s: %w", blobID, err)
	}
	return &meta, nil
}

// Chunks returns the blob's chunk documents ordered by index ascending.
func (c *Client) Chunks(ctx context.Context, blobID string) (result0 []models.BlobChunk, err error) {
	ctx, span := observability.TraceStoreFunction(ctx, "blob_chunks", observability.AttributeBlobID(blobID))
	defer observability.FinishSpan(span, &err)

	iter := c.fs.Collection(c.cfg.ScreenshotsCollection).Doc(blobID).
		Collection(c.cfg.ChunksCollection).
		OrderBy("index", firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var chunks []models.BlobChunk
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrStoreQuery, "failed to iterate chunks for blob %s: %w", blobID, err)
		}

		var chunk models.BlobChunk
		if err := doc.DataTo(&chunk); err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrStoreQuery, "failed to decode chunk for blob %s: %w", blobID, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// collectRecords drains a query iterator into decoded records.
func (c *Client) collectRecords(ctx context.Context, query firestore.Query) ([]*models.FeedbackRecord, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var records []*models.FeedbackRecord
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, contextutils.WrapErrorf(contextutils.ErrStoreQuery, "query iteration failed: %w", err)
		}

		var rec models.FeedbackRecord
		if err := doc.DataTo(&rec); err != nil {
			// A malformed document must not poison the whole batch.
			c.logger.Warn(ctx, "Skipping undecodable feedback record", map[string]interface{}{
				"record_id": doc.Ref.ID,
				"error":     err.Error(),
			})
			continue
		}
		rec.ID = doc.Ref.ID
		records = append(records, &rec)
	}
	return records, nil
}

func sortBySubmissionDesc(records []*models.FeedbackRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SubmittedAt.After(records[j].SubmittedAt)
	})
}
