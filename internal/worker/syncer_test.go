package worker

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"feedbacksync/internal/blob"
	"feedbacksync/internal/config"
	"feedbacksync/internal/models"
	"feedbacksync/internal/observability"
	"feedbacksync/internal/services"
	contextutils "feedbacksync/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory FeedbackStore that mimics the real store's state
// transitions and records which mutations were invoked.
type fakeStore struct {
	records map[string]*models.FeedbackRecord

	syncedCalls []string
	failedCalls []string
	resetCalls  []string

	// pendingOverride, when set, is returned verbatim from ListPending to
	// simulate a stale query handing back already-processed records.
	pendingOverride []*models.FeedbackRecord

	pendingErr error
	retryErr   error
}

func newFakeStore(records ...*models.FeedbackRecord) *fakeStore {
	s := &fakeStore{records: map[string]*models.FeedbackRecord{}}
	for _, rec := range records {
		s.records[rec.ID] = rec
	}
	return s
}

func (s *fakeStore) list(limit int, keep func(*models.FeedbackRecord) bool) []*models.FeedbackRecord {
	var out []*models.FeedbackRecord
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *fakeStore) ListPending(_ context.Context, limit int) ([]*models.FeedbackRecord, error) {
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	if s.pendingOverride != nil {
		return s.pendingOverride, nil
	}
	return s.list(limit, func(r *models.FeedbackRecord) bool {
		return r.IssueURL == nil && r.IssueError == nil
	}), nil
}

func (s *fakeStore) ListFailedForRetry(_ context.Context, limit, ceiling int) ([]*models.FeedbackRecord, error) {
	if s.retryErr != nil {
		return nil, s.retryErr
	}
	return s.list(limit, func(r *models.FeedbackRecord) bool {
		return r.IssueURL == nil && r.IssueError != nil && r.RetryCount < ceiling
	}), nil
}

func (s *fakeStore) ListRecent(_ context.Context, limit int) ([]*models.FeedbackRecord, error) {
	return s.list(limit, func(*models.FeedbackRecord) bool { return true }), nil
}

func (s *fakeStore) MarkSynced(_ context.Context, recordID, issueURL string, issueNumber int) error {
	s.syncedCalls = append(s.syncedCalls, recordID)
	rec := s.records[recordID]
	rec.IssueURL = &issueURL
	rec.IssueNumber = &issueNumber
	rec.IssueError = nil
	rec.Status = "synced"
	now := time.Now()
	rec.ProcessedAt = &now
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, recordID, message string) error {
	s.failedCalls = append(s.failedCalls, recordID)
	rec := s.records[recordID]
	rec.IssueError = &message
	rec.RetryCount++
	now := time.Now()
	rec.LastAttempt = &now
	return nil
}

func (s *fakeStore) ResetForRetry(_ context.Context, recordID string) error {
	s.resetCalls = append(s.resetCalls, recordID)
	rec := s.records[recordID]
	rec.IssueError = nil
	now := time.Now()
	rec.LastRetry = &now
	return nil
}

// fakeBlobStore backs the reassembler in syncer tests.
type fakeBlobStore struct {
	meta   map[string]*models.BlobMetadata
	chunks map[string][]models.BlobChunk
}

func (f *fakeBlobStore) Metadata(_ context.Context, blobID string) (*models.BlobMetadata, error) {
	meta, ok := f.meta[blobID]
	if !ok {
		return nil, contextutils.WrapErrorf(contextutils.ErrRecordNotFound, "blob %s not found", blobID)
	}
	return meta, nil
}

func (f *fakeBlobStore) Chunks(_ context.Context, blobID string) ([]models.BlobChunk, error) {
	return f.chunks[blobID], nil
}

type createdIssue struct {
	title  string
	body   string
	labels []string
}

type fakeTracker struct {
	issues   []createdIssue
	gists    []string
	issueErr error
	gistErr  error
}

func (f *fakeTracker) CreateIssue(_ context.Context, title, body string, labels []string) (*services.IssueResult, error) {
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	f.issues = append(f.issues, createdIssue{title: title, body: body, labels: labels})
	n := len(f.issues)
	return &services.IssueResult{
		URL:    "https://github.com/acme/feedback/issues/1",
		Number: n,
		NodeID: "I_node",
	}, nil
}

func (f *fakeTracker) CreateGist(_ context.Context, filename, _, _ string) (*services.GistResult, error) {
	if f.gistErr != nil {
		return nil, f.gistErr
	}
	f.gists = append(f.gists, filename)
	return &services.GistResult{
		URL:    "https://gist.github.com/abc",
		RawURL: "https://gist.githubusercontent.com/raw/abc/" + filename,
	}, nil
}

func workerTestLogger() *observability.Logger {
	return observability.NewLogger(&config.OpenTelemetryConfig{EnableLogging: false})
}

func testSyncConfig() config.SyncConfig {
	return config.SyncConfig{PendingBatchSize: 50, RetryBatchSize: 50, RetryCeiling: 3}
}

// blobFixture registers a valid screenshot under blobID, split into the given
// number of base64 chunks.
func blobFixture(blobs *fakeBlobStore, blobID string, data []byte, numChunks int) {
	encoded := base64.StdEncoding.EncodeToString(data)
	size := (len(encoded) + numChunks - 1) / numChunks
	var chunks []models.BlobChunk
	for i := 0; i < len(encoded); i += size {
		end := i + size
		if end > len(encoded) {
			end = len(encoded)
		}
		chunks = append(chunks, models.BlobChunk{Index: len(chunks), Data: encoded[i:end]})
	}
	blobs.meta[blobID] = &models.BlobMetadata{TotalChunks: len(chunks), MimeType: "image/png"}
	blobs.chunks[blobID] = chunks
}

func pendingRecord(id string, submittedAt time.Time) *models.FeedbackRecord {
	return &models.FeedbackRecord{
		ID:          id,
		Text:        "something broke",
		Platform:    "iOS 17",
		SubmittedAt: submittedAt,
	}
}

func newTestSyncer(feedback *fakeStore, blobs *fakeBlobStore, tracker IssueTracker) *Syncer {
	logger := workerTestLogger()
	return NewSyncer(feedback, blob.NewReassembler(blobs, logger), nil, tracker, testSyncConfig(), logger)
}

func TestSyncerRun_SuccessWithScreenshot(t *testing.T) {
	rec := pendingRecord("rec-1", time.Now())
	rec.ScreenshotID = "blob-1"
	feedback := newFakeStore(rec)

	blobs := &fakeBlobStore{meta: map[string]*models.BlobMetadata{}, chunks: map[string][]models.BlobChunk{}}
	blobFixture(blobs, "blob-1", []byte("fake png bytes"), 3)

	tracker := &fakeTracker{}
	stats, err := newTestSyncer(feedback, blobs, tracker).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Synced)
	assert.Equal(t, 0, stats.Failed)

	require.Len(t, tracker.issues, 1)
	require.Len(t, tracker.gists, 1)
	assert.Contains(t, tracker.issues[0].body, "![Screenshot](https://gist.githubusercontent.com/raw/abc/")
	assert.Contains(t, tracker.issues[0].labels, "ios")

	require.Equal(t, []string{"rec-1"}, feedback.syncedCalls)
	assert.Empty(t, feedback.failedCalls)
	require.NotNil(t, rec.IssueURL)
	assert.Nil(t, rec.IssueError)
	require.NotNil(t, rec.IssueNumber)
	assert.NotNil(t, rec.ProcessedAt)
}

func TestSyncerRun_TrackerFailureMarksRecordFailed(t *testing.T) {
	rec := pendingRecord("rec-1", time.Now())
	feedback := newFakeStore(rec)
	tracker := &fakeTracker{issueErr: contextutils.WrapError(contextutils.ErrIssueTracker, "api down")}
	blobs := &fakeBlobStore{meta: map[string]*models.BlobMetadata{}, chunks: map[string][]models.BlobChunk{}}

	stats, err := newTestSyncer(feedback, blobs, tracker).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Synced)
	require.Equal(t, []string{"rec-1"}, feedback.failedCalls)
	assert.Nil(t, rec.IssueURL)
	require.NotNil(t, rec.IssueError)
	assert.Equal(t, 1, rec.RetryCount)
	assert.NotNil(t, rec.LastAttempt)
}

func TestSyncerRun_FailureDoesNotAbortBatch(t *testing.T) {
	bad := pendingRecord("rec-bad", time.Now())
	bad.ScreenshotID = "blob-missing-store-error"
	good := pendingRecord("rec-good", time.Now().Add(-time.Minute))
	feedback := newFakeStore(bad, good)

	// The bad record fails at gist upload; the good one has no screenshot.
	blobs := &fakeBlobStore{meta: map[string]*models.BlobMetadata{}, chunks: map[string][]models.BlobChunk{}}
	blobFixture(blobs, "blob-missing-store-error", []byte("img"), 1)
	tracker := &fakeTracker{gistErr: contextutils.WrapError(contextutils.ErrIssueTracker, "gist api down")}

	stats, err := newTestSyncer(feedback, blobs, tracker).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Synced)
	assert.Equal(t, []string{"rec-bad"}, feedback.failedCalls)
	assert.Equal(t, []string{"rec-good"}, feedback.syncedCalls)
}

func TestSyncerRun_UnavailableBlobIsSoft(t *testing.T) {
	rec := pendingRecord("rec-1", time.Now())
	rec.ScreenshotID = "blob-gone"
	feedback := newFakeStore(rec)
	blobs := &fakeBlobStore{meta: map[string]*models.BlobMetadata{}, chunks: map[string][]models.BlobChunk{}}
	tracker := &fakeTracker{}

	stats, err := newTestSyncer(feedback, blobs, tracker).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Synced)
	require.Len(t, tracker.issues, 1)
	assert.Contains(t, tracker.issues[0].body, "could not be attached")
	assert.Empty(t, tracker.gists)
	assert.Equal(t, []string{"rec-1"}, feedback.syncedCalls)
}

func TestSyncerRun_SkipsAlreadySynced(t *testing.T) {
	url := "https://github.com/acme/feedback/issues/7"
	rec := pendingRecord("rec-1", time.Now())
	rec.IssueURL = &url
	feedback := newFakeStore(rec)
	feedback.pendingOverride = []*models.FeedbackRecord{rec}
	tracker := &fakeTracker{}
	blobs := &fakeBlobStore{meta: map[string]*models.BlobMetadata{}, chunks: map[string][]models.BlobChunk{}}

	stats, err := newTestSyncer(feedback, blobs, tracker).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 0, stats.Processed)
	assert.Empty(t, tracker.issues)
	assert.Empty(t, feedback.syncedCalls)
	assert.Equal(t, url, *rec.IssueURL, "issueUrl must never be overwritten once set")
}

func TestSyncerRun_RearmBelowCeilingOnly(t *testing.T) {
	msg := "previous failure"
	eligible := pendingRecord("rec-eligible", time.Now())
	eligible.IssueError = &msg
	eligible.RetryCount = 2 // ceiling is 3

	exhausted := pendingRecord("rec-exhausted", time.Now())
	exhausted.IssueError = &msg
	exhausted.RetryCount = 3

	feedback := newFakeStore(eligible, exhausted)
	tracker := &fakeTracker{}
	blobs := &fakeBlobStore{meta: map[string]*models.BlobMetadata{}, chunks: map[string][]models.BlobChunk{}}

	stats, err := newTestSyncer(feedback, blobs, tracker).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Rearmed)
	assert.Equal(t, []string{"rec-eligible"}, feedback.resetCalls)
	assert.Nil(t, eligible.IssueError)
	assert.NotNil(t, eligible.LastRetry)
	assert.Equal(t, 2, eligible.RetryCount, "re-arming must not touch the retry count")

	require.NotNil(t, exhausted.IssueError)
	assert.Nil(t, exhausted.LastRetry)
}

func TestSyncerRun_RearmedRecordSyncsOnNextRun(t *testing.T) {
	msg := "transient failure"
	rec := pendingRecord("rec-1", time.Now())
	rec.IssueError = &msg
	rec.RetryCount = 1
	feedback := newFakeStore(rec)
	tracker := &fakeTracker{}
	blobs := &fakeBlobStore{meta: map[string]*models.BlobMetadata{}, chunks: map[string][]models.BlobChunk{}}
	s := newTestSyncer(feedback, blobs, tracker)

	// First run only re-arms; the sync happens on the following run.
	stats, err := s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Synced)
	assert.Equal(t, 1, stats.Rearmed)
	assert.Empty(t, tracker.issues)

	stats, err = s.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Synced)
	require.Len(t, tracker.issues, 1)
}

func TestSyncerRun_PendingQueryErrorIsFatal(t *testing.T) {
	feedback := newFakeStore()
	feedback.pendingErr = contextutils.WrapError(contextutils.ErrStoreQuery, "backend down")
	tracker := &fakeTracker{}
	blobs := &fakeBlobStore{meta: map[string]*models.BlobMetadata{}, chunks: map[string][]models.BlobChunk{}}

	_, err := newTestSyncer(feedback, blobs, tracker).Run(context.Background())
	require.Error(t, err)
	assert.True(t, contextutils.IsError(err, contextutils.ErrStoreQuery))
}

// End-to-end through the real GitHub client against an httptest server:
// exactly one create-issue call for one pending record.
func TestSyncerRun_EndToEndWithGitHubService(t *testing.T) {
	issueCalls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/acme/feedback/issues":
			issueCalls++
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"number": 9, "node_id": "I_x", "html_url": "https://github.com/acme/feedback/issues/9"}`))
		case "/gists":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"html_url": "https://gist.github.com/x", "files": {}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	svc, err := services.NewGitHubService(config.GitHubConfig{
		Token:   "t",
		Owner:   "acme",
		Repo:    "feedback",
		BaseURL: server.URL,
	}, workerTestLogger())
	require.NoError(t, err)

	rec := pendingRecord("rec-1", time.Now())
	rec.ScreenshotID = "blob-1"
	feedback := newFakeStore(rec)
	blobs := &fakeBlobStore{meta: map[string]*models.BlobMetadata{}, chunks: map[string][]models.BlobChunk{}}
	blobFixture(blobs, "blob-1", []byte("three chunk screenshot"), 3)

	stats, err := newTestSyncer(feedback, blobs, svc).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, issueCalls)
	assert.Equal(t, 1, stats.Synced)
	require.NotNil(t, rec.IssueURL)
	assert.Equal(t, "https://github.com/acme/feedback/issues/9", *rec.IssueURL)
	require.NotNil(t, rec.IssueNumber)
	assert.Equal(t, 9, *rec.IssueNumber)
	assert.Nil(t, rec.IssueError)
}
