package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func TestFeedbackRecord_State(t *testing.T) {
	ceiling := 3

	tests := []struct {
		name   string
		record FeedbackRecord
		want   SyncState
	}{
		{
			name:   "fresh record is pending",
			record: FeedbackRecord{},
			want:   StatePending,
		},
		{
			name:   "empty error string still pending",
			record: FeedbackRecord{IssueError: strPtr("")},
			want:   StatePending,
		},
		{
			name:   "error set below ceiling is failed",
			record: FeedbackRecord{IssueError: strPtr("boom"), RetryCount: 2},
			want:   StateFailed,
		},
		{
			name:   "error set at ceiling is exhausted",
			record: FeedbackRecord{IssueError: strPtr("boom"), RetryCount: 3},
			want:   StateExhausted,
		},
		{
			name:   "issue url wins over error",
			record: FeedbackRecord{IssueURL: strPtr("https://github.com/o/r/issues/1"), IssueError: strPtr("stale")},
			want:   StateSynced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.State(ceiling))
		})
	}
}

func TestFeedbackRecord_Synced(t *testing.T) {
	r := FeedbackRecord{}
	assert.False(t, r.Synced())

	r.IssueURL = strPtr("")
	assert.False(t, r.Synced())

	r.IssueURL = strPtr("https://github.com/o/r/issues/7")
	assert.True(t, r.Synced())
}

func TestFeedbackRecord_HasScreenshot(t *testing.T) {
	r := FeedbackRecord{SubmittedAt: time.Now()}
	assert.False(t, r.HasScreenshot())
	r.ScreenshotID = "shot-1"
	assert.True(t, r.HasScreenshot())
}

func TestBlob_Extension(t *testing.T) {
	assert.Equal(t, ".png", (&Blob{MimeType: "image/png"}).Extension())
	assert.Equal(t, ".jpg", (&Blob{MimeType: "image/jpeg"}).Extension())
	assert.Equal(t, ".jpg", (&Blob{MimeType: "IMAGE/JPG"}).Extension())
	assert.Equal(t, ".png", (&Blob{MimeType: "image/webp"}).Extension())
	assert.Equal(t, ".png", (&Blob{}).Extension())
}
