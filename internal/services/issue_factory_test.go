package services

import (
	"strings"
	"testing"
	"time"

	"feedbacksync/internal/models"

	"github.com/stretchr/testify/assert"
)

func sampleRecord() *models.FeedbackRecord {
	return &models.FeedbackRecord{
		ID:          "rec-1",
		Text:        "The app crashes when I rotate the screen",
		Platform:    "iOS 17.2",
		AppVersion:  "2.4.0",
		BuildNumber: "512",
		DeviceInfo:  map[string]string{"model": "iPhone 15", "os": "17.2"},
		Email:       "user@example.com",
		SubmittedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestFormatTitle_Truncation(t *testing.T) {
	tests := []struct {
		name     string
		textLen  int
		expected string
	}{
		{"exactly 80 chars keeps full text", 80, strings.Repeat("a", 80)},
		{"81 chars truncates with ellipsis", 81, strings.Repeat("a", 80) + "..."},
		{"short text kept as is", 10, strings.Repeat("a", 10)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := sampleRecord()
			rec.Text = strings.Repeat("a", tt.textLen)
			issue := FormatIssue(rec, nil)
			assert.Equal(t, "[Feedback] "+tt.expected, issue.Title)
		})
	}
}

func TestFormatTitle_NoTextFallsBackToRecordID(t *testing.T) {
	rec := sampleRecord()
	rec.Text = "  "
	issue := FormatIssue(rec, nil)
	assert.Equal(t, "[Feedback] Report rec-1", issue.Title)
}

func TestDeriveLabels_Platform(t *testing.T) {
	tests := []struct {
		platform string
		want     string
		without  string
	}{
		{"iOS 17", "ios", "android"},
		{"Android 14", "android", "ios"},
	}

	for _, tt := range tests {
		t.Run(tt.platform, func(t *testing.T) {
			rec := sampleRecord()
			rec.Platform = tt.platform
			issue := FormatIssue(rec, nil)
			assert.Contains(t, issue.Labels, tt.want)
			assert.NotContains(t, issue.Labels, tt.without)
		})
	}
}

func TestDeriveLabels_NoPlatform(t *testing.T) {
	rec := sampleRecord()
	rec.Platform = ""
	issue := FormatIssue(rec, nil)
	assert.NotContains(t, issue.Labels, "ios")
	assert.NotContains(t, issue.Labels, "android")
	assert.Contains(t, issue.Labels, "feedback")
	assert.Contains(t, issue.Labels, "triage")
}

func TestFormatBody_AllFields(t *testing.T) {
	rec := sampleRecord()
	issue := FormatIssue(rec, &ScreenshotRef{
		ImageURL: "https://gist.example/raw/img",
		PageURL:  "https://gist.example/page",
	})

	assert.Contains(t, issue.Body, "`rec-1`")
	assert.Contains(t, issue.Body, "2026-03-14 09:30:00 UTC")
	assert.Contains(t, issue.Body, "user@example.com")
	assert.Contains(t, issue.Body, "2.4.0 (build 512)")
	assert.Contains(t, issue.Body, "iOS 17.2")
	assert.Contains(t, issue.Body, "- **model:** iPhone 15")
	assert.Contains(t, issue.Body, "- **os:** 17.2")
	assert.Contains(t, issue.Body, "The app crashes when I rotate the screen")
	assert.Contains(t, issue.Body, "![Screenshot](https://gist.example/raw/img)")
	assert.Contains(t, issue.Body, "[Full resolution](https://gist.example/page)")
}

func TestFormatBody_Fallbacks(t *testing.T) {
	rec := &models.FeedbackRecord{
		ID:           "rec-2",
		ScreenshotID: "blob-1",
		SubmittedAt:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	issue := FormatIssue(rec, nil)

	assert.Contains(t, issue.Body, "Not provided")
	assert.Contains(t, issue.Body, "_No message provided._")
	assert.Contains(t, issue.Body, "could not be attached")
	assert.NotContains(t, issue.Body, "![Screenshot]")
}

func TestFormatBody_NoScreenshotDeclared(t *testing.T) {
	rec := sampleRecord()
	rec.ScreenshotID = ""
	issue := FormatIssue(rec, nil)
	assert.NotContains(t, issue.Body, "Screenshot")
}
