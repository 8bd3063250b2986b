package services

import (
	"fmt"
	"sort"
	"strings"

	"feedbacksync/internal/models"
)

const (
	// issueTitleTag prefixes every generated issue title.
	issueTitleTag = "[Feedback]"
	// issueTitleMaxChars is the free-text budget before the title is truncated.
	issueTitleMaxChars = 80
	// issueTimestampLayout formats the submission time in issue bodies.
	issueTimestampLayout = "2006-01-02 15:04:05 MST"
)

// Base and status labels attached to every generated issue. The platform
// label (ios/android) is derived per record.
var (
	issueBaseLabels  = []string{"feedback", "user-report"}
	issueStatusLabel = "triage"
)

// Issue is the formatted payload handed to the issue tracker.
type Issue struct {
	Title  string
	Body   string
	Labels []string
}

// ScreenshotRef points at an uploaded screenshot: ImageURL is the raw content
// used in the markdown image tag, PageURL the human-facing full-resolution
// link. A nil ScreenshotRef on a record that declared a screenshot means the
// blob could not be attached.
type ScreenshotRef struct {
	ImageURL string
	PageURL  string
}

// FormatIssue renders a feedback record into an issue title, markdown body
// and label set. Pure; all I/O (blob fetch, gist upload) happens before this
// is called.
func FormatIssue(record *models.FeedbackRecord, screenshot *ScreenshotRef) Issue {
	return Issue{
		Title:  formatTitle(record),
		Body:   formatBody(record, screenshot),
		Labels: deriveLabels(record),
	}
}

func formatTitle(record *models.FeedbackRecord) string {
	text := strings.TrimSpace(record.Text)
	if text == "" {
		return fmt.Sprintf("%s Report %s", issueTitleTag, record.ID)
	}

	runes := []rune(text)
	if len(runes) > issueTitleMaxChars {
		return fmt.Sprintf("%s %s...", issueTitleTag, string(runes[:issueTitleMaxChars]))
	}
	return fmt.Sprintf("%s %s", issueTitleTag, text)
}

func formatBody(record *models.FeedbackRecord, screenshot *ScreenshotRef) string {
	var b strings.Builder

	b.WriteString("## User Feedback\n\n")
	fmt.Fprintf(&b, "**Record:** `%s`\n", record.ID)
	fmt.Fprintf(&b, "**Submitted:** %s\n", record.SubmittedAt.UTC().Format(issueTimestampLayout))

	email := record.Email
	if email == "" {
		email = "Not provided"
	}
	fmt.Fprintf(&b, "**Email:** %s\n", email)

	if record.AppVersion != "" {
		version := record.AppVersion
		if record.BuildNumber != "" {
			version = fmt.Sprintf("%s (build %s)", version, record.BuildNumber)
		}
		fmt.Fprintf(&b, "**App version:** %s\n", version)
	}
	if record.Platform != "" {
		fmt.Fprintf(&b, "**Platform:** %s\n", record.Platform)
	}

	if len(record.DeviceInfo) > 0 {
		b.WriteString("\n### Device\n\n")
		keys := make([]string, 0, len(record.DeviceInfo))
		for k := range record.DeviceInfo {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- **%s:** %s\n", k, record.DeviceInfo[k])
		}
	}

	b.WriteString("\n### Message\n\n")
	if text := strings.TrimSpace(record.Text); text != "" {
		b.WriteString(text)
		b.WriteString("\n")
	} else {
		b.WriteString("_No message provided._\n")
	}

	if screenshot != nil {
		b.WriteString("\n### Screenshot\n\n")
		fmt.Fprintf(&b, "![Screenshot](%s)\n\n", screenshot.ImageURL)
		fmt.Fprintf(&b, "[Full resolution](%s)\n", screenshot.PageURL)
	} else if record.HasScreenshot() {
		b.WriteString("\n_A screenshot was submitted but could not be attached._\n")
	}

	return b.String()
}

// deriveLabels returns the base labels plus an ios/android label matched by
// case-insensitive substring against the platform text. Anything that is not
// iOS is labeled android; this is a known limitation, not worth a platform
// registry for two mobile targets.
func deriveLabels(record *models.FeedbackRecord) []string {
	labels := make([]string, 0, len(issueBaseLabels)+2)
	labels = append(labels, issueBaseLabels...)

	if record.Platform != "" {
		if strings.Contains(strings.ToLower(record.Platform), "ios") {
			labels = append(labels, "ios")
		} else {
			labels = append(labels, "android")
		}
	}

	return append(labels, issueStatusLabel)
}
