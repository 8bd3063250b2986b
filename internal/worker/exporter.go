package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"feedbacksync/internal/blob"
	"feedbacksync/internal/config"
	"feedbacksync/internal/models"
	"feedbacksync/internal/observability"
	"feedbacksync/internal/store"
	contextutils "feedbacksync/internal/utils"

	"github.com/google/uuid"
)

// screenshotSubdir is the directory under the export output dir that holds
// persisted screenshots; HTML image references are relative to the index.
const screenshotSubdir = "screenshots"

// Exporter produces a point-in-time report of the feedback collection: a
// JSON export, a static HTML index and a plain-text summary. Read-only with
// respect to the store.
type Exporter struct {
	feedback     store.FeedbackStore
	reassembler  *blob.Reassembler
	cfg          config.ExportConfig
	retryCeiling int
	logger       *observability.Logger
}

// ExportResult reports what a run produced and where.
type ExportResult struct {
	RunID       string `json:"run_id"`
	Count       int    `json:"count"`
	Screenshots int    `json:"screenshots"`
	JSONPath    string `json:"json_path"`
	HTMLPath    string `json:"html_path"`
	SummaryPath string `json:"summary_path"`
}

type exportItem struct {
	*models.FeedbackRecord
	State          string `json:"state"`
	ScreenshotPath string `json:"screenshot_path,omitempty"`
}

type exportDocument struct {
	ExportedAt time.Time    `json:"exported_at"`
	RunID      string       `json:"run_id"`
	Count      int          `json:"count"`
	Items      []exportItem `json:"items"`
}

// NewExporter creates a new Exporter instance. The reassembler may be nil to
// skip screenshots entirely. retryCeiling is only used to derive the
// displayed lifecycle state.
func NewExporter(
	feedback store.FeedbackStore,
	reassembler *blob.Reassembler,
	cfg config.ExportConfig,
	retryCeiling int,
	logger *observability.Logger,
) *Exporter {
	if feedback == nil {
		panic("NewExporter: feedback store is nil")
	}
	if logger == nil {
		panic("NewExporter: logger is nil")
	}
	return &Exporter{
		feedback:     feedback,
		reassembler:  reassembler,
		cfg:          cfg,
		retryCeiling: retryCeiling,
		logger:       logger,
	}
}

// Run exports the most recent records. Screenshot reassembly is best-effort;
// a blob that cannot be rebuilt leaves its record in the report without an
// image. Only store query and output write failures abort the export.
func (e *Exporter) Run(ctx context.Context) (result0 *ExportResult, err error) {
	ctx, span := observability.TraceExportFunction(ctx, "run",
		observability.AttributeBatchSize(e.cfg.BatchSize),
	)
	defer observability.FinishSpan(span, &err)

	runID := uuid.NewString()

	records, err := e.feedback.ListRecent(ctx, e.cfg.BatchSize)
	if err != nil {
		return nil, contextutils.WrapError(err, "failed to query feedback records for export")
	}

	e.logger.Info(ctx, "Starting export run", map[string]interface{}{
		"run_id":  runID,
		"records": len(records),
	})

	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return nil, contextutils.WrapErrorf(err, "failed to create export directory %s", e.cfg.OutputDir)
	}

	items := make([]exportItem, 0, len(records))
	screenshots := 0
	for _, rec := range records {
		item := exportItem{
			FeedbackRecord: rec,
			State:          string(rec.State(e.retryCeiling)),
		}
		if path := e.persistScreenshot(ctx, rec); path != "" {
			item.ScreenshotPath = path
			screenshots++
		}
		items = append(items, item)
	}

	doc := exportDocument{
		ExportedAt: time.Now().UTC(),
		RunID:      runID,
		Count:      len(items),
		Items:      items,
	}

	result := &ExportResult{
		RunID:       runID,
		Count:       doc.Count,
		Screenshots: screenshots,
		JSONPath:    filepath.Join(e.cfg.OutputDir, "feedback-export.json"),
		HTMLPath:    filepath.Join(e.cfg.OutputDir, "index.html"),
		SummaryPath: filepath.Join(e.cfg.OutputDir, "summary.txt"),
	}

	if err := e.writeJSON(result.JSONPath, &doc); err != nil {
		return nil, err
	}
	if err := e.writeHTML(result.HTMLPath, &doc); err != nil {
		return nil, err
	}
	if err := e.writeSummary(result.SummaryPath, &doc, result); err != nil {
		return nil, err
	}

	e.logger.Info(ctx, "Export run complete", map[string]interface{}{
		"run_id":      runID,
		"count":       result.Count,
		"screenshots": result.Screenshots,
		"json_path":   result.JSONPath,
	})

	return result, nil
}

// persistScreenshot rebuilds and writes the record's screenshot under the
// export directory, returning the path relative to the HTML index. Empty on
// any failure; export never aborts over a screenshot.
func (e *Exporter) persistScreenshot(ctx context.Context, rec *models.FeedbackRecord) string {
	if e.reassembler == nil || !rec.HasScreenshot() {
		return ""
	}

	b, err := e.reassembler.Reassemble(ctx, rec.ScreenshotID)
	if err != nil {
		e.logger.Warn(ctx, "Skipping screenshot in export", map[string]interface{}{
			"record_id": rec.ID,
			"blob_id":   rec.ScreenshotID,
			"error":     err.Error(),
		})
		return ""
	}

	dir := filepath.Join(e.cfg.OutputDir, screenshotSubdir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		e.logger.Warn(ctx, "Failed to create export screenshot directory", map[string]interface{}{
			"dir":   dir,
			"error": err.Error(),
		})
		return ""
	}

	filename := rec.ID + b.Extension()
	if err := os.WriteFile(filepath.Join(dir, filename), b.Data, 0o644); err != nil {
		e.logger.Warn(ctx, "Failed to write export screenshot", map[string]interface{}{
			"record_id": rec.ID,
			"error":     err.Error(),
		})
		return ""
	}

	return filepath.Join(screenshotSubdir, filename)
}

func (e *Exporter) writeJSON(path string, doc *exportDocument) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return contextutils.WrapError(err, "failed to marshal export document")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return contextutils.WrapErrorf(err, "failed to write JSON export %s", path)
	}
	return nil
}

func (e *Exporter) writeHTML(path string, doc *exportDocument) error {
	var b strings.Builder
	if err := indexTemplate.Execute(&b, doc); err != nil {
		return contextutils.WrapError(err, "failed to render HTML index")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return contextutils.WrapErrorf(err, "failed to write HTML index %s", path)
	}
	return nil
}

func (e *Exporter) writeSummary(path string, doc *exportDocument, result *ExportResult) error {
	byState := map[string]int{}
	for _, item := range doc.Items {
		byState[item.State]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Feedback export %s\n", doc.RunID)
	fmt.Fprintf(&b, "Exported at: %s\n", doc.ExportedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Records: %d\n", doc.Count)
	for _, state := range []models.SyncState{models.StateSynced, models.StatePending, models.StateFailed, models.StateExhausted} {
		fmt.Fprintf(&b, "  %s: %d\n", state, byState[string(state)])
	}
	fmt.Fprintf(&b, "Screenshots: %d\n", result.Screenshots)
	fmt.Fprintf(&b, "JSON: %s\n", result.JSONPath)
	fmt.Fprintf(&b, "HTML: %s\n", result.HTMLPath)

	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return contextutils.WrapErrorf(err, "failed to write summary %s", path)
	}
	return nil
}

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Feedback export {{.RunID}}</title>
<style>
body { font-family: sans-serif; margin: 2em; }
.record { border: 1px solid #ccc; border-radius: 4px; padding: 1em; margin-bottom: 1em; }
.meta { color: #555; font-size: 0.9em; }
.state { font-weight: bold; }
img { max-width: 320px; display: block; margin-top: 0.5em; }
</style>
</head>
<body>
<h1>Feedback export</h1>
<p class="meta">Run {{.RunID}} at {{.ExportedAt}} ({{.Count}} records)</p>
{{range .Items}}
<div class="record">
  <div class="state">{{.State}}</div>
  <div class="meta">{{.ID}} | {{.Platform}} | {{.AppVersion}} | {{.SubmittedAt}}</div>
  <p>{{.Text}}</p>
  {{if .IssueURL}}<p><a href="{{.IssueURL}}">Issue #{{.IssueNumber}}</a></p>{{end}}
  {{if .ScreenshotPath}}<img src="{{.ScreenshotPath}}" alt="Screenshot for {{.ID}}">{{end}}
</div>
{{end}}
</body>
</html>
`))
