package blob

import (
	"context"
	"os"
	"path/filepath"

	"feedbacksync/internal/models"
	"feedbacksync/internal/observability"
	contextutils "feedbacksync/internal/utils"
)

// Persister writes reassembled screenshots to a local directory.
type Persister struct {
	dir    string
	logger *observability.Logger
}

// NewPersister creates a new Persister instance.
func NewPersister(dir string, logger *observability.Logger) *Persister {
	if dir == "" {
		panic("NewPersister: dir is empty")
	}
	if logger == nil {
		panic("NewPersister: logger is nil")
	}
	return &Persister{dir: dir, logger: logger}
}

// Persist writes the blob under a filename derived from the record id and the
// blob's MIME type, creating the directory if needed. Directory creation is
// idempotent, so repeated invocations of the job are safe.
//
// A persistence failure must not abort the sync of the record; callers log
// the returned error and continue.
func (p *Persister) Persist(ctx context.Context, b *models.Blob, recordID string) (result0 string, err error) {
	_, span := observability.TraceBlobFunction(ctx, "persist", observability.AttributeRecordID(recordID))
	defer observability.FinishSpan(span, &err)

	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return "", contextutils.WrapErrorf(err, "failed to create screenshot directory %s", p.dir)
	}

	path := filepath.Join(p.dir, recordID+b.Extension())
	if err := os.WriteFile(path, b.Data, 0o644); err != nil {
		return "", contextutils.WrapErrorf(err, "failed to write screenshot %s", path)
	}

	return path, nil
}
