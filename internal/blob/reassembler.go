// Package blob reconstructs chunked screenshot blobs and persists them to the
// local filesystem.
package blob

import (
	"context"
	"encoding/base64"
	"strings"

	"feedbacksync/internal/models"
	"feedbacksync/internal/observability"
	"feedbacksync/internal/store"
	contextutils "feedbacksync/internal/utils"
)

// DefaultMimeType is assumed when blob metadata carries no MIME type.
const DefaultMimeType = "image/png"

// Reassembler rebuilds a screenshot from its ordered base64 chunks.
type Reassembler struct {
	blobs  store.BlobStore
	logger *observability.Logger
}

// NewReassembler creates a new Reassembler instance.
func NewReassembler(blobs store.BlobStore, logger *observability.Logger) *Reassembler {
	if blobs == nil {
		panic("NewReassembler: blobs is nil")
	}
	if logger == nil {
		panic("NewReassembler: logger is nil")
	}
	return &Reassembler{blobs: blobs, logger: logger}
}

// Reassemble fetches the blob's metadata and chunks and rebuilds the image.
//
// Missing metadata or a chunk count that does not match totalChunks
// yields an unavailable error, never a partial image. Callers
// check IsUnavailable and proceed without a screenshot; reassembly failure is
// never fatal to the record being processed.
func (r *Reassembler) Reassemble(ctx context.Context, blobID string) (result0 *models.Blob, err error) {
	ctx, span := observability.TraceBlobFunction(ctx, "reassemble", observability.AttributeBlobID(blobID))
	defer observability.FinishSpan(span, &err)

	meta, err := r.blobs.Metadata(ctx, blobID)
	if err != nil {
		if contextutils.IsError(err, contextutils.ErrRecordNotFound) {
			return nil, contextutils.WrapErrorf(contextutils.ErrBlobUnavailable, "no metadata for blob %s", blobID)
		}
		return nil, contextutils.WrapErrorf(err, "failed to fetch metadata for blob %s", blobID)
	}

	chunks, err := r.blobs.Chunks(ctx, blobID)
	if err != nil {
		return nil, contextutils.WrapErrorf(err, "failed to fetch chunks for blob %s", blobID)
	}

	if len(chunks) != meta.TotalChunks {
		r.logger.Warn(ctx, "Chunk count mismatch, treating blob as unavailable", map[string]interface{}{
			"blob_id":  blobID,
			"expected": meta.TotalChunks,
			"fetched":  len(chunks),
		})
		return nil, contextutils.WrapErrorf(contextutils.ErrBlobUnavailable,
			"blob %s has %d of %d chunks", blobID, len(chunks), meta.TotalChunks)
	}

	// Chunks are base64 text fragments; joining them in index order yields
	// one base64 string for the whole image.
	var encoded strings.Builder
	for _, chunk := range chunks {
		encoded.WriteString(chunk.Data)
	}

	data, err := base64.StdEncoding.DecodeString(encoded.String())
	if err != nil {
		return nil, contextutils.WrapErrorf(contextutils.ErrBlobCorrupt, "blob %s is not valid base64: %w", blobID, err)
	}

	mimeType := meta.MimeType
	if mimeType == "" {
		mimeType = DefaultMimeType
	}

	return &models.Blob{Data: data, MimeType: mimeType}, nil
}

// IsUnavailable reports whether err is the soft blob-unavailable condition
// (including corrupt data), as opposed to a store failure.
func IsUnavailable(err error) bool {
	return contextutils.IsError(err, contextutils.ErrBlobUnavailable) ||
		contextutils.IsError(err, contextutils.ErrBlobCorrupt)
}
