package models

import "strings"

// BlobMetadata is the parent document of a chunked screenshot blob.
type BlobMetadata struct {
	TotalChunks int    `firestore:"totalChunks" json:"total_chunks"`
	MimeType    string `firestore:"mimeType" json:"mime_type"`
}

// BlobChunk is one base64 text fragment of a screenshot blob. Index is
// 0-based, dense, and the only ordering key.
type BlobChunk struct {
	Index int    `firestore:"index" json:"index"`
	Data  string `firestore:"data" json:"data"`
}

// Blob is a fully reassembled screenshot.
type Blob struct {
	Data     []byte
	MimeType string
}

// Extension maps the blob's MIME type to a filename extension. Only png and
// jpeg are distinguished; everything else falls back to .png.
func (b *Blob) Extension() string {
	mime := strings.ToLower(b.MimeType)
	switch {
	case strings.Contains(mime, "jpg"), strings.Contains(mime, "jpeg"):
		return ".jpg"
	default:
		return ".png"
	}
}
