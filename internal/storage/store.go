package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
)

// ErrNotFound is returned by Open when no object exists for the reference.
var ErrNotFound = errors.New("storage: object not found")

// BlobStore persists generated images and hands back stable, fetchable URLs.
type BlobStore interface {
	// Store writes data under key and returns its public URL.
	Store(ctx context.Context, key string, data []byte, mimeType string) (string, error)
	// Open reads an object back. ref may be the key or the URL returned by Store.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	// Ping verifies the backend is reachable and writable.
	Ping(ctx context.Context) error
}

// VisualKey builds the object key for one visual of a generation.
func VisualKey(generationID string, index int, visualType, mimeType string) string {
	return fmt.Sprintf("generations/%s/%d-%s%s", generationID, index, sanitizeSegment(visualType), ExtensionFor(mimeType))
}

// ExtensionFor maps a MIME type to a file extension, defaulting to .png.
func ExtensionFor(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png", "":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	if b.Len() == 0 {
		return "visual"
	}
	return b.String()
}

// keyFromRef strips a known public base URL from ref.
func keyFromRef(baseURL, ref string) string {
	ref = strings.TrimSpace(ref)
	if baseURL != "" && strings.HasPrefix(ref, baseURL+"/") {
		return strings.TrimPrefix(ref, baseURL+"/")
	}
	return ref
}
