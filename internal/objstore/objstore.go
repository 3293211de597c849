// Package objstore defines the flat object-store contract the namespace
// engine consumes, plus the concrete adapters: an S3/MinIO-compatible
// client and an in-memory store for tests and offline use.
//
// The engine never sees pagination, retries, or transport details — a
// listing arrives as one fully materialized slice, and deletes are
// idempotent (removing an absent key is success, not an error).
package objstore

import (
	"context"
	"errors"
	"time"
)

// Metadata keys stored alongside objects. DisplayName preserves the name
// the user typed before any normalization; ContentHash carries the hex
// SHA-256 of the payload for download verification.
const (
	MetaDisplayName = "display-name"
	MetaContentHash = "content-hash"
)

// DirectoryContentType marks placeholder objects. It never surfaces in the
// materialized tree; the builder consumes placeholders structurally.
const DirectoryContentType = "application/x-directory"

// ErrNotFound reports a missing key on read paths (Get). Delete never
// returns it.
var ErrNotFound = errors.New("objstore: key not found")

// Record is one object in a listing snapshot: the flat key plus the
// metadata the engine and view layers care about. Records are immutable
// once returned.
type Record struct {
	Key          string
	DisplayName  string
	ContentType  string
	Size         int64
	LastModified time.Time

	// ContentHash is the hex SHA-256 checksum metadata, when present. Only
	// read paths that see object metadata (Get) populate it; listings leave
	// it empty.
	ContentHash string
}

// Store is the flat object store as the engine sees it.
//
// List returns every object under prefix as one slice, however many pages
// the backend needed. Put overwrites unconditionally (the key is the
// identity; versioning is not this layer's concern). Delete is idempotent.
type Store interface {
	List(ctx context.Context, prefix string) ([]Record, error)
	Put(ctx context.Context, key string, payload []byte, contentType string, meta map[string]string) error
	Get(ctx context.Context, key string) ([]byte, Record, error)
	Delete(ctx context.Context, key string) error
}
