// Package storage is the blob storage abstraction every higher layer of
// deltakit builds on.
//
// What: A uniform path -> bytes keyspace with atomic compare-and-swap
// writes, backed interchangeably by local disk, an in-process map, or an
// S3/R2-compatible object store.
// How: Each backend implements the Storage interface. The only
// cross-process correctness primitive is WriteConditional: it succeeds
// only if the observed version token of path matches expectedVersion (or
// the blob is absent and expectedVersion is nil), and otherwise fails with
// VersionMismatch. Object stores express this via ETag preconditions; the
// filesystem backend via a staging-path-then-atomic-rename protocol
// guarded by mtime; the in-memory backend via a per-key counter.
// Why: Every correctness guarantee in the transaction log (§4.4) derives
// from this one primitive — optimistic commits are nothing more than a
// CAS loop over a single blob per version.
package storage

import (
	"context"
	"io"
)

// Stat describes a blob's metadata without reading its contents.
type Stat struct {
	Size         int64
	LastModified int64 // unix millis
	ETag         string
}

// Storage is the contract every backend (memory, filesystem, S3/R2)
// implements. All operations are safe for concurrent use on independent
// paths; same-path writes are only serialized by the CAS primitive.
type Storage interface {
	// Read returns the full contents of path, or a *FileNotFound error.
	Read(ctx context.Context, path string) ([]byte, error)

	// Write unconditionally upserts path.
	Write(ctx context.Context, path string, data []byte) error

	// ReadRange returns bytes in [start, end) clamped to the file's actual
	// length. A zero-length range (start == end) returns an empty slice
	// without error, even for a nonexistent file offset.
	ReadRange(ctx context.Context, path string, start, end int64) ([]byte, error)

	// List returns every blob whose path has the given prefix, in no
	// particular order. Only real blobs are returned, never synthetic
	// directory markers.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes path. It is idempotent: deleting a missing path is
	// not an error.
	Delete(ctx context.Context, path string) error

	// Stat returns blob metadata, or (nil, nil) if path does not exist.
	Stat(ctx context.Context, path string) (*Stat, error)

	// Exists reports whether path currently has a blob.
	Exists(ctx context.Context, path string) (bool, error)

	// WriteConditional performs an atomic compare-and-swap write. When
	// expectedVersion is nil, the write only succeeds if path does not yet
	// exist. Returns the new version token on success, or *VersionMismatch
	// on failure.
	WriteConditional(ctx context.Context, path string, data []byte, expectedVersion *string) (string, error)

	// GetVersion returns the current version token of path, or nil if it
	// does not exist.
	GetVersion(ctx context.Context, path string) (*string, error)
}

// ReaderAt is an optional interface for backends that can expose a
// random-access handle to a blob without buffering it entirely in memory.
// No backend in this package implements it, and the columnar reader
// decodes a fully read byte slice.
type ReaderAt interface {
	OpenReaderAt(ctx context.Context, path string, size int64) (io.ReaderAt, error)
}
