package model

import "io"

// ArchiveEntry is one element yielded by Archive.List: a stored record's key,
// its content-addressed integrity hash, and the metadata recorded alongside
// it. Per spec.md §9 open question (c), listing is treated as fallible: List
// returns an iterator-like callback interface instead of a slice so that a
// backing store can surface mid-enumeration errors.
type ArchiveEntry struct {
	Key       string
	Integrity string
	Meta      *ResponseMetadata
}

// Archive is the contract the core depends on for content-addressed storage.
// Concrete on-disk blob storage primitives are an external collaborator per
// spec.md §1; this interface is what the storage actor and export pipeline
// are written against. internal/pkg/archive provides the concrete adapter.
type Archive interface {
	// Put stores metadata and streams body into a blob keyed by SURT, atomic
	// on success (a failed or aborted write leaves no partial record).
	Put(key string, meta *ResponseMetadata, timestamp int64, body io.Reader) (integrity string, err error)

	// GetMeta returns the metadata recorded for key, or (nil, nil) if absent.
	GetMeta(key string) (*ResponseMetadata, error)

	// GetBody opens a reader over the blob addressed by integrity. Caller
	// must Close it.
	GetBody(integrity string) (io.ReadCloser, error)

	// Exists reports whether a blob with the given integrity hash is present.
	Exists(integrity string) (bool, error)

	// List invokes fn once per stored record; iteration stops at the first
	// error returned by fn or encountered while reading the store.
	List(fn func(ArchiveEntry) error) error

	// Delete removes the record stored under key, if any.
	Delete(key string) error

	// Clear destructively removes every record in the archive.
	Clear() error

	// Close releases any underlying resources (open file handles, DB handles).
	Close() error
}
