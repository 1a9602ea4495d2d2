package docstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when the document does not exist and the
// caller supplied no default.
var ErrNotFound = errors.New("document not found")

// ReadOptions carries the caller-supplied validator and default for a read.
// When a document is missing, fails schema validation, or cannot be decoded,
// the default (if any) is materialized into the output instead of an error.
type ReadOptions struct {
	// Schema is an optional JSON schema the stored payload must satisfy.
	Schema map[string]any
	// Default builds the fallback document. Nil means missing/corrupt reads
	// surface as errors instead of degrading.
	Default func() any
}

// Store is the generic named-document persistence boundary. No transactions,
// no locking; last write wins.
type Store interface {
	Read(ctx context.Context, name string, opts ReadOptions, out any) error
	Write(ctx context.Context, name string, doc any) error
	Delete(ctx context.Context, name string) error
}
