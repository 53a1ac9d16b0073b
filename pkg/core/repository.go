package core

import "context"

// Source enumerates and parses persisted passports. Adhering to this interface
// keeps the store independent of where documents live (a directory, a bucket,
// a fixture in a test).
type Source interface {
	// Scan reads every document under root. A failure to read or parse any
	// document fails the whole scan unless the implementation is configured
	// to skip invalid entries.
	Scan(ctx context.Context, root string) ([]Document, error)
}

// Sink receives the effects of mutations for write-through persistence.
type Sink interface {
	// Persist writes the current version of a document.
	Persist(ctx context.Context, doc Document) error

	// Remove deletes a document. final is the last version, including its
	// delete change record.
	Remove(ctx context.Context, final Document) error
}
