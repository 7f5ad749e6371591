// Package store provides the document-store gateway the board core runs
// against, plus adapters for concrete backends. The gateway surface is the
// whole storage contract: per-document get/put/update, multi-document atomic
// batches, atomic field increments and snapshot subscriptions. Anything that
// offers those operations can back a board.
package store

import (
	"context"
	"errors"
)

// Document is a loosely-typed field map as delivered by the backing store.
// Adapters always populate the "id" field with the document id on reads.
type Document map[string]any

// Ref addresses a single document inside a collection.
type Ref struct {
	Collection string
	ID         string
}

// WriteOp is one element of an atomic batch: the fields are merged into the
// referenced document, creating it when absent.
type WriteOp struct {
	Ref    Ref
	Fields Document
}

// Unsubscribe tears down a snapshot subscription. It is safe to call more
// than once.
type Unsubscribe func()

var (
	// ErrDocumentNotFound is returned for reads and partial updates against
	// a missing document.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrConcurrencyConflict indicates the backing store rejected a write
	// because a newer version of the entity is already persisted. Adapters
	// use it internally to drive retry loops.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrMixedCollections is returned when a batch spans collections an
	// adapter cannot commit atomically.
	ErrMixedCollections = errors.New("batch write spans multiple collections")
)

// Gateway abstracts the remote document store. All cross-client coordination
// is delegated to the store; callers hold no locks around these operations.
//
// Subscriptions deliver a full snapshot on every remote change, including
// changes the subscribing client wrote itself. Local state is expected to be
// replaced wholesale on each delivery, never merged.
type Gateway interface {
	// GetDocument fetches one document or ErrDocumentNotFound.
	GetDocument(ctx context.Context, ref Ref) (Document, error)
	// SetDocument replaces the document, creating it when absent.
	SetDocument(ctx context.Context, ref Ref, fields Document) error
	// UpdateDocument merges fields into an existing document. Last writer
	// wins; there is no optimistic-concurrency check.
	UpdateDocument(ctx context.Context, ref Ref, fields Document) error
	// DeleteDocument removes the document unconditionally.
	DeleteDocument(ctx context.Context, ref Ref) error
	// BatchWrite applies every operation atomically: all or none.
	BatchWrite(ctx context.Context, ops []WriteOp) error
	// IncrementField atomically adds delta to a numeric field without a
	// read-modify-write round trip visible to other writers.
	IncrementField(ctx context.Context, ref Ref, field string, delta int64) error
	// ListCollection returns every document in the collection.
	ListCollection(ctx context.Context, collection string) ([]Document, error)
	// SubscribeDocument delivers the current document immediately and again
	// on every change. A nil Document is delivered when the document is
	// absent or deleted.
	SubscribeDocument(ctx context.Context, ref Ref, fn func(Document)) (Unsubscribe, error)
	// SubscribeCollection delivers the full collection immediately and again
	// on every change to any member.
	SubscribeCollection(ctx context.Context, collection string, fn func([]Document)) (Unsubscribe, error)
}
