// Package docstore provides an embedded document store with the primitives
// a collaborative session service needs: point reads and writes, merge
// writes, optimistic transactions with retry on conflict, per-document
// change subscriptions, and indexed array-membership queries.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound indicates a requested document is missing.
var ErrNotFound = errors.New("document not found")

// ErrConflict indicates an optimistic transaction lost a version race. It is
// retried internally; callers only see it when the retry budget is exhausted.
var ErrConflict = errors.New("document version conflict")

// Document is a stored document with its metadata.
type Document struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Body       json.RawMessage `json:"body"`
	Version    int64           `json:"version"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// UpdateFunc computes the next body of a document inside a transaction.
// current is nil when the document does not exist yet. Returning an error
// aborts the transaction without retrying.
type UpdateFunc func(current json.RawMessage) (json.RawMessage, error)

// ChangeHandler receives the document after each committed write.
type ChangeHandler func(doc Document)

// ErrorHandler receives subscription delivery failures.
type ErrorHandler func(err error)

// CancelFunc detaches a subscription. Safe to call multiple times; no
// deliveries happen after the first call returns.
type CancelFunc func()

// Store is the document store contract.
type Store interface {
	// Get returns a single document or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Create writes body only if no document exists yet. It reports whether
	// the write happened; an existing document is left untouched.
	Create(ctx context.Context, collection, id string, body json.RawMessage) (bool, error)

	// Merge applies a partial update over the existing body, creating the
	// document when absent. Top-level fields not named in fields are
	// preserved. Merge is a plain last-write-wins write, not a transaction.
	Merge(ctx context.Context, collection, id string, fields map[string]any) error

	// RunTransaction runs fn as an optimistic read-compute-commit cycle.
	// On a version conflict the cycle is re-run against the latest committed
	// body, up to the store's attempt budget.
	RunTransaction(ctx context.Context, collection, id string, fn UpdateFunc) error

	// Subscribe registers a live listener on one document. The current
	// document, when present, is delivered first; afterwards every committed
	// write is delivered in commit order. Deliveries for a missing document
	// are skipped.
	Subscribe(ctx context.Context, collection, id string, onChange ChangeHandler, onError ErrorHandler) (CancelFunc, error)

	// QueryArrayContains returns documents whose indexed array field contains
	// value. The field must be registered as an index for the collection.
	QueryArrayContains(ctx context.Context, collection, field, value string) ([]Document, error)

	// List returns every document in a collection. Fallback path only; the
	// scan is unbounded.
	List(ctx context.Context, collection string) ([]Document, error)

	Close() error
}
