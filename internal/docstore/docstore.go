// Package docstore is the remote document store the mirror writes into.
//
// The engine only needs one operation, a merge-upsert of a single document
// ([Writer.SetMerge]). [Firestore] implements it with the Firestore client
// library and service-account credentials, [Breaker] adds a circuit breaker in front
// of any Writer, and [Memory] is an in-process store for tests and dry runs.
//
// Whether a store is configured at all is carried by [Handle], so "no store"
// is an explicit state rather than a nil pointer.
package docstore

import (
	"context"
	"errors"
)

var (
	// ErrUnavailable is returned when the store cannot be reached at all,
	// for example because its circuit breaker is open.
	ErrUnavailable = errors.New("document store unavailable")

	// ErrNotFound is returned by Get for a missing document.
	ErrNotFound = errors.New("document not found")
)

// Writer merge-upserts documents. Fields present in doc replace the stored
// fields of the same name; fields absent from doc are preserved. Calling
// SetMerge twice with the same arguments leaves the store unchanged.
type Writer interface {
	SetMerge(ctx context.Context, collection, id string, doc map[string]any) error
}

// Reader reads a single document.
type Reader interface {
	Get(ctx context.Context, collection, id string) (map[string]any, error)
}

// Handle is either a configured Writer or the explicit absence of one.
type Handle struct {
	w Writer
}

// Configured returns a Handle wrapping w. A nil w yields NotConfigured.
func Configured(w Writer) Handle {
	return Handle{w: w}
}

// NotConfigured returns a Handle with no store behind it.
func NotConfigured() Handle {
	return Handle{}
}

// Writer returns the wrapped Writer and whether one is configured.
func (h Handle) Writer() (Writer, bool) {
	return h.w, h.w != nil
}

// IsConfigured reports whether a store is present.
func (h Handle) IsConfigured() bool { return h.w != nil }
