// Package driver defines the storage driver capability set: the five
// primitives every backend (local filesystem, remote HTTP, S3-like object
// store) must implement, and the typed errors that flow back through them.
// The facade package depends only on this interface, never on a concrete
// driver, so new backends can be added without touching the facade or
// repository layers.
package driver

import (
	"context"
	"errors"

	"github.com/cuemby/docrepo/internal/apperr"
)

// Namespace identifies one of the five object classes a driver stores.
type Namespace string

const (
	Names     Namespace = "names"
	Drafts    Namespace = "drafts"
	Documents Namespace = "documents"
	Contracts Namespace = "contracts"
	Messages  Namespace = "messages"
)

// Driver is the backend-specific primitive object I/O capability set.
// Every method is asynchronous in the sense that it suspends on I/O; in Go
// this means every method accepts and must honor ctx.
//
// Every primitive except List carries a digest parameter: the content hash
// of the citation being addressed (for a name write, the digest of the
// citation the name is bound to), or "" when the caller has none at hand
// (a name lookup, or a message key inside the borrow loop before its
// content has been read). A driver that can expose the digest as an integrity signal
// does so — the HTTP driver sets it as the nebula-digest request header,
// the object-store driver stores it as object metadata — and a driver for
// which it is meaningless (filesystem) simply ignores it.
type Driver interface {
	// Exists reports whether key is present in namespace.
	Exists(ctx context.Context, ns Namespace, key, digest string) (bool, error)

	// Read returns the bytes stored at key, or an error satisfying
	// errors.Is(err, ErrNotFound) if absent.
	Read(ctx context.Context, ns Namespace, key, digest string) ([]byte, error)

	// Write stores data at key. When allowOverwrite is false and key
	// already exists, Write returns an error satisfying
	// errors.Is(err, ErrConflict) without touching storage.
	Write(ctx context.Context, ns Namespace, key, digest string, data []byte, allowOverwrite bool) error

	// Delete removes key, reporting whether it existed. The borrow-message
	// race loop depends on existed being true for exactly one concurrent
	// caller when multiple callers race to delete the same key.
	Delete(ctx context.Context, ns Namespace, key, digest string) (existed bool, err error)

	// List returns keys under prefix, relative to prefix, up to maxKeys.
	// Ordering is backend-defined; callers that need randomness (the
	// borrow loop) shuffle client-side.
	List(ctx context.Context, ns Namespace, prefix string, maxKeys int) ([]string, error)
}

// ErrNotFound and ErrConflict are the sentinels every driver implementation
// must make errors.Is-comparable via an *apperr.Error with the matching
// Kind; they exist so call sites can write errors.Is(err, driver.ErrNotFound)
// instead of reaching into apperr directly.
var (
	ErrNotFound           = &apperr.Error{Kind: apperr.KindNotFound}
	ErrConflict           = &apperr.Error{Kind: apperr.KindConflict}
	ErrUnsupportedBackend = &apperr.Error{Kind: apperr.KindUnsupportedBackend}
)

// NewError builds the typed {namespace, key, method, cause} error the spec
// requires every driver primitive to propagate on I/O failure.
func NewError(module, method string, ns Namespace, key string, kind apperr.Kind, cause error) error {
	return apperr.New(module, method, kind, map[string]string{
		"namespace": string(ns),
		"key":       key,
	}, cause)
}

// IsNotFound reports whether err represents an absent key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || apperr.Is(err, apperr.KindNotFound)
}

// IsConflict reports whether err represents a rejected overwrite of an
// immutable object.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || apperr.Is(err, apperr.KindConflict)
}

// IsUnsupportedBackend reports whether err represents an operation a backend
// cannot honor the contract for (e.g. a compare-and-swap delete).
func IsUnsupportedBackend(err error) bool {
	return errors.Is(err, ErrUnsupportedBackend) || apperr.Is(err, apperr.KindUnsupportedBackend)
}
