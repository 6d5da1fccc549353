// Package apperr defines the typed error kinds carried across every
// driver/facade/repository boundary in the document repository. A single
// Error struct wraps a Kind, the operation context, and the underlying
// cause, following the same errors.As-based discrimination style the
// teacher repo uses for AWS/smithy error types.
package apperr

import (
	"errors"
	"fmt"
)

// Kind enumerates the error categories a caller can usefully branch on.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindUnknownType
	KindBagFull
	KindLeaseExpired
	KindNoBag
	KindInvalidCredentials
	KindMalformedRequest
	KindServerDown
	KindIO
	KindDigestMismatch
	KindUnsupportedBackend
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "notFound"
	case KindConflict:
		return "conflict"
	case KindUnknownType:
		return "unknownType"
	case KindBagFull:
		return "bagFull"
	case KindLeaseExpired:
		return "leaseExpired"
	case KindNoBag:
		return "noBag"
	case KindInvalidCredentials:
		return "invalidCredentials"
	case KindMalformedRequest:
		return "malformedRequest"
	case KindServerDown:
		return "serverDown"
	case KindIO:
		return "io"
	case KindDigestMismatch:
		return "digestMismatch"
	case KindUnsupportedBackend:
		return "unsupportedBackend"
	default:
		return "unknown"
	}
}

// Error is the single error type used across the repository. It captures
// enough context at the error site that nothing needs to be reconstructed
// later from a stale closure variable.
type Error struct {
	Module    string // e.g. "facade", "driver/fs", "repository"
	Procedure string // e.g. "WriteName", "BorrowMessage"
	Kind      Kind
	Arguments map[string]string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Module, e.Procedure, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s.%s: %s", e.Module, e.Procedure, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, apperr.New(...)) style comparisons work, and also lets
// Kind-only sentinel errors (such as driver.ErrNotFound) participate via
// errors.Is.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Kind == te.Kind
	}
	return false
}

// New constructs an Error with every context field populated at the call
// site, as the spec's error-handling design requires.
func New(module, procedure string, kind Kind, args map[string]string, cause error) *Error {
	return &Error{Module: module, Procedure: procedure, Kind: kind, Arguments: args, Cause: cause}
}

// Wrap re-wraps an existing error with additional module/procedure context,
// preserving its Kind if it already carries one (KindIO otherwise). This is
// how the Repository API adds argument context on top of a Facade error
// without discarding the Facade's classification.
func Wrap(module, procedure string, args map[string]string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	kind := KindIO
	if errors.As(err, &existing) {
		kind = existing.Kind
	}
	return &Error{Module: module, Procedure: procedure, Kind: kind, Arguments: args, Cause: err}
}

// KindOf extracts the Kind carried by err, or KindUnknown if err does not
// wrap an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether the first *Error in err's chain carries the given
// Kind; an *Error nested deeper under that one is not consulted.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
