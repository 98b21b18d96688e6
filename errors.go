// Package onion implements a page-granular, copy-on-write versioning
// storage layer. A mutable logical file is overlaid on an immutable
// canonical data file: writes never touch the canonical file, they append
// modified fixed-size pages to a sidecar "onion" file that records an
// ordered sequence of committed revisions. Opening a revision replays the
// canonical file with every page-level modification from the root revision
// up through the selected one applied on top.
package onion

import "errors"

// Kind classifies every error this package returns, per the error taxonomy.
type Kind int

const (
	// KindBadArgument covers nulls, bad magic/version, unknown flag bits,
	// a page size that isn't a power of two, and an out-of-range revision ID.
	KindBadArgument Kind = iota
	// KindCorrupt covers signature/version mismatch on disk, checksum
	// mismatch, two-phase decode size disagreement, and non-page-aligned
	// logical addresses.
	KindCorrupt
	// KindResourceExhausted covers allocation failure.
	KindResourceExhausted
	// KindIoError covers backend propagation.
	KindIoError
	// KindUnsupported covers an already-set write lock, the reserved
	// canonical-embedded store target, and forced recovery opens.
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindBadArgument:
		return "bad argument"
	case KindCorrupt:
		return "corrupt"
	case KindResourceExhausted:
		return "resource exhausted"
	case KindIoError:
		return "io error"
	case KindUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with the Kind a caller can switch on.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + e.Kind.String()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Sentinel errors for common failure conditions, so callers can use
// errors.Is without inspecting an *Error's Kind.
var (
	ErrBadArgument       = errors.New("bad argument")
	ErrCorrupt           = errors.New("corrupt data")
	ErrResourceExhausted = errors.New("resource exhausted")
	ErrWriteLocked       = errors.New("onion file is write-locked")
	ErrUnsupportedTarget = errors.New("canonical-embedded store target is not supported")
	ErrForceRecovery     = errors.New("forced recovery open is not supported")
	ErrRevisionNotFound  = errors.New("revision id out of range")
	ErrNotOpenForWrite   = errors.New("file is not open for writing")
	ErrClosed            = errors.New("onion file is closed")
	ErrPageCollision     = errors.New("logical page already mapped to a different physical offset")
)

// Is reports whether target matches one of the sentinel errors this kind
// normally carries, so callers using errors.Is(err, onion.ErrCorrupt) work
// against *Error values produced anywhere in this package.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case KindBadArgument:
		return target == ErrBadArgument
	case KindCorrupt:
		return target == ErrCorrupt
	case KindResourceExhausted:
		return target == ErrResourceExhausted
	case KindUnsupported:
		return target == ErrWriteLocked || target == ErrUnsupportedTarget || target == ErrForceRecovery
	}
	return false
}
