package common

import "errors"

// ErrorKind classifies a failure so callers can decide between retrying,
// falling back and tearing the build down.
type ErrorKind byte

const (
	KindUnknown ErrorKind = iota
	KindIteration
	KindIO
	KindCorruption
	KindInvariantViolation
	KindNotSupported
	KindNotFound
	KindInvalidRequest
)

type CustomError struct {
	error
	kind ErrorKind
}

func (e CustomError) Kind() ErrorKind { return e.kind }

var (
	// ErrIteration wraps a failure surfaced by the upstream record iterator.
	ErrIteration = CustomError{error: errors.New("iteration error"), kind: KindIteration}
	// ErrIO wraps a failure of the underlying file or storage object.
	ErrIO = CustomError{error: errors.New("i/o error"), kind: KindIO}
	// ErrCorruption marks malformed keys, blocks or metadata.
	ErrCorruption = CustomError{error: errors.New("corruption"), kind: KindCorruption}
	// ErrInvariantViolation marks internal state the pipeline must never reach.
	ErrInvariantViolation = CustomError{error: errors.New("invariant violation"), kind: KindInvariantViolation}
	// ErrNotSupported marks an unavailable codec or storage capability.
	ErrNotSupported = CustomError{error: errors.New("not supported"), kind: KindNotSupported}
	// ErrNotFound is returned by readers for keys the table does not contain.
	ErrNotFound = CustomError{error: errors.New("not found"), kind: KindNotFound}
	// ErrInvalidRequest marks misuse of the API, e.g. out-of-order keys or
	// writes after close.
	ErrInvalidRequest = CustomError{error: errors.New("client invalid request"), kind: KindInvalidRequest}
)
