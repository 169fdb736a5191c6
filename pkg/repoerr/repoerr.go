// Package repoerr defines the error taxonomy shared by every layer of the
// object store: a small set of kinds that callers branch on, wrapped around
// the originating path or remote name the way the rest of the codebase
// wraps errors with fmt.Errorf.
package repoerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that need to branch on it instead of
// just logging and propagating.
type Kind int

const (
	// KindOther is the default for errors that don't need a specific kind.
	KindOther Kind = iota
	KindNotFound
	KindInvalidConfig
	KindWritable
	KindChecksumMismatch
	KindAlreadyExists
	KindIO
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindInvalidConfig:
		return "invalid-config"
	case KindWritable:
		return "not-writable"
	case KindChecksumMismatch:
		return "checksum-mismatch"
	case KindAlreadyExists:
		return "already-exists"
	case KindIO:
		return "io"
	case KindUnsupported:
		return "unsupported"
	default:
		return "other"
	}
}

// Error is the typed wrapper carrying a Kind and the path or remote name
// that failed, alongside the underlying cause.
type Error struct {
	Kind Kind
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) etc. work against an *Error without
// round-tripping through Unwrap + sentinel comparison for every call site.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && errors.Is(sentinel, target)
}

var (
	// ErrNotFound reports a missing object, remote, or config key.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists reports an add-remote/sign-again collision.
	ErrAlreadyExists = errors.New("already exists")
	// ErrChecksumMismatch reports a non-trusted write or validating read
	// whose recomputed checksum disagreed with the advertised one.
	ErrChecksumMismatch = errors.New("checksum mismatch")
	// ErrUnsupported reports a stale repository format or deprecated
	// operation.
	ErrUnsupported = errors.New("unsupported")
	// ErrNotWritable reports a repository whose objects/ directory failed
	// its writability probe at open time.
	ErrNotWritable = errors.New("repository is not writable")
	// ErrInvalidConfig reports a malformed or disallowed config value.
	ErrInvalidConfig = errors.New("invalid configuration")
)

var kindSentinels = map[Kind]error{
	KindNotFound:         ErrNotFound,
	KindAlreadyExists:    ErrAlreadyExists,
	KindChecksumMismatch: ErrChecksumMismatch,
	KindUnsupported:      ErrUnsupported,
	KindWritable:         ErrNotWritable,
	KindInvalidConfig:    ErrInvalidConfig,
}

// New wraps err with a kind and the offending path/remote name.
func New(kind Kind, path string, err error) *Error {
	return &Error{Kind: kind, Path: path, Err: err}
}

// NotFound builds a KindNotFound error for path.
func NotFound(path string, err error) *Error {
	if err == nil {
		err = ErrNotFound
	}
	return New(KindNotFound, path, err)
}

// ChecksumMismatch builds a KindChecksumMismatch error describing the
// expected vs. actual digests.
func ChecksumMismatch(path, want, got string) *Error {
	return New(KindChecksumMismatch, path, fmt.Errorf("want %s, got %s", want, got))
}
