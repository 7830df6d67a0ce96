package digest

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
)

// Kind classifies why a digest could not be computed. Kind implements error so
// callers can test with errors.Is(err, digest.NotFound).
type Kind int

const (
	IOFailure Kind = iota
	NotFound
	AccessDenied
	NotAFile
	Canceled
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case AccessDenied:
		return "access denied"
	case NotAFile:
		return "not a regular file"
	case Canceled:
		return "canceled"
	}
	return "i/o failure"
}

func (k Kind) Error() string { return k.String() }

// Error is returned by every failed computation.
type Error struct {
	Op   string // "stat", "open", "read", "wait"
	Path string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + " " + e.Path + ": " + e.Kind.String()
	}
	return e.Op + " " + e.Path + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind target.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// KindOf returns the Kind carried by err, or IOFailure for foreign errors.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Canceled
	}
	return IOFailure
}

var (
	errIsDir     = errors.New("is a directory")
	errIrregular = errors.New("not a regular file")
)

func newError(op, path string, err error) *Error {
	return &Error{Op: op, Path: path, Kind: classify(err), Err: err}
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Canceled
	case errors.Is(err, fs.ErrNotExist):
		return NotFound
	case errors.Is(err, fs.ErrPermission):
		return AccessDenied
	case errors.Is(err, syscall.EISDIR), errors.Is(err, errIsDir), errors.Is(err, errIrregular):
		return NotAFile
	}
	return IOFailure
}
