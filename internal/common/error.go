package common

import (
	"errors"
	"fmt"
)

var (
	ErrEntryNotFound       = fmt.Errorf("entry not found")
	ErrEmptyPath           = fmt.Errorf("empty path")
	ErrPathEscapesRoot     = fmt.Errorf("path escapes root")
	ErrParentSegment       = fmt.Errorf("parent directory segment not allowed")
	ErrNotRegularFile      = fmt.Errorf("not a regular file")
	ErrNotDirectory        = fmt.Errorf("not a directory")
	ErrTooManyLinks        = fmt.Errorf("too many levels of symbolic links")
	ErrCoordinatorClosed   = fmt.Errorf("coordinator is closed")
	ErrIDSpaceExhausted    = fmt.Errorf("cannot generate unique id")
	ErrNoFreeName          = fmt.Errorf("cannot find free file name")
	ErrUnknownRegistryKind = fmt.Errorf("unknown registry driver")
	ErrAuditAlreadyRunning = fmt.Errorf("audit has already started")
)

type ErrorKind string

const (
	KindInvalidPath            ErrorKind = "InvalidPath"
	KindSourceNotFound         ErrorKind = "SourceNotFound"
	KindDestinationUnavailable ErrorKind = "DestinationUnavailable"
	KindInsufficientSpace      ErrorKind = "InsufficientSpace"
	KindIOFailure              ErrorKind = "IOFailure"
	KindNotFound               ErrorKind = "NotFound"
)

// Error is a failure carrying the kind reported to callers.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Wrap(kind ErrorKind, op, path string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{
		Kind: kind,
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// KindOf returns the kind of the first *Error in the chain, IOFailure otherwise.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	if errors.Is(err, ErrEntryNotFound) {
		return KindNotFound
	}

	return KindIOFailure
}
