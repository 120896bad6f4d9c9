package segment

import (
	"errors"
	"fmt"
)

// ErrorKind classifies segmentation failures
type ErrorKind int

const (
	ErrorKindUnknown ErrorKind = iota
	ErrorKindInput
	ErrorKindNoViableGroups
	ErrorKindConfig
)

// String returns a string representation of the ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindInput:
		return "INPUT_ERROR"
	case ErrorKindNoViableGroups:
		return "NO_VIABLE_GROUPS"
	case ErrorKindConfig:
		return "INVALID_CONFIG"
	default:
		return "UNKNOWN"
	}
}

var (
	// ErrEmptyInput is returned when a run is handed no pages
	ErrEmptyInput = errors.New("no pages to segment")
	// ErrNoViableGroups is returned when a run finishes without a non-empty group
	ErrNoViableGroups = errors.New("segmentation produced no viable groups")
)

// Error is the error type returned by the segmentation entry points
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Kind, e.Err)
}

// Unwrap exposes the sentinel so callers can use errors.Is
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, sentinel error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

// KindOf returns the ErrorKind carried by err, or ErrorKindUnknown
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrorKindUnknown
}
