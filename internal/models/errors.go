package models

import (
	"errors"
	"fmt"
)

var (
	// ErrRecognitionUnavailable marks an OCR attempt that could not run at all
	ErrRecognitionUnavailable = errors.New("recognition unavailable")
	// ErrUnknownKind is returned for an unsupported declared document kind
	ErrUnknownKind = errors.New("unknown document kind")
)

// DocumentUnreadableError is returned when the document container cannot be opened
type DocumentUnreadableError struct {
	Cause error
}

func (e *DocumentUnreadableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("document unreadable: %v", e.Cause)
	}
	return "document unreadable"
}

func (e *DocumentUnreadableError) Unwrap() error {
	return e.Cause
}

// Unreadable wraps cause into a DocumentUnreadableError
func Unreadable(cause error) error {
	return &DocumentUnreadableError{Cause: cause}
}

// IsUnreadable reports whether err is, or wraps, a DocumentUnreadableError
func IsUnreadable(err error) bool {
	var target *DocumentUnreadableError
	return errors.As(err, &target)
}
