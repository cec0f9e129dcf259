package chaterr

import (
	"context"
	"errors"
	"fmt"
	"net"
)

const (
	UnparseableMessage = "unparseable_message"
	NetworkFailure     = "network_failure"
	UploadFailure      = "upload_failure"
	AuthMissing        = "auth_missing"
)

// Error represents a stable, categorized session engine failure.
type Error struct {
	Category string
	Detail   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	msg := e.Category
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", e.Category, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}

	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// NewError creates a categorized error without an underlying cause.
func NewError(category string, detail string) error {
	return &Error{Category: category, Detail: detail}
}

// Wrap attaches a category to an underlying error. A nil err yields nil.
func Wrap(category string, detail string, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Category: category, Detail: detail, Err: err}
}

// CategoryFromError returns the stable category for an error when available.
//
// Transport-level errors without an explicit category map to NetworkFailure.
func CategoryFromError(err error) string {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Category
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NetworkFailure
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NetworkFailure
	}

	return ""
}

// Is reports whether err carries the given category.
func Is(err error, category string) bool {
	return err != nil && CategoryFromError(err) == category
}
