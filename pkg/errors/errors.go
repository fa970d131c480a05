package errors

import (
	stderrors "errors"
	"fmt"
)

// New returns an error with the given message.
func New(msg string) error {
	return stderrors.New(msg)
}

// ContextError annotates an error with the operation that failed. The
// annotations form a chain that reads outermost-first, e.g.
// "parse config: read file: permission denied".
type ContextError struct {
	Context string
	Err     error
}

func (err ContextError) Error() string {
	return fmt.Sprintf("%s: %s", err.Context, err.Err)
}

func (err ContextError) Unwrap() error {
	return err.Err
}

// WithContext wraps err with a description of the operation that caused it.
func WithContext(err error, context string) error {
	return ContextError{Context: context, Err: err}
}

// FriendlyError is an error with a message meant to be shown to the user
// directly, without any surrounding diagnostics or stack trace. Errors that
// the user can fix themselves (bad credentials, bad config values) should be
// friendly.
type FriendlyError interface {
	error
	FriendlyMessage() string
}

type friendlyError struct {
	message string
}

func (err friendlyError) Error() string {
	return err.message
}

func (err friendlyError) FriendlyMessage() string {
	return err.message
}

// NewFriendlyError creates an error whose formatted message is shown to the
// user as-is.
func NewFriendlyError(format string, args ...interface{}) error {
	return friendlyError{message: fmt.Sprintf(format, args...)}
}

// As is a passthrough to the standard library's errors.As, so callers don't
// need to import both packages.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Is is a passthrough to the standard library's errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// RootCause unwraps err until it finds an error that doesn't have a cause.
func RootCause(err error) error {
	for {
		cause := stderrors.Unwrap(err)
		if cause == nil {
			return err
		}
		err = cause
	}
}

// GetPrintableMessage returns the message that should be shown to the user
// for the given error. Friendly errors anywhere in the chain take precedence
// over the raw error string.
func GetPrintableMessage(err error) string {
	var friendly FriendlyError
	if stderrors.As(err, &friendly) {
		return friendly.FriendlyMessage()
	}
	return err.Error()
}

// IsFriendly returns whether the error chain contains a FriendlyError.
func IsFriendly(err error) bool {
	var friendly FriendlyError
	return stderrors.As(err, &friendly)
}
