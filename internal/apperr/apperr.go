// Package apperr defines the failure kinds an ingestion can end with. Every
// stage of the pipeline reports one of these so callers can decide whether
// to retry, reject or reconcile.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	InvalidInput                   Kind = "InvalidInput"
	SuspiciousExtensionCombination Kind = "SuspiciousExtensionCombination"
	UnsupportedType                Kind = "UnsupportedType"
	ConversionError                Kind = "ConversionError"
	KeyCollision                   Kind = "KeyCollision"
	UploadError                    Kind = "UploadError"
	LinkError                      Kind = "LinkError"
)

// Error carries a kind, a message that is safe to show to users and the
// underlying cause which is only logged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s, %v", e.Kind, e.Message, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, &Error{Kind: k}) match on kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func New(k Kind, msg string) *Error {
	return &Error{Kind: k, Message: msg}
}

func Wrap(k Kind, msg string, err error) *Error {
	return &Error{Kind: k, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or an empty
// kind if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// MessageOf returns the user facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}

	return "Internal server error"
}
