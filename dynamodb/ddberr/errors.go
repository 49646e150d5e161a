// Package ddberr defines the errors returned by the entity layer.
//
// Every error carries a Code with a stable reference identifier so that callers
// and documentation can refer to a failure class without matching on messages.
// Use errors.Is against the exported sentinels to test for a class:
//
//	if errors.Is(err, ddberr.ErrIncompleteKeyFacets) { ... }
package ddberr

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies an Error.
type Code int

const (
	CodeSchemaValidation      Code = 1001
	CodeInvalidIndexName      Code = 2001
	CodeIncompleteKeyFacets   Code = 2002
	CodeMissingKeyFacets      Code = 2003
	CodeInvalidFilterResponse Code = 3001
	CodeValidation            Code = 4001
	CodeInvalidCursor         Code = 5001
	CodeInvalidOptions        Code = 5002
	CodeClient                Code = 6001
)

var codeNames = map[Code]string{
	CodeSchemaValidation:      "SchemaValidationError",
	CodeInvalidIndexName:      "InvalidIndexName",
	CodeIncompleteKeyFacets:   "IncompleteKeyFacets",
	CodeMissingKeyFacets:      "MissingKeyFacets",
	CodeInvalidFilterResponse: "InvalidFilterResponse",
	CodeValidation:            "ValidationError",
	CodeInvalidCursor:         "InvalidCursor",
	CodeInvalidOptions:        "InvalidOptions",
	CodeClient:                "ClientError",
}

// String returns the name of the code, e.g. "IncompleteKeyFacets".
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Ref returns the stable documentation reference for the code.
func (c Code) Ref() string {
	return fmt.Sprintf("facet-%d", int(c))
}

// Error is the error type returned by entity construction and operations.
type Error struct {
	Code    Code
	Message string
	// Attributes lists the attribute names the error is about, if any.
	Attributes []string
	Cause      error
}

func (e *Error) Error() string {
	return "facet: " + e.text() + " [ref " + e.Code.Ref() + "]"
}

// text renders the message and cause chain. Nested Errors contribute their
// text only, so a wrapped error carries a single prefix and reference.
func (e *Error) text() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Code.String())
	}
	if e.Cause != nil {
		b.WriteString(": ")
		var inner *Error
		if errors.As(e.Cause, &inner) && inner == e.Cause {
			b.WriteString(inner.text())
		} else {
			b.WriteString(e.Cause.Error())
		}
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a sentinel of the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Message == "" && t.Code == e.Code
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error with a formatted message and a cause. Attributes of
// a wrapped *Error are carried over.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	e := &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
	var inner *Error
	if errors.As(cause, &inner) {
		e.Attributes = inner.Attributes
	}
	return e
}

// WithAttributes returns e with the attribute names set.
func (e *Error) WithAttributes(names ...string) *Error {
	e.Attributes = append([]string(nil), names...)
	return e
}

// Sentinels for errors.Is.
var (
	ErrSchemaValidation      = &Error{Code: CodeSchemaValidation}
	ErrInvalidIndexName      = &Error{Code: CodeInvalidIndexName}
	ErrIncompleteKeyFacets   = &Error{Code: CodeIncompleteKeyFacets}
	ErrMissingKeyFacets      = &Error{Code: CodeMissingKeyFacets}
	ErrInvalidFilterResponse = &Error{Code: CodeInvalidFilterResponse}
	ErrValidation            = &Error{Code: CodeValidation}
	ErrInvalidCursor         = &Error{Code: CodeInvalidCursor}
	ErrInvalidOptions        = &Error{Code: CodeInvalidOptions}
	ErrClient                = &Error{Code: CodeClient}
)

// CodeOf returns the Code of the first *Error in err's chain, or 0.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}
