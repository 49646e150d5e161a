package attr

import (
	"fmt"
	"strings"
)

// ErrorCode classifies a ValidationError.
type ErrorCode string

const (
	CodeRequired         ErrorCode = "RequiredAttributeMissing"
	CodeTypeMismatch     ErrorCode = "TypeMismatch"
	CodeInvalidValue     ErrorCode = "InvalidValue"
	CodeReadOnly         ErrorCode = "ReadOnlyAttribute"
	CodeUnknownAttribute ErrorCode = "UnknownAttribute"
	CodeTransform        ErrorCode = "TransformFailed"
)

// ValidationError describes one rejected attribute value.
// Field is the attribute path, e.g. "rooms[*].name".
type ValidationError struct {
	Field  string
	Code   ErrorCode
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid value for attribute %q: %s", e.Field, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// ValidationErrors is the ordered set of failures from one normalization.
type ValidationErrors []*ValidationError

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v))
	for i, e := range v {
		parts[i] = e.Error()
	}
	return strings.Join(parts, ", ")
}

// Fields returns the failing attribute paths in order.
func (v ValidationErrors) Fields() []string {
	fields := make([]string, len(v))
	for i, e := range v {
		fields[i] = e.Field
	}
	return fields
}

// Unwrap exposes every failure to errors.Is and errors.As.
func (v ValidationErrors) Unwrap() []error {
	errs := make([]error, len(v))
	for i, e := range v {
		errs[i] = e
	}
	return errs
}
