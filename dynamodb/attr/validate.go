package attr

import (
	"errors"
	"fmt"
	"regexp"
)

// GenericReason is the reason reported when a validator rejects a value
// without a message of its own.
const GenericReason = "Invalid value provided"

// Validator checks a value after it passed the type check.
// A nil error accepts the value. Return ErrInvalidValue to reject it with the
// generic reason, or Reason(msg) to reject it with msg. Any other error, and
// any panic, rejects the value with the generic reason and is kept as the
// ValidationError's Cause.
type Validator func(value any) error

// ErrInvalidValue rejects a value with the generic reason.
var ErrInvalidValue = errors.New("invalid value provided")

type reasonError struct {
	msg string
}

func (r *reasonError) Error() string { return r.msg }

// Reason rejects a value with msg as the reported reason.
func Reason(msg string) error {
	return &reasonError{msg: msg}
}

// Predicate adapts a boolean check. A true result means the value is invalid.
func Predicate(invalid func(v any) bool) Validator {
	return func(v any) error {
		if invalid(v) {
			return ErrInvalidValue
		}
		return nil
	}
}

// Message adapts a check that returns a non-empty message for invalid values.
func Message(check func(v any) string) Validator {
	return func(v any) error {
		if msg := check(v); msg != "" {
			return Reason(msg)
		}
		return nil
	}
}

// Pattern accepts strings that match re. Non-string values are rejected.
func Pattern(re *regexp.Regexp) Validator {
	return func(v any) error {
		s, ok := v.(string)
		if !ok || !re.MatchString(s) {
			return Reason(fmt.Sprintf("Value does not match pattern %q", re.String()))
		}
		return nil
	}
}

// run invokes fn behind a recover boundary and classifies its result.
func (fn Validator) run(v any) (reason string, cause error, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			reason, cause, ok = GenericReason, panicError("validator", r), false
		}
	}()
	err := fn(v)
	if err == nil {
		return "", nil, true
	}
	var re *reasonError
	if errors.As(err, &re) {
		return re.msg, nil, false
	}
	if errors.Is(err, ErrInvalidValue) {
		return GenericReason, nil, false
	}
	return GenericReason, err, false
}

func panicError(what string, r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("%s panicked: %w", what, err)
	}
	return fmt.Errorf("%s panicked: %v", what, r)
}
