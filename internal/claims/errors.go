package claims

import (
	"errors"
	"fmt"
)

const (
	CodeInvalidTransition = "invalid_transition"
	CodeConflict          = "conflict"
	CodeNotFound          = "not_found"
	CodeValidation        = "validation"
	CodeInternal          = "internal"
)

type Error struct {
	Code    string
	Message string
	Status  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches any *Error with the same code, so errors.Is(err, ErrConflict) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInvalidTransition = &Error{Code: CodeInvalidTransition}
	ErrConflict          = &Error{Code: CodeConflict}
	ErrNotFound          = &Error{Code: CodeNotFound}
	ErrValidation        = &Error{Code: CodeValidation}
)

func statusForCode(code string) int {
	switch code {
	case CodeValidation:
		return 400
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeInvalidTransition:
		return 422
	default:
		return 500
	}
}

func newError(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Status: statusForCode(code)}
}

func NewValidationError(format string, args ...any) error {
	return newError(CodeValidation, format, args...)
}

func NewNotFoundError(format string, args ...any) error {
	return newError(CodeNotFound, format, args...)
}

func NewInternalError(format string, args ...any) error {
	return newError(CodeInternal, format, args...)
}

func invalidTransition(format string, args ...any) error {
	return newError(CodeInvalidTransition, format, args...)
}

func conflict(format string, args ...any) error {
	return newError(CodeConflict, format, args...)
}
