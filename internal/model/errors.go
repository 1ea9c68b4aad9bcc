package model

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound unknown account id
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountDisabled execution requested for a disabled account without force.
	// It matches ErrAccountNotFound under errors.Is.
	ErrAccountDisabled error = &disabledError{}

	// ErrExecutionInProgress another execution for the same account is in flight
	ErrExecutionInProgress = errors.New("execution already in progress for this account")
)

type disabledError struct{}

func (e *disabledError) Error() string { return "account is disabled" }

func (e *disabledError) Is(target error) bool { return target == ErrAccountNotFound }

// ValidationError rejected account input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// SubmissionError failure reported by the step submission client
type SubmissionError struct {
	Kind    SubmissionErrorKind
	Message string
	Err     error
}

// SubmissionErrorKind failure class
type SubmissionErrorKind string

const (
	SubmissionAuth     SubmissionErrorKind = "auth"
	SubmissionNetwork  SubmissionErrorKind = "network"
	SubmissionRejected SubmissionErrorKind = "rejected"
)

func (e *SubmissionError) Error() string { return e.Message }

func (e *SubmissionError) Unwrap() error { return e.Err }
