package common

import (
	"errors"
	"fmt"
)

// AppError represents application-specific errors
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrDatabase     = errors.New("database error")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// The pipeline distinguishes three error classes so callers are forced to
// handle each one according to its policy instead of catch-and-log:
//
//   - FatalError: malformed input broke extraction; the job fails.
//   - SubstepError: a best-effort sub-step (favicon, tags, pdf render)
//     failed; degrade to a default, never fail the job over it.
//   - InfraError: queue/storage/database trouble; log at error severity
//     and surface to the caller.

// FatalError wraps a parse-level failure that must fail the owning job.
type FatalError struct {
	Step  string
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal %s error: %v", e.Step, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// SubstepError wraps a best-effort sub-step failure. Callers catch it with
// Degrade and substitute a default value.
type SubstepError struct {
	Step  string
	Cause error
}

func (e *SubstepError) Error() string {
	return fmt.Sprintf("substep %s failed: %v", e.Step, e.Cause)
}

func (e *SubstepError) Unwrap() error { return e.Cause }

// InfraError wraps failures of shared infrastructure (queue handles,
// blob stores, the database).
type InfraError struct {
	Component string
	Cause     error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("infrastructure error (%s): %v", e.Component, e.Cause)
}

func (e *InfraError) Unwrap() error { return e.Cause }

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}
