package stage

import (
	"context"
	"errors"
	"fmt"
)

// Stable error codes persisted to last_error_code. This is a closed set:
// user-facing copy is derived from these strings by the frontends.
const (
	CodeUnsupportedType   = "UNSUPPORTED_TYPE"
	CodeFileTooLarge      = "FILE_TOO_LARGE"
	CodeCorruptInput      = "CORRUPT_INPUT"
	CodeConverterFailed   = "CONVERTER_FAILED"
	CodeStageTimeout      = "STAGE_TIMEOUT"
	CodeTransientIO       = "TRANSIENT_IO"
	CodeStorageError      = "STORAGE_ERROR"
	CodeAttemptsExhausted = "ATTEMPTS_EXHAUSTED"
	CodeCanceled          = "CANCELED"
)

// Error is the typed failure returned by stage executors. Retryable vs
// terminal is an explicit part of the contract; the orchestrator never
// guesses from error text.
type Error struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Terminal builds a non-retryable stage error.
func Terminal(code string, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Retryable builds a stage error eligible for backoff and re-attempt.
func Retryable(code string, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Retryable: true}
}

// Classify normalizes any error coming out of a stage execution into a
// typed stage error. Timeouts become retryable STAGE_TIMEOUT; anything
// untyped is treated as a transient I/O failure.
func Classify(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable(CodeStageTimeout, "stage exceeded its execution timeout")
	}
	return Retryable(CodeTransientIO, "%v", err)
}
