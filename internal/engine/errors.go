package engine

import (
	"errors"
	"fmt"
)

// ProcessorErrorCode categorizes processor failures.
type ProcessorErrorCode string

const (
	// ErrCodeRetryBudget indicates consecutive failures reached the retry budget.
	ErrCodeRetryBudget ProcessorErrorCode = "RETRY_BUDGET_EXHAUSTED"

	// ErrCodeFlushIncomplete indicates a flush ended with operations still queued.
	ErrCodeFlushIncomplete ProcessorErrorCode = "FLUSH_INCOMPLETE"
)

// RetryBudgetError is the fatal error raised when consecutive failed
// requests reach the retry budget. The processor stays halted, returning this
// error from every pass, until Resume is called.
type RetryBudgetError struct {
	// Tries is the consecutive failure count when the budget ran out.
	Tries int
	// Budget is the configured limit.
	Budget int
	// Last is the error of the final failed request.
	Last error
}

// Error implements the error interface.
func (e *RetryBudgetError) Error() string {
	return fmt.Sprintf("timing out after %d tries", e.Tries)
}

// Unwrap returns the last request error.
func (e *RetryBudgetError) Unwrap() error {
	return e.Last
}

// Code returns ErrCodeRetryBudget.
func (e *RetryBudgetError) Code() ProcessorErrorCode {
	return ErrCodeRetryBudget
}

// IsRetryBudgetError returns true if err is or wraps a RetryBudgetError.
func IsRetryBudgetError(err error) bool {
	var rb *RetryBudgetError
	return errors.As(err, &rb)
}

// FlushError reports operations left behind by a flush.
type FlushError struct {
	Remaining int
	Cause     error
}

// Error implements the error interface.
func (e *FlushError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %d operations still pending: %v", ErrCodeFlushIncomplete, e.Remaining, e.Cause)
	}
	return fmt.Sprintf("%s: %d operations still pending", ErrCodeFlushIncomplete, e.Remaining)
}

// Unwrap returns the error that stopped the flush, if any.
func (e *FlushError) Unwrap() error {
	return e.Cause
}

// IsFlushError returns true if err is or wraps a FlushError.
func IsFlushError(err error) bool {
	var fe *FlushError
	return errors.As(err, &fe)
}
