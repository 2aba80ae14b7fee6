package relayer

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable surfaces after the bounded retry budget for
	// connectivity-class store failures is exhausted. Never swallowed.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrDuplicateOrder rejects a submission whose orderHash already exists.
	ErrDuplicateOrder = errors.New("order already exists")
	// ErrQuoteNotFound means the quote id is unknown or the quote expired.
	ErrQuoteNotFound = errors.New("quote not found")
)

// BatchValidationError aborts a bulk submission: one invalid element fails the
// whole batch and nothing is persisted.
type BatchValidationError struct {
	Index int
	Err   error
}

func (e *BatchValidationError) Error() string {
	return fmt.Sprintf("order %d invalid: %v", e.Index, e.Err)
}

func (e *BatchValidationError) Unwrap() error { return e.Err }
