package order

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderNotFound is returned when a lookup by order hash or id misses.
	ErrOrderNotFound = errors.New("order not found")
	// ErrFillNotFound is returned when a fill lookup misses.
	ErrFillNotFound = errors.New("fill not found")
	// ErrOrderClosed is returned when a mutation targets a terminal order.
	ErrOrderClosed = errors.New("order is closed")
)

// MissingParameterError names the first required field that was missing or
// malformed, in the fixed validation order.
type MissingParameterError struct {
	Field string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing or malformed required parameter: %s", e.Field)
}

// OverDepositError rejects a fill whose deposit would push the cumulative
// deposited amount past the order's srcQty. The excess fill is rejected
// outright rather than capped, since capping would hide a resolver error.
type OverDepositError struct {
	OrderHash string
	Deposit   string
	Remaining string
}

func (e *OverDepositError) Error() string {
	return fmt.Sprintf("deposit %s exceeds remaining capacity %s of order %s", e.Deposit, e.Remaining, e.OrderHash)
}
