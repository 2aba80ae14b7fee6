package order

import (
	"fmt"
	"math/big"

	"relayer/internal/hash"
)

// AggregateStatus derives the order status from its fills. The stored status
// column is a materialized view of this function; it must be refreshed in the
// same transaction as any fill write and is never the source of truth for
// decision logic.
//
// CANCELLED is a terminal override and is returned unchanged without
// recomputation.
func AggregateStatus(o *Order, fills []Fill) Status {
	if o.Status == StatusCancelled {
		return StatusCancelled
	}
	if o.Status == StatusCompleted {
		return StatusCompleted
	}

	deposited := sumDeposits(fills, func(f Fill) bool { return f.Status == FillValid })
	if deposited.Sign() == 0 {
		return StatusActive
	}

	srcQty, ok := new(big.Int).SetString(o.SrcQty, 10)
	if !ok {
		// srcQty is validated at submission; an unparsable value here means
		// the record predates validation. Treat as partially deposited so the
		// order never silently completes.
		return StatusPartialDeposited
	}

	if deposited.Cmp(srcQty) >= 0 {
		return StatusCompleteDeposited
	}
	return StatusPartialDeposited
}

// CheckAttach validates that a fill with the given deposit may attach to the
// order. The capacity check sums every fill that still counts against the
// order (everything but INVALID and EXPIRED), not just VALID ones, so that
// pending deposits cannot collectively oversubscribe srcQty.
func CheckAttach(o *Order, fills []Fill, deposit string) error {
	if o.Status.Terminal() {
		return ErrOrderClosed
	}

	d, ok := new(big.Int).SetString(deposit, 10)
	if !ok || d.Sign() <= 0 {
		return &MissingParameterError{Field: "deposit"}
	}

	srcQty, ok := new(big.Int).SetString(o.SrcQty, 10)
	if !ok {
		return fmt.Errorf("order %s has unparsable srcQty %q", o.OrderHash, o.SrcQty)
	}

	committed := sumDeposits(fills, func(f Fill) bool {
		return f.Status != FillInvalid && f.Status != FillExpired
	})

	if new(big.Int).Add(committed, d).Cmp(srcQty) > 0 {
		remaining := new(big.Int).Sub(srcQty, committed)
		if remaining.Sign() < 0 {
			remaining.SetInt64(0)
		}
		return &OverDepositError{
			OrderHash: o.OrderHash,
			Deposit:   deposit,
			Remaining: remaining.String(),
		}
	}
	return nil
}

// CheckCancel guards the explicit cancel transition. Only ACTIVE and
// PARTIAL_DEPOSITED orders may cancel; once fully deposited the resolvers'
// funds are committed and the order must run to completion.
func CheckCancel(o *Order) error {
	switch o.Status {
	case StatusActive, StatusPartialDeposited:
		return nil
	default:
		return ErrOrderClosed
	}
}

// CheckComplete guards the COMPLETE_DEPOSITED -> COMPLETED promotion. The
// relayer does not decide this transition itself; it only accepts it once the
// external withdrawal confirmation arrives.
func CheckComplete(o *Order) error {
	if o.Status != StatusCompleteDeposited {
		return ErrOrderClosed
	}
	return nil
}

// ValidateNew checks a submitted order before any persistence. Fields are
// checked in a fixed order so the first failure is deterministic.
func ValidateNew(o *Order) error {
	if !hash.ValidOrderHash(o.OrderHash) {
		return &MissingParameterError{Field: "orderHash"}
	}
	if o.SrcChain == 0 {
		return &MissingParameterError{Field: "srcChain"}
	}
	if o.DestinationChain == 0 {
		return &MissingParameterError{Field: "destinationChain"}
	}
	if o.SrcTokenAddress == "" {
		return &MissingParameterError{Field: "srcTokenAddress"}
	}
	if o.DstTokenAddress == "" {
		return &MissingParameterError{Field: "dstTokenAddress"}
	}
	if o.MakerSourceChainAddress == "" {
		return &MissingParameterError{Field: "makerSourceChainAddress"}
	}
	if o.MakerDestinationChainAddress == "" {
		return &MissingParameterError{Field: "makerDestinationChainAddress"}
	}
	srcQty, ok := new(big.Int).SetString(o.SrcQty, 10)
	if !ok || srcQty.Sign() <= 0 {
		return &MissingParameterError{Field: "srcQty"}
	}
	if dstQty, ok := new(big.Int).SetString(o.DstQty, 10); !ok || dstQty.Sign() <= 0 {
		return &MissingParameterError{Field: "dstQty"}
	}
	return nil
}

func sumDeposits(fills []Fill, include func(Fill) bool) *big.Int {
	sum := new(big.Int)
	for _, f := range fills {
		if !include(f) {
			continue
		}
		d, ok := new(big.Int).SetString(f.Deposit, 10)
		if !ok {
			continue
		}
		sum.Add(sum, d)
	}
	return sum
}
