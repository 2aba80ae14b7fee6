package auction

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"relayer/internal/order"
)

// All prices are fixed-point integers scaled by 10^6. Rounding direction is
// truncate-toward-zero, applied uniformly; floating point never touches
// on-chain amounts.
const scaleDigits = 6

// StartBuffer delays the auction open past submission so the registration
// transaction can propagate first.
const StartBuffer = time.Minute

var (
	startFactor = decimal.RequireFromString("1.05")
	endFactor   = decimal.RequireFromString("0.98")
	scaleInt    = new(big.Int).Exp(big.NewInt(10), big.NewInt(scaleDigits), nil)
)

// Params are the arguments for the external Dutch-auction contract call.
// The auction opens 5% above the nominal dst/src rate and floors 2% below it.
type Params struct {
	AuctionID   string
	BasePrice   *big.Int
	StartPrice  *big.Int
	EndPrice    *big.Int
	StartTime   time.Time
	EndTime     time.Time
	MakerAmount *big.Int

	// Opaque pass-throughs from the order; the contract owns their semantics.
	BaseGasPrice        string
	GasAdjustmentFactor string
}

// StartTimeISO and EndTimeISO render the window bounds the way the contract
// collaborator expects them.
func (p Params) StartTimeISO() string { return p.StartTime.UTC().Format(time.RFC3339) }
func (p Params) EndTimeISO() string   { return p.EndTime.UTC().Format(time.RFC3339) }

// Build derives the auction call arguments from an order's quantities and the
// requested duration. Pure: the contract invocation itself is the chain
// collaborator's job.
func Build(o *order.Order, duration time.Duration, now time.Time) (Params, error) {
	if duration <= 0 {
		return Params{}, &order.MissingParameterError{Field: "auctionDuration"}
	}

	srcQty, err := decimal.NewFromString(o.SrcQty)
	if err != nil || !srcQty.IsPositive() {
		return Params{}, &order.MissingParameterError{Field: "srcQty"}
	}
	dstQty, err := decimal.NewFromString(o.DstQty)
	if err != nil || !dstQty.IsPositive() {
		return Params{}, &order.MissingParameterError{Field: "dstQty"}
	}

	// Taker tokens per maker token, truncated once at the scale factor so both
	// bounds derive from the same fixed-point value.
	rate := dstQty.Div(srcQty).Truncate(scaleDigits)

	srcQtyInt, ok := new(big.Int).SetString(o.SrcQty, 10)
	if !ok {
		return Params{}, fmt.Errorf("srcQty %q is not an integer amount", o.SrcQty)
	}

	startTime := now.Add(StartBuffer)
	return Params{
		AuctionID:           EncodeAuctionID(o),
		BasePrice:           scalePrice(rate),
		StartPrice:          scalePrice(rate.Mul(startFactor)),
		EndPrice:            scalePrice(rate.Mul(endFactor)),
		StartTime:           startTime,
		EndTime:             startTime.Add(duration),
		MakerAmount:         new(big.Int).Mul(srcQtyInt, scaleInt),
		BaseGasPrice:        o.BaseGasPrice,
		GasAdjustmentFactor: o.GasAdjustmentFactor,
	}, nil
}

// EncodeAuctionID derives the opaque on-chain auction identifier from the
// order's raw identity bytes. Deterministic, so a failed registration can be
// retried idempotently and the on-chain auction maps back to the order record.
func EncodeAuctionID(o *order.Order) string {
	return hexutil.Encode(o.ID[:])
}

func scalePrice(d decimal.Decimal) *big.Int {
	return d.Shift(scaleDigits).Truncate(0).BigInt()
}
