package quote

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"time"

	"relayer/internal/order"
)

// ErrInvalidFee rejects feeBps outside [0, 10000). An out-of-range fee is an
// input error, never a silent clamp.
var ErrInvalidFee = errors.New("feeBps must be in [0, 10000)")

const feeDenominator = 10_000

// defaultPresetWindow is how far in the future the auction preset expires when
// the request does not carry an explicit expiration.
const defaultPresetWindow = 10 * time.Minute

// Request carries the quote parameters. The same shape serves the GET route
// (decoded from the query string via gorilla/schema) and the POST routes
// (decoded from JSON).
type Request struct {
	SrcChain        int64  `json:"srcChain" schema:"srcChain"`
	DstChain        int64  `json:"dstChain" schema:"dstChain"`
	SrcTokenAddress string `json:"srcTokenAddress" schema:"srcTokenAddress"`
	DstTokenAddress string `json:"dstTokenAddress" schema:"dstTokenAddress"`
	Amount          string `json:"amount" schema:"amount"`
	WalletAddress   string `json:"walletAddress" schema:"walletAddress"`
	FeeBps          int    `json:"fee" schema:"fee"`
	EnableEstimate  bool   `json:"enableEstimate" schema:"enableEstimate"`
	IsPermit2       string `json:"isPermit2,omitempty" schema:"isPermit2"`
	Permit          string `json:"permit,omitempty" schema:"permit"`

	// Build-route overrides for the auction preset.
	PriceStart string `json:"priceStart,omitempty" schema:"priceStart"`
	PriceEnd   string `json:"priceEnd,omitempty" schema:"priceEnd"`
	Expiration int64  `json:"expiration,omitempty" schema:"expiration"`
}

type Response struct {
	SrcChain        int64  `json:"srcChain"`
	DstChain        int64  `json:"dstChain"`
	SrcTokenAddress string `json:"srcTokenAddress"`
	DstTokenAddress string `json:"dstTokenAddress"`
	Amount          string `json:"amount"`
	WalletAddress   string `json:"walletAddress"`
	FeeBps          int    `json:"feeBps"`
	ToQty           string `json:"toQty"`
	QuoteID         string `json:"quoteId,omitempty"`
	EstimatedAt     int64  `json:"estimatedAt,omitempty"`
	IsPermit2       string `json:"isPermit2,omitempty"`
	Permit          string `json:"permit,omitempty"`
}

// AuctionPreset is the three parameters a Dutch auction curve needs: starting
// ask, floor, and deadline (unix millis).
type AuctionPreset struct {
	StartAmount    string `json:"startAmount"`
	MinReturn      string `json:"minReturn"`
	ExpirationTime int64  `json:"expirationTime"`
}

type BuildResponse struct {
	Response
	AuctionPreset AuctionPreset `json:"auctionPreset"`
}

// quoteIDPayload fixes the field order of the canonical serialization hashed
// into the quote id. Struct order is the canonical order; do not reorder.
type quoteIDPayload struct {
	SrcChain        int64  `json:"srcChain"`
	DstChain        int64  `json:"dstChain"`
	SrcTokenAddress string `json:"srcTokenAddress"`
	DstTokenAddress string `json:"dstTokenAddress"`
	Amount          string `json:"amount"`
	WalletAddress   string `json:"walletAddress"`
	FeeBps          int    `json:"feeBps"`
	NowMillis       int64  `json:"nowMillis"`
}

// ComputeReceiveQuantity computes amount * (10000 - feeBps) / 10000 in
// unbounded integer arithmetic, truncating toward zero. Amounts are on-chain
// base units; floating point here would be a fund-safety bug.
func ComputeReceiveQuantity(amount string, feeBps int) (*big.Int, error) {
	if feeBps < 0 || feeBps >= feeDenominator {
		return nil, ErrInvalidFee
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok || amt.Sign() < 0 {
		return nil, &order.MissingParameterError{Field: "amount"}
	}

	out := new(big.Int).Mul(amt, big.NewInt(int64(feeDenominator-feeBps)))
	return out.Quo(out, big.NewInt(feeDenominator)), nil
}

// DeriveQuoteID hashes the quote's defining parameters plus the supplied clock
// value into a 256-bit content id. Because nowMillis is salted in, identical
// business parameters at different instants produce different ids: this is a
// correlation token for clients, not an idempotency or cache key.
func DeriveQuoteID(r Request, nowMillis int64) string {
	payload, _ := json.Marshal(quoteIDPayload{
		SrcChain:        r.SrcChain,
		DstChain:        r.DstChain,
		SrcTokenAddress: r.SrcTokenAddress,
		DstTokenAddress: r.DstTokenAddress,
		Amount:          r.Amount,
		WalletAddress:   r.WalletAddress,
		FeeBps:          r.FeeBps,
		NowMillis:       nowMillis,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// ValidateRequest checks required fields in a fixed order and reports the
// first one missing or malformed.
func ValidateRequest(r Request) error {
	if r.SrcChain == 0 {
		return &order.MissingParameterError{Field: "srcChain"}
	}
	if r.DstChain == 0 {
		return &order.MissingParameterError{Field: "dstChain"}
	}
	if r.SrcTokenAddress == "" {
		return &order.MissingParameterError{Field: "srcTokenAddress"}
	}
	if r.DstTokenAddress == "" {
		return &order.MissingParameterError{Field: "dstTokenAddress"}
	}
	if r.Amount == "" {
		return &order.MissingParameterError{Field: "amount"}
	}
	if amt, ok := new(big.Int).SetString(r.Amount, 10); !ok || amt.Sign() < 0 {
		return &order.MissingParameterError{Field: "amount"}
	}
	if r.WalletAddress == "" {
		return &order.MissingParameterError{Field: "walletAddress"}
	}
	return nil
}

// Engine computes quotes with an injectable clock so quote ids are
// deterministic under test.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineWithClock builds an engine with a fixed clock source.
func NewEngineWithClock(now func() time.Time) *Engine {
	return &Engine{now: now}
}

// Quote validates the request and computes the receive quantity. The quote id
// and estimation timestamp are attached only when the caller asked for an
// estimate.
func (e *Engine) Quote(r Request) (Response, error) {
	if err := ValidateRequest(r); err != nil {
		return Response{}, err
	}

	toQty, err := ComputeReceiveQuantity(r.Amount, r.FeeBps)
	if err != nil {
		return Response{}, err
	}

	resp := Response{
		SrcChain:        r.SrcChain,
		DstChain:        r.DstChain,
		SrcTokenAddress: r.SrcTokenAddress,
		DstTokenAddress: r.DstTokenAddress,
		Amount:          r.Amount,
		WalletAddress:   r.WalletAddress,
		FeeBps:          r.FeeBps,
		ToQty:           toQty.String(),
		IsPermit2:       r.IsPermit2,
		Permit:          r.Permit,
	}

	if r.EnableEstimate {
		nowMillis := e.now().UnixMilli()
		resp.QuoteID = DeriveQuoteID(r, nowMillis)
		resp.EstimatedAt = nowMillis
	}

	return resp, nil
}

// Build computes a quote and unconditionally attaches a quote id and the
// auction preset that seeds a subsequently created order. Missing preset
// overrides fall back to the quote itself: start at the full amount, floor at
// the post-fee receive quantity.
func (e *Engine) Build(r Request) (BuildResponse, error) {
	r.EnableEstimate = true
	resp, err := e.Quote(r)
	if err != nil {
		return BuildResponse{}, err
	}

	preset := AuctionPreset{
		StartAmount:    r.PriceStart,
		MinReturn:      r.PriceEnd,
		ExpirationTime: r.Expiration,
	}
	if preset.StartAmount == "" {
		preset.StartAmount = r.Amount
	}
	if preset.MinReturn == "" {
		preset.MinReturn = resp.ToQty
	}
	if preset.ExpirationTime == 0 {
		preset.ExpirationTime = e.now().Add(defaultPresetWindow).UnixMilli()
	}

	return BuildResponse{Response: resp, AuctionPreset: preset}, nil
}
