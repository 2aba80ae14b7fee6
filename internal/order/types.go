package order

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an order. Every value except CANCELLED is
// derivable from the order's fills via AggregateStatus; CANCELLED is an
// explicit terminal override.
type Status string

const (
	StatusCreated           Status = "CREATED"
	StatusActive            Status = "ACTIVE"
	StatusPartialDeposited  Status = "PARTIAL_DEPOSITED"
	StatusCompleteDeposited Status = "COMPLETE_DEPOSITED"
	StatusCompleted         Status = "COMPLETED"
	StatusCancelled         Status = "CANCELLED"
)

// Terminal reports whether no further fill attachment or status change is
// accepted for an order in this state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// FillStatus is the lifecycle state of a single resolver fill. A fill never
// transitions backward once VALID or INVALID.
type FillStatus string

const (
	FillOpen    FillStatus = "OPEN"
	FillPlaced  FillStatus = "PLACED"
	FillValid   FillStatus = "VALID"
	FillInvalid FillStatus = "INVALID"
	FillExpired FillStatus = "EXPIRED"
)

// Order is a maker's cross-chain swap intent. Quantities are decimal strings
// in on-chain base units; they are parsed with big.Int wherever arithmetic is
// needed, never floats.
type Order struct {
	ID                           uuid.UUID   `json:"id"`
	OrderHash                    string      `json:"orderHash"`
	SrcChain                     int64       `json:"srcChain"`
	DestinationChain             int64       `json:"destinationChain"`
	SrcTokenAddress              string      `json:"srcTokenAddress"`
	DstTokenAddress              string      `json:"dstTokenAddress"`
	MakerSourceChainAddress      string      `json:"makerSourceChainAddress"`
	MakerDestinationChainAddress string      `json:"makerDestinationChainAddress"`
	SrcQty                       string      `json:"srcQty"`
	DstQty                       string      `json:"dstQty"`
	Status                       Status      `json:"status"`
	FillIDs                      []uuid.UUID `json:"fillIds"`
	CreatedAt                    time.Time   `json:"createdAt"`

	// Version is the optimistic-concurrency counter for the order aggregate.
	// Bumped on every status write; not part of the wire shape.
	Version int64 `json:"-"`

	// Opaque pass-throughs for the auction collaborator. Never interpreted
	// by the relayer.
	BaseGasPrice        string `json:"baseGasPrice,omitempty"`
	GasAdjustmentFactor string `json:"gasAdjustmentFactor,omitempty"`
}

// Fill is one resolver's partial or complete deposit against an order.
// Hash starts life as the secret commitment and is overwritten with the
// revealed secret once the fill is ready and a reveal arrives.
type Fill struct {
	ID        uuid.UUID  `json:"id"`
	OrderID   uuid.UUID  `json:"orderId"`
	Hash      string     `json:"hash"`
	Status    FillStatus `json:"status"`
	Deposit   string     `json:"deposit"`
	CreatedAt time.Time  `json:"createdAt"`
}

// ReadyForSecret reports whether this fill may accept a secret reveal.
// A fill in OPEN has no confirmed deposit yet; INVALID and EXPIRED fills must
// never accept a secret.
func (f Fill) ReadyForSecret() bool {
	return f.Status == FillPlaced || f.Status == FillValid
}
