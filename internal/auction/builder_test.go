package auction

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayer/internal/order"
)

func testOrder(srcQty, dstQty string) *order.Order {
	return &order.Order{
		ID:        uuid.MustParse("0192aabb-ccdd-7eff-8899-aabbccddeeff"),
		OrderHash: "0x2222222222222222222222222222222222222222222222222222222222222222",
		SrcQty:    srcQty,
		DstQty:    dstQty,
		Status:    order.StatusActive,
	}
}

func TestBuildPriceBounds(t *testing.T) {
	// srcQty=10, dstQty=8: rate 0.8, start 5% above, end 2% below, scale 1e6.
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	p, err := Build(testOrder("10", "8"), 5*time.Minute, now)
	require.NoError(t, err)

	assert.Equal(t, "800000", p.BasePrice.String())
	assert.Equal(t, "840000", p.StartPrice.String())
	assert.Equal(t, "784000", p.EndPrice.String())
	assert.Equal(t, "10000000", p.MakerAmount.String())
}

func TestBuildTruncatesRate(t *testing.T) {
	// 1/3 = 0.333333... truncated at 6 decimals, never rounded up.
	p, err := Build(testOrder("3", "1"), time.Minute, time.Now())
	require.NoError(t, err)

	assert.Equal(t, "333333", p.BasePrice.String())
	// 0.333333 * 1.05 = 0.34999965 -> 349999
	assert.Equal(t, "349999", p.StartPrice.String())
	// 0.333333 * 0.98 = 0.32666634 -> 326666
	assert.Equal(t, "326666", p.EndPrice.String())
}

func TestBuildWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	p, err := Build(testOrder("10", "8"), 7*time.Minute, now)
	require.NoError(t, err)

	assert.Equal(t, now.Add(time.Minute), p.StartTime)
	assert.Equal(t, now.Add(8*time.Minute), p.EndTime)
	assert.Equal(t, "2025-06-01T12:01:00Z", p.StartTimeISO())
	assert.Equal(t, "2025-06-01T12:08:00Z", p.EndTimeISO())
}

func TestBuildRejectsBadInputs(t *testing.T) {
	now := time.Now()

	var missing *order.MissingParameterError
	_, err := Build(testOrder("10", "8"), 0, now)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "auctionDuration", missing.Field)

	_, err = Build(testOrder("0", "8"), time.Minute, now)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "srcQty", missing.Field)

	_, err = Build(testOrder("10", "nope"), time.Minute, now)
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "dstQty", missing.Field)
}

func TestEncodeAuctionID(t *testing.T) {
	o := testOrder("10", "8")
	id := EncodeAuctionID(o)

	// Hex encoding of the raw uuid bytes, 0x-prefixed.
	assert.Equal(t, "0x0192aabbccdd7eff8899aabbccddeeff", id)
	assert.Equal(t, id, EncodeAuctionID(o), "auction id must be deterministic")

	p, err := Build(o, time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, id, p.AuctionID)

	other := testOrder("10", "8")
	other.ID = uuid.New()
	assert.NotEqual(t, id, EncodeAuctionID(other))
}

func TestBuildPassesGasFieldsThrough(t *testing.T) {
	o := testOrder("10", "8")
	o.BaseGasPrice = "1500000000"
	o.GasAdjustmentFactor = "1.2"

	p, err := Build(o, time.Minute, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "1500000000", p.BaseGasPrice)
	assert.Equal(t, "1.2", p.GasAdjustmentFactor)
}
