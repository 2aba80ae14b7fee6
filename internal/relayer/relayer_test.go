package relayer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relayer/internal/auction"
	"relayer/internal/order"
	"relayer/internal/quote"
	"relayer/internal/store"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubRegistrar struct {
	mu    sync.Mutex
	err   error
	calls int
	last  auction.Params
}

func (s *stubRegistrar) RegisterAuction(_ context.Context, p auction.Params) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.last = p
	if s.err != nil {
		return "", s.err
	}
	return "0xfeedtx", nil
}

type stubConfirmer struct {
	err    error
	digest string
}

func (s *stubConfirmer) ConfirmWithdrawal(_ context.Context, txDigest, _ string) error {
	s.digest = txDigest
	return s.err
}

func newTestRelayer(t *testing.T, opts ...Option) (*Relayer, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	opts = append(opts, WithClock(func() time.Time { return testTime }))
	r := New(st, zerolog.Nop(), opts...)
	t.Cleanup(r.Close)
	return r, st
}

func orderHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

func submission(n int) OrderSubmission {
	return OrderSubmission{
		Order: order.Order{
			OrderHash:                    orderHash(n),
			SrcChain:                     1,
			DestinationChain:             101,
			SrcTokenAddress:              "0xsrc",
			DstTokenAddress:              "0xdst",
			MakerSourceChainAddress:      "0xmakerSrc",
			MakerDestinationChainAddress: "0xmakerDst",
			SrcQty:                       "100",
			DstQty:                       "80",
		},
	}
}

func TestCreateOrderRegistersAuction(t *testing.T) {
	reg := &stubRegistrar{}
	r, st := newTestRelayer(t, WithRegistrar(reg))

	res, err := r.CreateOrder(context.Background(), submission(1))
	require.NoError(t, err)

	assert.True(t, res.AuctionRegistered)
	assert.Equal(t, "0xfeedtx", res.AuctionTxHash)
	assert.Equal(t, order.StatusActive, res.Order.Status)
	assert.Equal(t, 1, reg.calls)
	assert.Equal(t, res.AuctionID, reg.last.AuctionID)

	stored, err := st.GetOrderByHash(context.Background(), orderHash(1))
	require.NoError(t, err)
	assert.Equal(t, order.StatusActive, stored.Status)
}

func TestCreateOrderRegistrationFailureKeepsOrder(t *testing.T) {
	reg := &stubRegistrar{err: errors.New("rpc down")}
	r, st := newTestRelayer(t, WithRegistrar(reg))

	res, err := r.CreateOrder(context.Background(), submission(2))
	require.NoError(t, err)

	assert.False(t, res.AuctionRegistered)
	assert.Contains(t, res.RegistrationError, "rpc down")

	// The order outlives the failed registration.
	stored, err := st.GetOrderByHash(context.Background(), orderHash(2))
	require.NoError(t, err)
	assert.Equal(t, order.StatusActive, stored.Status)
}

func TestCreateOrderDuplicate(t *testing.T) {
	r, _ := newTestRelayer(t)

	_, err := r.CreateOrder(context.Background(), submission(3))
	require.NoError(t, err)

	_, err = r.CreateOrder(context.Background(), submission(3))
	assert.ErrorIs(t, err, ErrDuplicateOrder)
}

func TestCreateOrderInvalid(t *testing.T) {
	r, _ := newTestRelayer(t)

	sub := submission(4)
	sub.SrcQty = "0"
	_, err := r.CreateOrder(context.Background(), sub)

	var missing *order.MissingParameterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "srcQty", missing.Field)
}

func TestRetryAuctionRegistration(t *testing.T) {
	reg := &stubRegistrar{err: errors.New("rpc down")}
	r, _ := newTestRelayer(t, WithRegistrar(reg))

	res, err := r.CreateOrder(context.Background(), submission(5))
	require.NoError(t, err)
	require.False(t, res.AuctionRegistered)

	reg.mu.Lock()
	reg.err = nil
	reg.mu.Unlock()

	retry, err := r.RetryAuctionRegistration(context.Background(), orderHash(5))
	require.NoError(t, err)
	assert.True(t, retry.AuctionRegistered)
	// Same deterministic auction id on both attempts.
	assert.Equal(t, res.AuctionID, retry.AuctionID)
}

func TestCreateOrdersAllOrNothing(t *testing.T) {
	r, st := newTestRelayer(t)

	subs := []OrderSubmission{submission(10), submission(11)}
	subs[1].DstQty = "-5"

	_, err := r.CreateOrders(context.Background(), subs)
	var batchErr *BatchValidationError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 1, batchErr.Index)

	// Nothing from the failed batch persisted, including the valid element.
	_, err = st.GetOrderByHash(context.Background(), orderHash(10))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateOrdersDuplicateWithinBatch(t *testing.T) {
	r, _ := newTestRelayer(t)

	_, err := r.CreateOrders(context.Background(), []OrderSubmission{submission(12), submission(12)})
	var batchErr *BatchValidationError
	require.ErrorAs(t, err, &batchErr)
	assert.ErrorIs(t, batchErr, ErrDuplicateOrder)
}

func TestCreateOrdersSuccess(t *testing.T) {
	r, st := newTestRelayer(t)

	orders, err := r.CreateOrders(context.Background(), []OrderSubmission{submission(13), submission(14)})
	require.NoError(t, err)
	require.Len(t, orders, 2)

	for _, o := range orders {
		stored, err := st.GetOrderByHash(context.Background(), o.OrderHash)
		require.NoError(t, err)
		assert.Equal(t, order.StatusActive, stored.Status)
	}
}

func TestCreateFillProgressesOrderStatus(t *testing.T) {
	r, st := newTestRelayer(t)
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(20))
	require.NoError(t, err)

	_, err = r.CreateFill(ctx, FillSubmission{
		OrderHash: orderHash(20),
		Hash:      orderHash(900),
		Status:    order.FillValid,
		Deposit:   "40",
	})
	require.NoError(t, err)

	o, err := st.GetOrderByHash(ctx, orderHash(20))
	require.NoError(t, err)
	assert.Equal(t, order.StatusPartialDeposited, o.Status)

	_, err = r.CreateFill(ctx, FillSubmission{
		OrderHash: orderHash(20),
		Hash:      orderHash(901),
		Status:    order.FillValid,
		Deposit:   "60",
	})
	require.NoError(t, err)

	o, err = st.GetOrderByHash(ctx, orderHash(20))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleteDeposited, o.Status)
	assert.Len(t, o.FillIDs, 2)
}

func TestCreateFillOverDeposit(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(21))
	require.NoError(t, err)

	// An OPEN fill still counts against capacity.
	_, err = r.CreateFill(ctx, FillSubmission{
		OrderHash: orderHash(21),
		Hash:      orderHash(902),
		Deposit:   "70",
	})
	require.NoError(t, err)

	_, err = r.CreateFill(ctx, FillSubmission{
		OrderHash: orderHash(21),
		Hash:      orderHash(903),
		Deposit:   "40",
	})
	var overErr *order.OverDepositError
	require.ErrorAs(t, err, &overErr)
	assert.Equal(t, "30", overErr.Remaining)
}

func TestCreateFillUnknownOrder(t *testing.T) {
	r, _ := newTestRelayer(t)

	_, err := r.CreateFill(context.Background(), FillSubmission{
		OrderHash: orderHash(999),
		Hash:      orderHash(904),
		Deposit:   "10",
	})
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestCreateFillConcurrent(t *testing.T) {
	r, st := newTestRelayer(t)
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(22))
	require.NoError(t, err)

	// srcQty is 100; ten concurrent deposits of 20 can admit exactly five.
	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.CreateFill(ctx, FillSubmission{
				OrderHash: orderHash(22),
				Hash:      orderHash(910 + i),
				Status:    order.FillValid,
				Deposit:   "20",
			})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				var overErr *order.OverDepositError
				assert.ErrorAs(t, err, &overErr)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, accepted)

	o, err := st.GetOrderByHash(ctx, orderHash(22))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleteDeposited, o.Status)
	assert.Len(t, o.FillIDs, 5)
}

func TestSubmitSecretOnlyReadyFills(t *testing.T) {
	r, st := newTestRelayer(t)
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(23))
	require.NoError(t, err)

	placed, err := r.CreateFill(ctx, FillSubmission{
		OrderHash: orderHash(23),
		Hash:      orderHash(920),
		Status:    order.FillPlaced,
		Deposit:   "30",
	})
	require.NoError(t, err)

	open, err := r.CreateFill(ctx, FillSubmission{
		OrderHash: orderHash(23),
		Hash:      orderHash(921),
		Deposit:   "30",
	})
	require.NoError(t, err)

	secret := orderHash(777)
	revealed, err := r.SubmitSecret(ctx, orderHash(23), secret)
	require.NoError(t, err)
	require.Len(t, revealed, 1)
	assert.Equal(t, placed.ID, revealed[0].ID)

	stored, err := st.GetFill(ctx, placed.ID)
	require.NoError(t, err)
	assert.Equal(t, secret, stored.Hash)

	// The OPEN fill keeps its commitment.
	stored, err = st.GetFill(ctx, open.ID)
	require.NoError(t, err)
	assert.Equal(t, orderHash(921), stored.Hash)
}

func TestSubmitSecretNoReadyFills(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(24))
	require.NoError(t, err)

	_, err = r.SubmitSecret(ctx, orderHash(24), orderHash(778))
	assert.ErrorIs(t, err, order.ErrFillNotFound)
}

func TestSubmitSecretRejectsMalformed(t *testing.T) {
	r, _ := newTestRelayer(t)

	_, err := r.SubmitSecret(context.Background(), orderHash(24), "not-hex")
	var missing *order.MissingParameterError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "secret", missing.Field)
}

func TestCancelOrder(t *testing.T) {
	r, st := newTestRelayer(t)
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(25))
	require.NoError(t, err)

	o, err := r.CancelOrder(ctx, orderHash(25))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, o.Status)

	stored, err := st.GetOrderByHash(ctx, orderHash(25))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, stored.Status)

	// Cancelling twice trips the terminal guard.
	_, err = r.CancelOrder(ctx, orderHash(25))
	assert.ErrorIs(t, err, order.ErrOrderClosed)
}

func TestCancelOrderAfterFullDeposit(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(26))
	require.NoError(t, err)

	_, err = r.CreateFill(ctx, FillSubmission{
		OrderHash: orderHash(26),
		Hash:      orderHash(930),
		Status:    order.FillValid,
		Deposit:   "100",
	})
	require.NoError(t, err)

	_, err = r.CancelOrder(ctx, orderHash(26))
	assert.ErrorIs(t, err, order.ErrOrderClosed)
}

func TestCompleteOrder(t *testing.T) {
	conf := &stubConfirmer{}
	r, st := newTestRelayer(t, WithConfirmer(conf))
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(27))
	require.NoError(t, err)

	_, err = r.CreateFill(ctx, FillSubmission{
		OrderHash: orderHash(27),
		Hash:      orderHash(940),
		Status:    order.FillValid,
		Deposit:   "100",
	})
	require.NoError(t, err)

	o, err := r.CompleteOrder(ctx, orderHash(27), "Digest123")
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, o.Status)
	assert.Equal(t, "Digest123", conf.digest)

	stored, err := st.GetOrderByHash(ctx, orderHash(27))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, stored.Status)
}

func TestCompleteOrderConfirmationFailure(t *testing.T) {
	conf := &stubConfirmer{err: errors.New("no withdrawal event")}
	r, st := newTestRelayer(t, WithConfirmer(conf))
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(28))
	require.NoError(t, err)

	_, err = r.CreateFill(ctx, FillSubmission{
		OrderHash: orderHash(28),
		Hash:      orderHash(941),
		Status:    order.FillValid,
		Deposit:   "100",
	})
	require.NoError(t, err)

	_, err = r.CompleteOrder(ctx, orderHash(28), "DigestBad")
	require.Error(t, err)

	stored, err := st.GetOrderByHash(ctx, orderHash(28))
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleteDeposited, stored.Status)
}

func TestCompleteOrderRequiresFullDeposit(t *testing.T) {
	r, _ := newTestRelayer(t, WithConfirmer(&stubConfirmer{}))
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(29))
	require.NoError(t, err)

	_, err = r.CompleteOrder(ctx, orderHash(29), "Digest")
	assert.ErrorIs(t, err, order.ErrOrderClosed)
}

func TestReadyFills(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(30))
	require.NoError(t, err)

	for i, st := range []order.FillStatus{order.FillOpen, order.FillPlaced, order.FillValid, order.FillInvalid} {
		_, err = r.CreateFill(ctx, FillSubmission{
			OrderHash: orderHash(30),
			Hash:      orderHash(950 + i),
			Status:    st,
			Deposit:   "25",
		})
		require.NoError(t, err)
	}

	ready, err := r.ReadyFills(ctx, orderHash(30))
	require.NoError(t, err)
	require.Len(t, ready, 2)
	for _, f := range ready {
		assert.True(t, f.ReadyForSecret())
	}
}

func TestActiveOrdersFiltersChains(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	a := submission(31)
	b := submission(32)
	b.SrcChain = 2

	_, err := r.CreateOrder(ctx, a)
	require.NoError(t, err)
	_, err = r.CreateOrder(ctx, b)
	require.NoError(t, err)

	orders, err := r.ActiveOrders(ctx, 1, 101)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, orderHash(31), orders[0].OrderHash)
}

func TestOrderStatuses(t *testing.T) {
	r, _ := newTestRelayer(t)
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(33))
	require.NoError(t, err)
	_, err = r.CreateOrder(ctx, submission(34))
	require.NoError(t, err)

	orders, err := r.OrderStatuses(ctx, []string{orderHash(33), orderHash(34), orderHash(35)})
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	status, err := r.OrderStatus(ctx, orderHash(33))
	require.NoError(t, err)
	assert.Equal(t, order.StatusActive, status)

	_, err = r.OrderStatus(ctx, orderHash(35))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestQuoteCaching(t *testing.T) {
	r, _ := newTestRelayer(t)

	resp, err := r.BuildQuote(quote.Request{
		SrcChain:        1,
		DstChain:        101,
		SrcTokenAddress: "0xsrc",
		DstTokenAddress: "0xdst",
		Amount:          "1000000",
		WalletAddress:   "0xwallet",
		FeeBps:          25,
	})
	require.NoError(t, err)
	require.NotEmpty(t, resp.QuoteID)

	cached, err := r.CachedQuote(resp.QuoteID)
	require.NoError(t, err)
	got, ok := cached.(quote.BuildResponse)
	require.True(t, ok)
	assert.Equal(t, resp.ToQty, got.ToQty)

	_, err = r.CachedQuote("deadbeef")
	assert.ErrorIs(t, err, ErrQuoteNotFound)
}

func TestCreateOrderSeedsAuctionWindowFromQuote(t *testing.T) {
	reg := &stubRegistrar{}
	r, _ := newTestRelayer(t, WithRegistrar(reg))
	ctx := context.Background()

	exp := testTime.Add(30 * time.Minute).UnixMilli()
	built, err := r.BuildQuote(quote.Request{
		SrcChain:        1,
		DstChain:        101,
		SrcTokenAddress: "0xsrc",
		DstTokenAddress: "0xdst",
		Amount:          "100",
		WalletAddress:   "0xmakerSrc",
		Expiration:      exp,
	})
	require.NoError(t, err)

	sub := submission(41)
	sub.QuoteID = built.QuoteID
	res, err := r.CreateOrder(ctx, sub)
	require.NoError(t, err)
	require.True(t, res.AuctionRegistered)

	// The auction closes exactly at the quoted preset expiration.
	assert.True(t, reg.last.StartTime.Equal(testTime.Add(time.Minute)))
	assert.True(t, reg.last.EndTime.Equal(time.UnixMilli(exp)))

	// An explicit duration overrides the quote preset.
	sub = submission(42)
	sub.QuoteID = built.QuoteID
	sub.AuctionDurationMinutes = 5
	_, err = r.CreateOrder(ctx, sub)
	require.NoError(t, err)
	assert.True(t, reg.last.EndTime.Equal(testTime.Add(6*time.Minute)))
}

func TestCreateOrderUnknownQuoteDefaultWindow(t *testing.T) {
	reg := &stubRegistrar{}
	r, _ := newTestRelayer(t, WithRegistrar(reg))

	sub := submission(43)
	sub.QuoteID = "deadbeef"
	_, err := r.CreateOrder(context.Background(), sub)
	require.NoError(t, err)

	assert.True(t, reg.last.EndTime.Equal(testTime.Add(time.Minute+defaultAuctionDuration)))
}

func TestDeterministicFailuresNotRetried(t *testing.T) {
	r, st := newTestRelayer(t)
	ctx := context.Background()

	_, err := r.CreateOrder(ctx, submission(50))
	require.NoError(t, err)

	// A uniqueness violation is the caller's race, not a connectivity
	// failure; one attempt, no backoff, no ErrStoreUnavailable.
	attempts := 0
	err = r.withStoreRetry(ctx, func() error {
		attempts++
		dup := submission(50).Order
		dup.ID = uuid.New()
		dup.Status = order.StatusActive
		dup.CreatedAt = testTime
		return st.InsertOrder(ctx, &dup)
	})
	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)
	assert.Equal(t, 1, attempts)

	// Same for a lost version CAS.
	o, err := st.GetOrderByHash(ctx, orderHash(50))
	require.NoError(t, err)

	attempts = 0
	err = r.withStoreRetry(ctx, func() error {
		attempts++
		f := &order.Fill{
			ID:        uuid.New(),
			OrderID:   o.ID,
			Hash:      orderHash(960),
			Status:    order.FillOpen,
			Deposit:   "1",
			CreatedAt: testTime,
		}
		return st.AttachFill(ctx, f, order.StatusActive, o.ID, o.Version+99)
	})
	assert.ErrorIs(t, err, store.ErrConflict)
	assert.Equal(t, 1, attempts)
}

func TestBroadcasterReceivesOrderEvents(t *testing.T) {
	r, _ := newTestRelayer(t)

	ch := make(chan []byte, 4)
	id := r.Broadcaster().RegisterReceiver(ch)
	defer r.Broadcaster().UnregisterReceiver(id)

	_, err := r.CreateOrder(context.Background(), submission(40))
	require.NoError(t, err)

	select {
	case msg := <-ch:
		assert.Contains(t, string(msg), OrderEvent+" ")
		assert.Contains(t, string(msg), orderHash(40))
	case <-time.After(time.Second):
		t.Fatal("no broadcast received")
	}
}
