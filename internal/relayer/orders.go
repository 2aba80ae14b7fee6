package relayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"relayer/internal/auction"
	"relayer/internal/hash"
	"relayer/internal/order"
	"relayer/internal/quote"
	"relayer/internal/store"
)

// OrderSubmission is a maker's signed swap intent as it arrives on the wire.
// QuoteID references the quote that priced this order; when it resolves to a
// cached build quote, its auction preset seeds the auction window. An explicit
// duration in minutes overrides the preset.
type OrderSubmission struct {
	order.Order
	QuoteID                string `json:"quoteId,omitempty"`
	AuctionDurationMinutes int64  `json:"auctionDuration,omitempty"`
}

// FillSubmission is a resolver's deposit against an order. Hash is the secret
// commitment; Status defaults to OPEN when omitted.
type FillSubmission struct {
	OrderHash string           `json:"orderHash"`
	Hash      string           `json:"hash"`
	Status    order.FillStatus `json:"status,omitempty"`
	Deposit   string           `json:"deposit"`
}

// CreateResult reports both outcomes of an order creation truthfully: the
// persisted order and, separately, whether on-chain auction registration
// confirmed. A failed registration never rolls the order back; the caller
// retries it keyed by the deterministic auction id.
type CreateResult struct {
	Order             *order.Order `json:"order"`
	AuctionID         string       `json:"auctionId"`
	AuctionRegistered bool         `json:"auctionRegistered"`
	AuctionTxHash     string       `json:"auctionTxHash,omitempty"`
	RegistrationError string       `json:"registrationError,omitempty"`
}

// auctionWindow resolves the auction duration for a submission. An explicit
// duration wins. Otherwise the quote referenced by quoteId is looked up in the
// cache and the auction is sized to close at the quoted preset expiration; an
// unknown, expired or presetless quote falls back to the default window.
func (r *Relayer) auctionWindow(sub OrderSubmission) time.Duration {
	if sub.AuctionDurationMinutes > 0 {
		return time.Duration(sub.AuctionDurationMinutes) * time.Minute
	}
	if sub.QuoteID == "" {
		return defaultAuctionDuration
	}

	v, err := r.CachedQuote(sub.QuoteID)
	if err != nil {
		r.logger.Debug().Str("quoteId", sub.QuoteID).Msg("quote not in cache, using default auction window")
		return defaultAuctionDuration
	}
	built, ok := v.(quote.BuildResponse)
	if !ok {
		return defaultAuctionDuration
	}

	d := time.UnixMilli(built.AuctionPreset.ExpirationTime).Sub(r.now().Add(auction.StartBuffer))
	if d <= 0 {
		r.logger.Debug().Str("quoteId", sub.QuoteID).Msg("quote preset expiration already passed, using default auction window")
		return defaultAuctionDuration
	}
	return d
}

// CreateOrder validates, persists, then registers the auction. Persistence
// happens first and is durable before the external call starts: funds safety
// favors a record existing over silent loss of a maker's intent.
func (r *Relayer) CreateOrder(ctx context.Context, sub OrderSubmission) (*CreateResult, error) {
	o := sub.Order
	o.ID = uuid.New()
	o.Status = order.StatusActive
	o.CreatedAt = r.now().UTC()
	o.FillIDs = []uuid.UUID{}
	o.Version = 0

	if err := order.ValidateNew(&o); err != nil {
		return nil, err
	}

	if _, err := r.store.GetOrderByHash(ctx, o.OrderHash); err == nil {
		return nil, ErrDuplicateOrder
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	if err := r.withStoreRetry(ctx, func() error {
		return r.store.InsertOrder(ctx, &o)
	}); err != nil {
		// The uniqueness pre-check above is racy; the constraint is the
		// arbiter when two submissions carry the same hash concurrently.
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateOrder
		}
		return nil, err
	}

	params, err := auction.Build(&o, r.auctionWindow(sub), r.now())
	if err != nil {
		// The order is persisted; report the registration as failed rather
		// than hiding the record.
		r.logger.Error().Err(err).Str("orderHash", o.OrderHash).Msg("auction parameter build failed")
		return &CreateResult{
			Order:             &o,
			AuctionID:         auction.EncodeAuctionID(&o),
			AuctionRegistered: false,
			RegistrationError: err.Error(),
		}, nil
	}

	result := &CreateResult{
		Order:     &o,
		AuctionID: params.AuctionID,
	}
	result.AuctionRegistered, result.AuctionTxHash, result.RegistrationError = r.registerAuction(ctx, params, o.OrderHash)

	r.broadcastOrder(&o)
	return result, nil
}

// registerAuction invokes the external collaborator with a bounded timeout.
// It never holds a per-order lock: the order row is already durable, and a
// slow confirmation must not stall concurrent fill processing.
func (r *Relayer) registerAuction(ctx context.Context, params auction.Params, orderHash string) (bool, string, string) {
	if r.registrar == nil {
		return false, "", "no auction registrar configured"
	}

	ctx, cancel := context.WithTimeout(ctx, r.registerTimeout)
	defer cancel()

	txHash, err := r.registrar.RegisterAuction(ctx, params)
	if err != nil {
		// No automatic rollback or resubmission: the transaction may already
		// be in flight and double-submission risk outweighs a retry here.
		// Retry is a separate idempotent operation keyed by the auction id.
		r.logger.Error().Err(err).
			Str("orderHash", orderHash).
			Str("auctionId", params.AuctionID).
			Msg("auction registration failed")
		return false, "", err.Error()
	}

	r.logger.Info().
		Str("orderHash", orderHash).
		Str("auctionId", params.AuctionID).
		Str("txHash", txHash).
		Msg("auction registered")
	return true, txHash, ""
}

// CreateOrders persists a batch. Every element is validated before anything
// is written; one invalid element fails the whole batch. Callers wanting
// partial success submit one at a time.
func (r *Relayer) CreateOrders(ctx context.Context, subs []OrderSubmission) ([]*order.Order, error) {
	if len(subs) == 0 {
		return nil, &order.MissingParameterError{Field: "orders"}
	}

	orders := make([]*order.Order, len(subs))
	seen := make(map[string]struct{}, len(subs))
	for i, sub := range subs {
		o := sub.Order
		o.ID = uuid.New()
		o.Status = order.StatusActive
		o.CreatedAt = r.now().UTC()
		o.FillIDs = []uuid.UUID{}

		if err := order.ValidateNew(&o); err != nil {
			return nil, &BatchValidationError{Index: i, Err: err}
		}
		if _, dup := seen[o.OrderHash]; dup {
			return nil, &BatchValidationError{Index: i, Err: ErrDuplicateOrder}
		}
		seen[o.OrderHash] = struct{}{}

		if _, err := r.store.GetOrderByHash(ctx, o.OrderHash); err == nil {
			return nil, &BatchValidationError{Index: i, Err: ErrDuplicateOrder}
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}

		orders[i] = &o
	}

	if err := r.withStoreRetry(ctx, func() error {
		return r.store.InsertOrders(ctx, orders)
	}); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrDuplicateOrder
		}
		return nil, err
	}

	for _, o := range orders {
		r.broadcastOrder(o)
	}
	return orders, nil
}

// CreateFill attaches a resolver deposit to its order and refreshes the
// order's aggregate status transactionally. The per-order mutex guarantees
// the aggregate is computed over the current fill set; the store-side version
// CAS backstops it.
func (r *Relayer) CreateFill(ctx context.Context, sub FillSubmission) (*order.Fill, error) {
	if !hash.ValidOrderHash(sub.OrderHash) {
		return nil, &order.MissingParameterError{Field: "orderHash"}
	}
	if sub.Hash == "" || !hash.ValidSecret(sub.Hash) {
		return nil, &order.MissingParameterError{Field: "hash"}
	}

	status := sub.Status
	if status == "" {
		status = order.FillOpen
	}
	switch status {
	case order.FillOpen, order.FillPlaced, order.FillValid, order.FillInvalid, order.FillExpired:
	default:
		return nil, &order.MissingParameterError{Field: "status"}
	}

	o, err := r.getOrderByHash(ctx, sub.OrderHash)
	if err != nil {
		return nil, err
	}

	mu := r.lockOrder(o.ID)
	mu.Lock()
	defer mu.Unlock()

	// Read-compute-write under the lock. A lost version CAS means something
	// bumped the order between our read and write, so re-read and recompute
	// rather than surfacing the transient conflict to the caller.
	var lastErr error
	for attempt := 0; attempt < casRetries; attempt++ {
		o, err = r.getOrderByHash(ctx, sub.OrderHash)
		if err != nil {
			return nil, err
		}

		fills, err := r.store.ListFillsByOrder(ctx, o.ID)
		if err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}

		if err := order.CheckAttach(o, fills, sub.Deposit); err != nil {
			return nil, err
		}

		f := &order.Fill{
			ID:        uuid.New(),
			OrderID:   o.ID,
			Hash:      sub.Hash,
			Status:    status,
			Deposit:   sub.Deposit,
			CreatedAt: r.now().UTC(),
		}

		newStatus := order.AggregateStatus(o, append(fills, *f))
		lastErr = r.withStoreRetry(ctx, func() error {
			return r.store.AttachFill(ctx, f, newStatus, o.ID, o.Version)
		})
		if errors.Is(lastErr, store.ErrConflict) {
			continue
		}
		if lastErr != nil {
			return nil, lastErr
		}

		r.logger.Info().
			Str("orderHash", o.OrderHash).
			Str("fillId", f.ID.String()).
			Str("deposit", f.Deposit).
			Str("orderStatus", string(newStatus)).
			Msg("fill attached")
		return f, nil
	}
	return nil, lastErr
}

// SubmitSecret stores a revealed secret on every fill of the order that is
// ready to accept it and announces the reveal to resolvers. Fills outside
// PLACED/VALID never receive the secret.
func (r *Relayer) SubmitSecret(ctx context.Context, orderHash, secret string) ([]order.Fill, error) {
	if !hash.ValidSecret(secret) {
		return nil, &order.MissingParameterError{Field: "secret"}
	}

	o, err := r.getOrderByHash(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, order.ErrOrderClosed
	}

	fills, err := r.store.ListFillsByOrder(ctx, o.ID)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}

	revealed := []order.Fill{}
	for _, f := range fills {
		if !f.ReadyForSecret() {
			continue
		}
		if err := r.store.UpdateFillSecret(ctx, f.ID, secret); err != nil {
			return nil, errors.Join(ErrStoreUnavailable, err)
		}
		f.Hash = secret
		revealed = append(revealed, f)
	}
	if len(revealed) == 0 {
		return nil, order.ErrFillNotFound
	}

	r.broadcaster.Broadcast([]byte(SecretEvent + " " + orderHash + " " + secret))
	r.logger.Info().Str("orderHash", orderHash).Int("fills", len(revealed)).Msg("secret accepted")
	return revealed, nil
}

// CancelOrder is the explicit terminal override. Allowed only while the order
// is ACTIVE or PARTIAL_DEPOSITED; afterwards resolver funds are committed.
func (r *Relayer) CancelOrder(ctx context.Context, orderHash string) (*order.Order, error) {
	o, err := r.getOrderByHash(ctx, orderHash)
	if err != nil {
		return nil, err
	}

	mu := r.lockOrder(o.ID)
	mu.Lock()
	defer mu.Unlock()

	o, err = r.getOrderByHash(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	if err := order.CheckCancel(o); err != nil {
		return nil, err
	}

	if err := r.withStoreRetry(ctx, func() error {
		return r.store.UpdateOrderStatus(ctx, o.ID, order.StatusCancelled, o.Version)
	}); err != nil {
		return nil, err
	}

	o.Status = order.StatusCancelled
	r.logger.Info().Str("orderHash", orderHash).Msg("order cancelled")
	return o, nil
}

// CompleteOrder promotes COMPLETE_DEPOSITED to COMPLETED once the external
// withdrawal confirmation checks out. The confirmation runs outside the
// per-order lock; only the status write is serialized.
func (r *Relayer) CompleteOrder(ctx context.Context, orderHash, txDigest string) (*order.Order, error) {
	o, err := r.getOrderByHash(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	if err := order.CheckComplete(o); err != nil {
		return nil, err
	}

	if r.confirmer != nil {
		if txDigest == "" {
			return nil, &order.MissingParameterError{Field: "txDigest"}
		}
		if err := r.confirmer.ConfirmWithdrawal(ctx, txDigest, orderHash); err != nil {
			return nil, err
		}
	}

	mu := r.lockOrder(o.ID)
	mu.Lock()
	defer mu.Unlock()

	o, err = r.getOrderByHash(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	if err := order.CheckComplete(o); err != nil {
		return nil, err
	}

	if err := r.withStoreRetry(ctx, func() error {
		return r.store.UpdateOrderStatus(ctx, o.ID, order.StatusCompleted, o.Version)
	}); err != nil {
		return nil, err
	}

	o.Status = order.StatusCompleted
	r.logger.Info().Str("orderHash", orderHash).Str("txDigest", txDigest).Msg("order completed")
	return o, nil
}

// RetryAuctionRegistration re-submits the auction for an existing order. Safe
// to call repeatedly: the auction id is derived from the order id, so the
// contract deduplicates.
func (r *Relayer) RetryAuctionRegistration(ctx context.Context, orderHash string) (*CreateResult, error) {
	o, err := r.getOrderByHash(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, order.ErrOrderClosed
	}

	params, err := auction.Build(o, defaultAuctionDuration, r.now())
	if err != nil {
		return nil, err
	}

	result := &CreateResult{Order: o, AuctionID: params.AuctionID}
	result.AuctionRegistered, result.AuctionTxHash, result.RegistrationError = r.registerAuction(ctx, params, orderHash)
	return result, nil
}

// SecretsData returns the order plus every fill, the full picture needed for
// withdrawal or cancellation on either chain.
func (r *Relayer) SecretsData(ctx context.Context, orderHash string) (*order.Order, []order.Fill, error) {
	o, err := r.getOrderByHash(ctx, orderHash)
	if err != nil {
		return nil, nil, err
	}
	fills, err := r.store.ListFillsByOrder(ctx, o.ID)
	if err != nil {
		return nil, nil, errors.Join(ErrStoreUnavailable, err)
	}
	return o, fills, nil
}

// ReadyFills returns the fills of an order that may accept a secret reveal.
func (r *Relayer) ReadyFills(ctx context.Context, orderHash string) ([]order.Fill, error) {
	o, fills, err := r.SecretsData(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, order.ErrOrderNotFound
	}

	ready := []order.Fill{}
	for _, f := range fills {
		if f.ReadyForSecret() {
			ready = append(ready, f)
		}
	}
	return ready, nil
}

func (r *Relayer) ActiveOrders(ctx context.Context, srcChain, dstChain int64) ([]*order.Order, error) {
	orders, err := r.store.ListActiveOrders(ctx, srcChain, dstChain)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return orders, nil
}

func (r *Relayer) OrdersByMaker(ctx context.Context, maker string, f store.MakerFilter) ([]*order.Order, error) {
	orders, err := r.store.ListOrdersByMaker(ctx, maker, f)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return orders, nil
}

func (r *Relayer) OrderStatus(ctx context.Context, orderHash string) (order.Status, error) {
	o, err := r.getOrderByHash(ctx, orderHash)
	if err != nil {
		return "", err
	}
	return o.Status, nil
}

func (r *Relayer) OrderStatuses(ctx context.Context, hashes []string) ([]*order.Order, error) {
	orders, err := r.store.GetOrdersByHashes(ctx, hashes)
	if err != nil {
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return orders, nil
}

func (r *Relayer) getOrderByHash(ctx context.Context, orderHash string) (*order.Order, error) {
	o, err := r.store.GetOrderByHash(ctx, orderHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, order.ErrOrderNotFound
		}
		return nil, errors.Join(ErrStoreUnavailable, err)
	}
	return o, nil
}

func (r *Relayer) broadcastOrder(o *order.Order) {
	payload, err := json.Marshal(o)
	if err != nil {
		r.logger.Error().Err(err).Str("orderHash", o.OrderHash).Msg("order broadcast marshal failed")
		return
	}
	r.broadcaster.Broadcast(append([]byte(OrderEvent+" "), payload...))
	r.logger.Info().Str("orderHash", o.OrderHash).Msg(fmt.Sprintf("order broadcasted @ %s", o.ID))
}
