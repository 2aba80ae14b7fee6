package relayer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/imkira/go-ttlmap"
	"github.com/rs/zerolog"

	"relayer/internal/auction"
	"relayer/internal/quote"
	"relayer/internal/store"
)

const (
	// QuoteTTL is how long a built quote stays retrievable by its id.
	QuoteTTL = time.Minute * 15

	// defaultAuctionDuration applies when a submission carries no explicit
	// auction window.
	defaultAuctionDuration = 10 * time.Minute

	storeRetries    = 3
	storeRetryDelay = 100 * time.Millisecond

	// casRetries bounds the read-compute-write loop when a fill attach loses
	// the version race.
	casRetries = 3
)

// Registrar registers a Dutch auction with the external contract and awaits
// its confirmation. chain.Session is the production implementation.
type Registrar interface {
	RegisterAuction(ctx context.Context, p auction.Params) (txHash string, err error)
}

// WithdrawalConfirmer verifies destination-chain withdrawal completion before
// an order may promote to COMPLETED.
type WithdrawalConfirmer interface {
	ConfirmWithdrawal(ctx context.Context, txDigest, orderHash string) error
}

// Relayer is the lifecycle orchestrator: it owns the persistence sequencing,
// per-order serialization, and the hand-off to the external auction and
// withdrawal collaborators.
type Relayer struct {
	store       *store.Store
	engine      *quote.Engine
	quotes      *ttlmap.Map
	registrar   Registrar
	confirmer   WithdrawalConfirmer
	broadcaster *Broadcaster
	logger      zerolog.Logger
	now         func() time.Time

	// One mutex per order aggregate. Orders are independent; no cross-order
	// locking exists anywhere.
	orderLocks sync.Map

	registerTimeout time.Duration
}

type Option func(*Relayer)

// WithRegistrar attaches the auction contract collaborator.
func WithRegistrar(r Registrar) Option {
	return func(rl *Relayer) { rl.registrar = r }
}

// WithConfirmer attaches the withdrawal confirmation collaborator.
func WithConfirmer(c WithdrawalConfirmer) Option {
	return func(rl *Relayer) { rl.confirmer = c }
}

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(rl *Relayer) {
		rl.now = now
		rl.engine = quote.NewEngineWithClock(now)
	}
}

func New(st *store.Store, logger zerolog.Logger, opts ...Option) *Relayer {
	quotes := ttlmap.New(&ttlmap.Options{
		InitialCapacity: 32,
	})

	r := &Relayer{
		store:           st,
		engine:          quote.NewEngine(),
		quotes:          quotes,
		broadcaster:     NewBroadcaster(),
		logger:          logger.With().Str("component", "relayer").Logger(),
		now:             time.Now,
		registerTimeout: 2 * time.Minute,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Broadcaster exposes the event stream registry for the websocket server.
func (r *Relayer) Broadcaster() *Broadcaster {
	return r.broadcaster
}

func (r *Relayer) Close() {
	r.broadcaster.Close()
	r.quotes.Drain()
}

// lockOrder returns the mutex serializing mutations of one order aggregate.
func (r *Relayer) lockOrder(id uuid.UUID) *sync.Mutex {
	v, _ := r.orderLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// withStoreRetry retries connectivity-class store failures a bounded number
// of times before surfacing ErrStoreUnavailable. NotFound, version conflicts
// and constraint violations are returned immediately; they are deterministic
// outcomes, not connectivity problems, and retrying them cannot succeed.
func (r *Relayer) withStoreRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= storeRetries; attempt++ {
		err = fn()
		if err == nil ||
			errors.Is(err, store.ErrNotFound) ||
			errors.Is(err, store.ErrConflict) ||
			errors.Is(err, store.ErrDuplicate) {
			return err
		}

		r.logger.Warn().Err(err).Int("attempt", attempt).Msg("store operation failed")
		select {
		case <-time.After(time.Duration(attempt) * storeRetryDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Join(ErrStoreUnavailable, err)
}
