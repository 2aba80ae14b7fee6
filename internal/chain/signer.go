package chain

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// ErrAuctionRegistration marks a failed or unconfirmed on-chain auction
// registration. The order record is persisted independently of it; callers
// report both states rather than rolling back.
var ErrAuctionRegistration = errors.New("auction registration failed")

// Config holds what the signer session needs to talk to the auction contract.
type Config struct {
	RPCURL          string
	SecretKey       string // hex-encoded ECDSA private key
	ChainID         *big.Int
	AuctionContract common.Address
	ConfirmTimeout  time.Duration
}

// Session is the signer/contract session: an ethclient plus a keyed
// transactor bound to the auction contract. Established once per process and
// reused across requests; transaction submission is serialized by the signer
// nonce, not by this struct.
type Session struct {
	client         *ethclient.Client
	opts           *bind.TransactOpts
	contract       common.Address
	confirmTimeout time.Duration
}

var (
	sessionOnce sync.Once
	session     *Session
	sessionErr  error
)

// Initialize dials the session exactly once per process lifetime.
// Re-initialization is idempotent: later calls return the cached session.
func Initialize(cfg Config) (*Session, error) {
	sessionOnce.Do(func() {
		session, sessionErr = Dial(cfg)
	})
	return session, sessionErr
}

// Dial builds a fresh session. Tests and multi-endpoint tooling use this
// directly; production code goes through Initialize.
func Dial(cfg Config) (*Session, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", cfg.RPCURL, err)
	}

	key, err := crypto.HexToECDSA(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("parse signer key: %w", err)
	}

	opts, err := bind.NewKeyedTransactorWithChainID(key, cfg.ChainID)
	if err != nil {
		return nil, fmt.Errorf("build transactor: %w", err)
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout == 0 {
		confirmTimeout = 2 * time.Minute
	}

	return &Session{
		client:         client,
		opts:           opts,
		contract:       cfg.AuctionContract,
		confirmTimeout: confirmTimeout,
	}, nil
}
