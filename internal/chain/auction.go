package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"relayer/internal/auction"
)

// ABI JSON for the Dutch auction registry, createAuction only.
const auctionABI = `[
	{
        "inputs": [
            {
                "internalType": "bytes",
                "name": "auctionId",
                "type": "bytes"
            },
            {
                "internalType": "uint256",
                "name": "basePrice",
                "type": "uint256"
            },
            {
                "internalType": "uint256",
                "name": "startPrice",
                "type": "uint256"
            },
            {
                "internalType": "uint256",
                "name": "endPrice",
                "type": "uint256"
            },
            {
                "internalType": "string",
                "name": "startTime",
                "type": "string"
            },
            {
                "internalType": "string",
                "name": "endTime",
                "type": "string"
            },
            {
                "internalType": "uint256",
                "name": "makerAmount",
                "type": "uint256"
            }
        ],
        "name": "createAuction",
        "outputs": [],
        "stateMutability": "nonpayable",
        "type": "function"
    }
]`

// RegisterAuction submits the Dutch auction parameters to the on-chain
// registry and awaits the mined receipt. The auction id is derived from the
// order id, so resubmitting after a timeout is safe: the contract treats a
// duplicate id as a no-op.
//
// Runs outside any per-order lock; a slow confirmation must not stall fill
// processing for the same order.
func (s *Session) RegisterAuction(ctx context.Context, p auction.Params) (string, error) {
	parsed, err := abi.JSON(strings.NewReader(auctionABI))
	if err != nil {
		return "", fmt.Errorf("%w: parse abi: %v", ErrAuctionRegistration, err)
	}

	auctionID, err := hexutil.Decode(p.AuctionID)
	if err != nil {
		return "", fmt.Errorf("%w: decode auction id %q: %v", ErrAuctionRegistration, p.AuctionID, err)
	}

	// Scaled prices must fit uint256 before packing; anything larger is a
	// builder bug, not a transient chain failure.
	for name, v := range map[string]*big.Int{
		"basePrice":   p.BasePrice,
		"startPrice":  p.StartPrice,
		"endPrice":    p.EndPrice,
		"makerAmount": p.MakerAmount,
	} {
		if _, overflow := uint256.FromBig(v); overflow || v.Sign() < 0 {
			return "", fmt.Errorf("%w: %s out of uint256 range: %s", ErrAuctionRegistration, name, v)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	contract := bind.NewBoundContract(s.contract, parsed, s.client, s.client, s.client)

	opts := *s.opts
	opts.Context = ctx

	tx, err := contract.Transact(&opts, "createAuction",
		auctionID,
		p.BasePrice,
		p.StartPrice,
		p.EndPrice,
		p.StartTimeISO(),
		p.EndTimeISO(),
		p.MakerAmount,
	)
	if err != nil {
		return "", fmt.Errorf("%w: submit: %v", ErrAuctionRegistration, err)
	}

	receipt, err := bind.WaitMined(ctx, s.client, tx)
	if err != nil {
		return "", fmt.Errorf("%w: await confirmation for %s: %v", ErrAuctionRegistration, tx.Hash(), err)
	}
	if receipt.Status == 0 {
		return "", fmt.Errorf("%w: transaction %s reverted", ErrAuctionRegistration, tx.Hash())
	}

	return tx.Hash().Hex(), nil
}
