package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/block-vision/sui-go-sdk/models"
	"github.com/block-vision/sui-go-sdk/sui"
)

// ErrWithdrawalNotConfirmed means the referenced transaction does not carry a
// withdrawal event for the expected order.
var ErrWithdrawalNotConfirmed = errors.New("withdrawal not confirmed")

// SuiConfirmer verifies destination-chain withdrawal completion on Sui. The
// COMPLETE_DEPOSITED -> COMPLETED promotion is gated on this confirmation;
// the relayer never decides it on its own.
type SuiConfirmer struct {
	cli *sui.Client
}

func NewSuiConfirmer(rpcURL string) *SuiConfirmer {
	cli := sui.NewSuiClient(rpcURL)
	return &SuiConfirmer{cli: cli.(*sui.Client)}
}

// ConfirmWithdrawal fetches the events of txDigest and requires a
// WithdrawalEvent whose order hash matches. Any other outcome leaves the
// order untouched.
func (c *SuiConfirmer) ConfirmWithdrawal(ctx context.Context, txDigest, orderHash string) error {
	evResp, err := c.cli.SuiGetEvents(ctx, models.SuiGetEventsRequest{
		Digest: txDigest,
	})
	if err != nil {
		return fmt.Errorf("fetching events for %s: %w", txDigest, err)
	}

	if len(evResp) == 0 {
		return fmt.Errorf("%w: no events in tx %s", ErrWithdrawalNotConfirmed, txDigest)
	}

	// Match on the Move type suffix; the package id in front varies per
	// deployment.
	const wantSuffix = "::WithdrawalEvent"

	for _, ev := range evResp {
		if ev == nil || ev.Type == "" || !strings.HasSuffix(ev.Type, wantSuffix) {
			continue
		}

		raw, err := json.Marshal(ev.ParsedJson)
		if err != nil {
			return fmt.Errorf("marshal parsedJson: %w", err)
		}

		var wire struct {
			OrderHash string `json:"order_hash"`
		}
		if err := json.Unmarshal(raw, &wire); err != nil {
			return fmt.Errorf("unmarshal event fields: %w", err)
		}

		if strings.EqualFold(wire.OrderHash, orderHash) {
			return nil
		}
		return fmt.Errorf("%w: tx %s withdrew order %s, expected %s",
			ErrWithdrawalNotConfirmed, txDigest, wire.OrderHash, orderHash)
	}

	return fmt.Errorf("%w: event %s not found in tx %s", ErrWithdrawalNotConfirmed, wantSuffix, txDigest)
}
