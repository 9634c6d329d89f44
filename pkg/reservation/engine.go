// Package reservation implements the reservation lifecycle engine: it
// walks a matcher.Plan and issues one chain_gateway.fill per line item.
// It never writes to the projection store itself — that split-brain is
// deliberately avoided by leaving all projection writes to the tailer's
// own observation of the resulting ReservationCreated events.
package reservation

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fiatescrow/coordinator/pkg/chain"
	"github.com/fiatescrow/coordinator/pkg/coordinator"
	"github.com/fiatescrow/coordinator/pkg/matcher"
)

// Gateway is the subset of pkg/chain.Gateway the engine depends on.
type Gateway interface {
	Fill(ctx context.Context, offerID [32]byte, buyer common.Address, tokenAmount *big.Int) (*FillResult, error)
	GetPaymentWindow(ctx context.Context) (*big.Int, error)
}

// FillResult mirrors chain.FillResult field for field. The Gateway interface
// returns this type, and ChainAdapter converts chain.FillResult into it.
type FillResult struct {
	TxTag         string
	ReservationID [32]byte
	PaymentNonce  string
}

// Record is what the engine returns to its caller for a single fill,
// before the tailer has had a chance to observe and apply the
// corresponding ReservationCreated event.
type Record struct {
	OfferID       string
	ReservationID string
	EscrowTx      string
	PaymentNonce  string
	ExpiresAt     time.Time
	Err           error
}

// ChainAdapter adapts a *chain.Gateway to the Gateway interface, converting
// chain.FillResult into this package's own FillResult shape.
type ChainAdapter struct {
	Gateway *chain.Gateway
}

func (a ChainAdapter) Fill(ctx context.Context, offerID [32]byte, buyer common.Address, tokenAmount *big.Int) (*FillResult, error) {
	r, err := a.Gateway.Fill(ctx, offerID, buyer, tokenAmount)
	if err != nil {
		return nil, err
	}
	return &FillResult{TxTag: r.TxTag, ReservationID: r.ReservationID, PaymentNonce: r.PaymentNonce}, nil
}

func (a ChainAdapter) GetPaymentWindow(ctx context.Context) (*big.Int, error) {
	return a.Gateway.GetPaymentWindow(ctx)
}

// Engine executes a matcher.Plan against a Gateway.
type Engine struct {
	gateway Gateway
	buyer   common.Address
}

// New constructs an Engine for a given buyer address.
func New(gateway Gateway, buyer common.Address) *Engine {
	return &Engine{gateway: gateway, buyer: buyer}
}

// Execute walks plan.Fills in order, calling Fill for each. Fills have no
// cross-fill transactionality: each stands or falls on its own. A failed
// fill is recorded with Err set and the walk continues with the next one,
// so the result holds one Record per fill, in plan order.
func (e *Engine) Execute(ctx context.Context, plan *matcher.Plan) ([]Record, error) {
	paymentWindow, err := e.gateway.GetPaymentWindow(ctx)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.BlockchainError, "fetch payment window", err)
	}

	records := make([]Record, 0, len(plan.Fills))
	for _, fill := range plan.Fills {
		offerID, err := parseBytes32(fill.OfferID)
		if err != nil {
			records = append(records, Record{OfferID: fill.OfferID, Err: coordinator.Wrap(coordinator.BadInput, "parse offer id", err)})
			continue
		}

		result, err := e.gateway.Fill(ctx, offerID, e.buyer, fill.FillAmount)
		if err != nil {
			records = append(records, Record{OfferID: fill.OfferID, Err: err})
			continue
		}

		records = append(records, Record{
			OfferID:       fill.OfferID,
			ReservationID: hex.EncodeToString(result.ReservationID[:]),
			EscrowTx:      result.TxTag,
			PaymentNonce:  result.PaymentNonce,
			ExpiresAt:     time.Now().Add(time.Duration(paymentWindow.Int64()) * time.Second),
		})
	}

	return records, nil
}

func parseBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(trim0x(hexStr))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
