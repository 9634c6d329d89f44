// Package matcher implements the intent matcher: a pure function over a
// caller-supplied, already-sorted slice of active offers. It performs no
// I/O and never mutates its input.
package matcher

import (
	"math/big"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
)

// Offer is the matcher's view of an active offer: exactly the fields a
// plan needs, already sorted by the caller (rate ascending, then creation
// order).
type Offer struct {
	OfferID   string
	Seller    string
	Token     string
	Remaining *big.Int
	Rate      *big.Int
	PayeeID   string
	PayeeName string
}

// Fill is one line item of a Plan: a partial or full draw against a single
// offer.
type Fill struct {
	OfferID    string
	Seller     string
	FillAmount *big.Int
	Rate       *big.Int
	PayeeID    string
	PayeeName  string
	Token      string
}

// Plan is the result of a successful match.
type Plan struct {
	Fills          []Fill
	TotalFilled    *big.Int
	FullyFillable  bool
}

// InsufficientLiquidityError reports that no offer (or combination of
// offers under a rate ceiling) could satisfy any part of desiredAmount.
type InsufficientLiquidityError struct {
	Requested *big.Int
	Available *big.Int
}

func (e *InsufficientLiquidityError) Error() string {
	return "insufficient liquidity"
}

// Match walks offers in the order given, drawing fills until desiredAmount
// is covered or offers are exhausted. If rateCeiling is non-nil, traversal
// stops at the first offer whose Rate exceeds it. Each fill amount is
// min(offer.Remaining, amount still desired), and only ever strictly
// positive — zero-amount fills are never emitted. Match never mutates
// offers.
func Match(offers []Offer, desiredAmount *big.Int, rateCeiling *big.Int) (*Plan, error) {
	if desiredAmount == nil || desiredAmount.Sign() <= 0 {
		return nil, coordinator.New(coordinator.BadInput, "desired amount must be positive")
	}

	remaining := new(big.Int).Set(desiredAmount)
	var fills []Fill
	totalFilled := big.NewInt(0)

	for _, o := range offers {
		if remaining.Sign() <= 0 {
			break
		}
		if rateCeiling != nil && o.Rate.Cmp(rateCeiling) > 0 {
			break
		}
		if o.Remaining == nil || o.Remaining.Sign() <= 0 {
			continue
		}

		fillAmount := new(big.Int).Set(o.Remaining)
		if remaining.Cmp(fillAmount) < 0 {
			fillAmount = new(big.Int).Set(remaining)
		}
		if fillAmount.Sign() <= 0 {
			continue
		}

		fills = append(fills, Fill{
			OfferID:    o.OfferID,
			Seller:     o.Seller,
			FillAmount: fillAmount,
			Rate:       o.Rate,
			PayeeID:    o.PayeeID,
			PayeeName:  o.PayeeName,
			Token:      o.Token,
		})
		totalFilled.Add(totalFilled, fillAmount)
		remaining.Sub(remaining, fillAmount)
	}

	if len(fills) == 0 {
		available := big.NewInt(0)
		for _, o := range offers {
			if o.Remaining != nil && o.Remaining.Sign() > 0 && (rateCeiling == nil || o.Rate.Cmp(rateCeiling) <= 0) {
				available.Add(available, o.Remaining)
			}
		}
		return nil, &InsufficientLiquidityError{Requested: desiredAmount, Available: available}
	}

	return &Plan{
		Fills:         fills,
		TotalFilled:   totalFilled,
		FullyFillable: remaining.Sign() == 0,
	}, nil
}
