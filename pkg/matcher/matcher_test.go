package matcher

import (
	"math/big"
	"testing"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
)

func offer(id, remaining, rate string) Offer {
	r, _ := new(big.Int).SetString(remaining, 10)
	rt, _ := new(big.Int).SetString(rate, 10)
	return Offer{
		OfferID: id, Seller: "0x123", Token: "0xUSDC",
		Remaining: r, Rate: rt, PayeeID: "test_id", PayeeName: "Test Name",
	}
}

func TestMatchSingleOfferFullFill(t *testing.T) {
	offers := []Offer{offer("0x1", "100000000", "735")}
	plan, err := Match(offers, big.NewInt(100_000_000), nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(plan.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(plan.Fills))
	}
	if !plan.FullyFillable {
		t.Errorf("expected fully fillable")
	}
	if plan.TotalFilled.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Errorf("expected total filled 100000000, got %s", plan.TotalFilled)
	}
}

func TestMatchMultipleOffers(t *testing.T) {
	offers := []Offer{
		offer("0x1", "50000000", "730"),
		offer("0x2", "60000000", "735"),
		offer("0x3", "100000000", "740"),
	}
	plan, err := Match(offers, big.NewInt(100_000_000), nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(plan.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(plan.Fills))
	}
	if !plan.FullyFillable {
		t.Errorf("expected fully fillable")
	}
}

func TestMatchWithRateCeiling(t *testing.T) {
	offers := []Offer{
		offer("0x1", "50000000", "730"),
		offer("0x2", "60000000", "735"),
		offer("0x3", "100000000", "750"),
	}
	ceiling := big.NewInt(740)
	plan, err := Match(offers, big.NewInt(200_000_000), ceiling)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	if len(plan.Fills) != 2 {
		t.Fatalf("expected 2 fills, got %d", len(plan.Fills))
	}
	if plan.FullyFillable {
		t.Errorf("expected not fully fillable")
	}
}

func TestMatchRejectsNonPositiveAmount(t *testing.T) {
	for _, amount := range []int64{0, -1} {
		_, err := Match([]Offer{offer("0x1", "100", "735")}, big.NewInt(amount), nil)
		if coordinator.KindOf(err) != coordinator.BadInput {
			t.Errorf("amount %d: expected BadInput, got %v", amount, err)
		}
	}
}

func TestMatchEmptyOffersIsInsufficientLiquidity(t *testing.T) {
	_, err := Match(nil, big.NewInt(100), nil)
	var insufficient *InsufficientLiquidityError
	if !asInsufficientLiquidity(err, &insufficient) {
		t.Fatalf("expected InsufficientLiquidityError, got %v", err)
	}
}

func TestMatchNeverEmitsZeroAmountFills(t *testing.T) {
	offers := []Offer{
		offer("0x1", "0", "730"),
		offer("0x2", "50", "735"),
	}
	plan, err := Match(offers, big.NewInt(50), nil)
	if err != nil {
		t.Fatalf("Match: %v", err)
	}
	for _, f := range plan.Fills {
		if f.FillAmount.Sign() <= 0 {
			t.Errorf("got non-positive fill amount %s for offer %s", f.FillAmount, f.OfferID)
		}
	}
}

func TestMatchDoesNotMutateInput(t *testing.T) {
	offers := []Offer{offer("0x1", "100", "730")}
	before := new(big.Int).Set(offers[0].Remaining)
	if _, err := Match(offers, big.NewInt(40), nil); err != nil {
		t.Fatalf("Match: %v", err)
	}
	if offers[0].Remaining.Cmp(before) != 0 {
		t.Errorf("expected input offer to be untouched, got remaining %s want %s", offers[0].Remaining, before)
	}
}

func asInsufficientLiquidity(err error, target **InsufficientLiquidityError) bool {
	if il, ok := err.(*InsufficientLiquidityError); ok {
		*target = il
		return true
	}
	return false
}
