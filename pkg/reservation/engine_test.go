package reservation

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
	"github.com/fiatescrow/coordinator/pkg/matcher"
)

type fakeGateway struct {
	paymentWindow *big.Int
	fillErr       map[string]error
	callCount     int
}

func (f *fakeGateway) Fill(ctx context.Context, offerID [32]byte, buyer common.Address, tokenAmount *big.Int) (*FillResult, error) {
	f.callCount++
	key := string(offerID[:])
	if err, ok := f.fillErr[key]; ok {
		return nil, err
	}
	var id [32]byte
	copy(id[:], offerID[:])
	return &FillResult{TxTag: "0xtx", ReservationID: id, PaymentNonce: "nonce-1"}, nil
}

func (f *fakeGateway) GetPaymentWindow(ctx context.Context) (*big.Int, error) {
	return f.paymentWindow, nil
}

func makeOfferID(b byte) string {
	raw := make([]byte, 32)
	raw[31] = b
	return "0x" + hexEncode(raw)
}

func hexEncode(b []byte) string {
	const hexDigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexDigits[v>>4]
		out[i*2+1] = hexDigits[v&0xf]
	}
	return string(out)
}

func TestEngineExecutesEachFillIndependently(t *testing.T) {
	gw := &fakeGateway{paymentWindow: big.NewInt(900)}
	e := New(gw, common.HexToAddress("0xbuyer"))

	plan := &matcher.Plan{
		Fills: []matcher.Fill{
			{OfferID: makeOfferID(1), FillAmount: big.NewInt(10)},
			{OfferID: makeOfferID(2), FillAmount: big.NewInt(20)},
		},
	}

	records, err := e.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	for _, r := range records {
		if r.Err != nil {
			t.Errorf("unexpected error on record: %v", r.Err)
		}
	}
	if gw.callCount != 2 {
		t.Errorf("expected 2 Fill calls, got %d", gw.callCount)
	}
}

func TestEngineContinuesAfterOneFillFails(t *testing.T) {
	var failOfferKey [32]byte
	failOfferKey[31] = 1

	gw := &fakeGateway{
		paymentWindow: big.NewInt(900),
		fillErr:       map[string]error{string(failOfferKey[:]): coordinator.Wrap(coordinator.BlockchainError, "fill", errors.New("rpc timeout"))},
	}
	e := New(gw, common.HexToAddress("0xbuyer"))

	plan := &matcher.Plan{
		Fills: []matcher.Fill{
			{OfferID: makeOfferID(1), FillAmount: big.NewInt(10)},
			{OfferID: makeOfferID(2), FillAmount: big.NewInt(20)},
		},
	}

	records, err := e.Execute(context.Background(), plan)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records even with one failure, got %d", len(records))
	}
	if records[0].Err == nil {
		t.Errorf("expected first record to carry the fill error")
	}
	if records[1].Err != nil {
		t.Errorf("expected second fill to succeed independently, got %v", records[1].Err)
	}
}
