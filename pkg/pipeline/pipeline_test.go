package pipeline

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
	"github.com/fiatescrow/coordinator/pkg/prover"
	"github.com/fiatescrow/coordinator/pkg/receipt"
)

type fakeGateway struct {
	pkDerHash    [32]byte
	submittedTx  string
	submitCalled int
}

func (f *fakeGateway) GetPkDerHash(ctx context.Context) ([32]byte, error) {
	return f.pkDerHash, nil
}

func (f *fakeGateway) SubmitPaymentProof(ctx context.Context, reservationID [32]byte, publicValues [32]byte, accumulator [384]byte, proof [1376]byte) (string, error) {
	f.submitCalled++
	return f.submittedTx, nil
}

type fakeProver struct {
	executeResult [32]byte
	proof         *prover.GeneratedProof
	executeErr    error
	proveErr      error
}

func (f *fakeProver) ExecuteProgram(ctx context.Context, tradeID string, inputStreams []string) ([32]byte, error) {
	return f.executeResult, f.executeErr
}

func (f *fakeProver) GenerateEVMProof(ctx context.Context, tradeID string, inputStreams []string) (*prover.GeneratedProof, error) {
	return f.proof, f.proveErr
}

type fakeReservations struct {
	receiptCalls int
	proofCalls   int
}

func (f *fakeReservations) AttachReceipt(ctx context.Context, reservationID, receiptHash string, receiptBytes []byte, filename string) (time.Time, error) {
	f.receiptCalls++
	return time.Now(), nil
}

func (f *fakeReservations) AttachProof(ctx context.Context, reservationID string, publicValues, accumulator, proofData []byte, externalProofID string, proofBlob []byte) error {
	f.proofCalls++
	return nil
}

func testDetails() receipt.Details {
	return receipt.Details{
		PayeeName:       "张三",
		PayeeID:         "13945908941",
		FiatAmountCents: 106000,
		PaymentNonce:    "18191527",
	}
}

func TestSubmitHappyPath(t *testing.T) {
	details := testDetails()
	var resID [32]byte
	resID[31] = 7

	var pkDerHash [32]byte
	expected, err := receipt.ExpectedHash(func() receipt.Details {
		d := details
		d.PkDerHash = pkDerHash
		return d
	}())
	if err != nil {
		t.Fatalf("ExpectedHash: %v", err)
	}

	gw := &fakeGateway{pkDerHash: pkDerHash, submittedTx: "0xsettle"}
	pv := &fakeProver{
		executeResult: expected,
		proof: &prover.GeneratedProof{
			ProofID:          "proof-1",
			UserPublicValues: expected,
		},
	}

	res := &fakeReservations{}
	p := New(gw, pv, res, 2)
	result, err := p.Submit(context.Background(), Input{ReservationID: resID, ReceiptBytes: []byte("receipt"), Details: details})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if result.SettlementTx != "0xsettle" {
		t.Errorf("SettlementTx = %q, want 0xsettle", result.SettlementTx)
	}
	if gw.submitCalled != 1 {
		t.Errorf("expected SubmitPaymentProof called once, got %d", gw.submitCalled)
	}
	if res.receiptCalls != 1 {
		t.Errorf("expected AttachReceipt called once, got %d", res.receiptCalls)
	}
	if res.proofCalls != 1 {
		t.Errorf("expected AttachProof called once, got %d", res.proofCalls)
	}
}

func TestSubmitPrecheckMismatchNeverCallsGateway(t *testing.T) {
	details := testDetails()
	var resID [32]byte
	resID[31] = 9

	gw := &fakeGateway{}
	pv := &fakeProver{executeResult: [32]byte{0xff}} // deliberately wrong

	p := New(gw, pv, &fakeReservations{}, 2)
	_, err := p.Submit(context.Background(), Input{ReservationID: resID, ReceiptBytes: []byte("receipt"), Details: details})
	if coordinator.KindOf(err) != coordinator.ReceiptInvalid {
		t.Fatalf("expected ReceiptInvalid, got %v", err)
	}
	if gw.submitCalled != 0 {
		t.Errorf("expected SubmitPaymentProof never called on precheck mismatch, got %d calls", gw.submitCalled)
	}
}

func TestSubmitCachesInputStreamsAcrossRetries(t *testing.T) {
	details := testDetails()
	var resID [32]byte
	resID[31] = 3

	var pkDerHash [32]byte
	expected, _ := receipt.ExpectedHash(func() receipt.Details {
		d := details
		d.PkDerHash = pkDerHash
		return d
	}())

	gw := &fakeGateway{pkDerHash: pkDerHash, submittedTx: "0xsettle"}
	pv := &fakeProver{executeErr: coordinator.New(coordinator.ProverUnavailable, "transient")}

	p := New(gw, pv, &fakeReservations{}, 1)
	in := Input{ReservationID: resID, ReceiptBytes: []byte("receipt"), Details: details}

	_, err := p.Submit(context.Background(), in)
	if coordinator.KindOf(err) != coordinator.ProverUnavailable {
		t.Fatalf("expected ProverUnavailable on first attempt, got %v", err)
	}

	// Cache entry should already be present for a retry without rebuilding.
	tradeID := hex.EncodeToString(resID[:])
	if _, ok := p.cache.Get(tradeID); !ok {
		t.Errorf("expected input streams to be cached after first attempt")
	}

	pv.executeErr = nil
	pv.executeResult = expected
	pv.proof = &prover.GeneratedProof{ProofID: "proof-2", UserPublicValues: expected}

	result, err := p.Submit(context.Background(), in)
	if err != nil {
		t.Fatalf("Submit (retry): %v", err)
	}
	if result.SettlementTx != "0xsettle" {
		t.Errorf("SettlementTx = %q, want 0xsettle", result.SettlementTx)
	}
}
