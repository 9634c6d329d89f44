package coordinator

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(BlockchainError, "fill failed", cause)

	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap to expose cause")
	}
	if !Is(err, BlockchainError) {
		t.Fatalf("expected Is to match BlockchainError")
	}
	if Is(err, NotFound) {
		t.Fatalf("did not expect Is to match NotFound")
	}
}

func TestKindOfDefaultsForUntypedErrors(t *testing.T) {
	if KindOf(errors.New("boom")) != BlockchainError {
		t.Fatalf("expected untyped error to default to BlockchainError")
	}
	if KindOf(New(ReceiptInvalid, "mismatch")) != ReceiptInvalid {
		t.Fatalf("expected typed error Kind to round-trip")
	}
}

func TestRetriablePolicy(t *testing.T) {
	retriable := []Kind{BlockchainError, ProverUnavailable, ProjectionFault}
	for _, k := range retriable {
		if !k.Retriable() {
			t.Errorf("expected %s to be retriable", k)
		}
	}

	terminal := []Kind{BadInput, NotFound, ReceiptInvalid, ReceiptDisagreesWithReservation, AlreadyTerminal, Overdue, CallerNotBuyer}
	for _, k := range terminal {
		if k.Retriable() {
			t.Errorf("expected %s to be terminal (no retry)", k)
		}
	}
}
