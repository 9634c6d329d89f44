package chain

import (
	"errors"
	"testing"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
)

func TestMapRevertErrorSelectors(t *testing.T) {
	cases := []struct {
		revert string
		want   coordinator.Kind
	}{
		{"execution reverted: PaymentDetailsMismatch", coordinator.ReceiptDisagreesWithReservation},
		{"execution reverted: ReservationNotPending", coordinator.AlreadyTerminal},
		{"execution reverted: ReservationAlreadySettled", coordinator.AlreadyTerminal},
		{"execution reverted: ReservationExpired", coordinator.Overdue},
		{"execution reverted: NotAuthorized", coordinator.CallerNotBuyer},
		{"dial tcp: connection refused", coordinator.BlockchainError},
	}

	for _, c := range cases {
		err := mapRevertError("fill", errors.New(c.revert))
		if got := coordinator.KindOf(err); got != c.want {
			t.Errorf("mapRevertError(%q) = %s, want %s", c.revert, got, c.want)
		}
	}
}
