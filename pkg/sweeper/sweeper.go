// Package sweeper periodically cancels reservations that have passed their
// payment window. It never writes to the projection itself — cancel_expired
// only triggers the on-chain ReservationExpired event, which the tailer
// observes and applies, keeping the projection single-writer.
package sweeper

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
	"github.com/fiatescrow/coordinator/pkg/database"
)

// defaultInterval matches the teacher's own anchor scheduler poll cadence
// order of magnitude, generalized to this domain's payment-window scale.
const defaultInterval = 30 * time.Second

// defaultBatchLimit bounds how many overdue reservations are swept per tick.
const defaultBatchLimit = 50

// Gateway is the subset of pkg/chain.Gateway the sweeper depends on.
type Gateway interface {
	CancelExpired(ctx context.Context, reservationID [32]byte) error
}

// Reservations is the subset of pkg/database.ReservationRepository the
// sweeper depends on.
type Reservations interface {
	ReadOverduePending(ctx context.Context, asOf time.Time, limit int) ([]*database.Reservation, error)
}

// Config configures the sweeper's poll cadence and batch size.
type Config struct {
	Interval   time.Duration
	BatchLimit int
}

// DefaultConfig returns the sweeper's default poll cadence and batch size.
func DefaultConfig() Config {
	return Config{Interval: defaultInterval, BatchLimit: defaultBatchLimit}
}

// Sweeper periodically reads overdue pending reservations and cancels them
// on-chain.
type Sweeper struct {
	gateway      Gateway
	reservations Reservations
	cfg          Config
	logger       *log.Logger
}

// New constructs a Sweeper.
func New(gateway Gateway, reservations Reservations, cfg Config, logger *log.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if logger == nil {
		logger = log.New(os.Stderr, "sweeper: ", log.LstdFlags)
	}
	return &Sweeper{gateway: gateway, reservations: reservations, cfg: cfg, logger: logger}
}

// Run blocks, sweeping on cfg.Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.tick(ctx); err != nil {
				s.logger.Printf("sweep tick failed: %v", err)
			}
		}
	}
}

// tick reads the current batch of overdue pending reservations and cancels
// each independently, logging and continuing past benign already-terminal
// reverts (a reservation settled or cancelled between the read and the
// cancel_expired call).
func (s *Sweeper) tick(ctx context.Context) error {
	overdue, err := s.reservations.ReadOverduePending(ctx, time.Now(), s.cfg.BatchLimit)
	if err != nil {
		return coordinator.Wrap(coordinator.ProjectionFault, "read overdue pending", err)
	}

	for _, res := range overdue {
		if err := s.cancelOne(ctx, res); err != nil {
			s.logger.Printf("cancel_expired failed for reservation %s: %v", res.ReservationID, err)
		}
	}
	return nil
}

func (s *Sweeper) cancelOne(ctx context.Context, res *database.Reservation) error {
	id, err := parseBytes32(res.ReservationID)
	if err != nil {
		return coordinator.Wrap(coordinator.BadInput, "parse reservation id", err)
	}

	err = s.gateway.CancelExpired(ctx, id)
	if err == nil {
		return nil
	}

	// A reservation that settled or was already cancelled between the read
	// and this call reverts with AlreadyTerminal; that is expected under
	// concurrent operation, not a sweeper failure.
	if coordinator.KindOf(err) == coordinator.AlreadyTerminal {
		s.logger.Printf("reservation %s already terminal, skipping", res.ReservationID)
		return nil
	}
	return err
}

func parseBytes32(hexStr string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
	if err != nil {
		return out, err
	}
	if len(b) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
