package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
)

// OfferRepository provides the offer-side projection primitives the tailer
// and matcher read and write: upsert_offer, adjust_remaining, and
// read_active_offers.
type OfferRepository struct {
	client *Client
}

// NewOfferRepository constructs an OfferRepository over an open Client.
func NewOfferRepository(client *Client) *OfferRepository {
	return &OfferRepository{client: client}
}

// UpsertOffer inserts a new offer or, if one already exists for OfferID,
// overwrites its terms (the tailer never observes OfferCreatedAndLocked
// twice for the same id under normal operation, but replay after a cursor
// rewind must be idempotent).
func (r *OfferRepository) UpsertOffer(ctx context.Context, o NewOffer) error {
	return upsertOffer(ctx, r.client, o)
}

// UpsertOfferTx is UpsertOffer run against tx, so a tailer batch's offer
// writes commit or roll back with the rest of that batch's mutations and its
// cursor advance.
func (r *OfferRepository) UpsertOfferTx(ctx context.Context, tx *Tx, o NewOffer) error {
	return upsertOffer(ctx, tx, o)
}

func upsertOffer(ctx context.Context, exec execer, o NewOffer) error {
	const query = `
		INSERT INTO offers (offer_id, seller, token, total_amount, remaining_amount, exchange_rate, payee_id, payee_name, created_at_block)
		VALUES ($1, $2, $3, $4, $4, $5, $6, $7, $8)
		ON CONFLICT (offer_id) DO UPDATE SET
			seller = EXCLUDED.seller,
			token = EXCLUDED.token,
			total_amount = EXCLUDED.total_amount,
			remaining_amount = EXCLUDED.total_amount,
			exchange_rate = EXCLUDED.exchange_rate,
			payee_id = EXCLUDED.payee_id,
			payee_name = EXCLUDED.payee_name,
			created_at_block = EXCLUDED.created_at_block,
			updated_at = now()
	`
	_, err := exec.ExecContext(ctx, query,
		o.OfferID, o.Seller, o.Token, o.TotalAmount.String(), o.ExchangeRate.String(), o.PayeeID, o.PayeeName, o.CreatedAtBlock)
	if err != nil {
		return fmt.Errorf("upsert offer %s: %w", o.OfferID, err)
	}
	return nil
}

// AdjustRemaining applies delta (positive or negative) to an offer's
// remaining_amount. Used for OfferPartiallyWithdrawn (-withdrawn),
// ReservationCreated (-token_amount), and ReservationExpired
// (+token_amount) event application.
func (r *OfferRepository) AdjustRemaining(ctx context.Context, offerID string, delta *big.Int) error {
	return adjustRemaining(ctx, r.client, offerID, delta)
}

// AdjustRemainingTx is AdjustRemaining run against tx.
func (r *OfferRepository) AdjustRemainingTx(ctx context.Context, tx *Tx, offerID string, delta *big.Int) error {
	return adjustRemaining(ctx, tx, offerID, delta)
}

func adjustRemaining(ctx context.Context, exec execer, offerID string, delta *big.Int) error {
	const query = `
		UPDATE offers SET remaining_amount = remaining_amount + $2, updated_at = now()
		WHERE offer_id = $1
	`
	res, err := exec.ExecContext(ctx, query, offerID, delta.String())
	if err != nil {
		return fmt.Errorf("adjust remaining for offer %s: %w", offerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("adjust remaining for offer %s: %w", offerID, err)
	}
	if n == 0 {
		return fmt.Errorf("adjust remaining for offer %s: %w", offerID, ErrOfferNotFound)
	}
	return nil
}

// GetOffer returns a single offer by id, or ErrOfferNotFound.
func (r *OfferRepository) GetOffer(ctx context.Context, offerID string) (*Offer, error) {
	const query = `
		SELECT offer_id, seller, token, total_amount, remaining_amount, exchange_rate, payee_id, payee_name, created_at_block, created_at, updated_at
		FROM offers WHERE offer_id = $1
	`
	row := r.client.QueryRowContext(ctx, query, offerID)
	o, err := scanOffer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOfferNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offer %s: %w", offerID, err)
	}
	return o, nil
}

// ReadActiveOffers returns every offer with positive remaining_amount,
// sorted by rate ascending then creation block ascending — the order the
// matcher requires of its input.
func (r *OfferRepository) ReadActiveOffers(ctx context.Context) ([]*Offer, error) {
	const query = `
		SELECT offer_id, seller, token, total_amount, remaining_amount, exchange_rate, payee_id, payee_name, created_at_block, created_at, updated_at
		FROM offers
		WHERE remaining_amount > 0
		ORDER BY exchange_rate ASC, created_at_block ASC
	`
	rows, err := r.client.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read active offers: %w", err)
	}
	defer rows.Close()

	var offers []*Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("read active offers: %w", err)
		}
		offers = append(offers, o)
	}
	return offers, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOffer(row rowScanner) (*Offer, error) {
	var o Offer
	var total, remaining, rate string
	if err := row.Scan(&o.OfferID, &o.Seller, &o.Token, &total, &remaining, &rate,
		&o.PayeeID, &o.PayeeName, &o.CreatedAtBlock, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	var ok bool
	if o.TotalAmount, ok = new(big.Int).SetString(total, 10); !ok {
		return nil, fmt.Errorf("offer %s: malformed total_amount %q", o.OfferID, total)
	}
	if o.RemainingAmount, ok = new(big.Int).SetString(remaining, 10); !ok {
		return nil, fmt.Errorf("offer %s: malformed remaining_amount %q", o.OfferID, remaining)
	}
	if o.ExchangeRate, ok = new(big.Int).SetString(rate, 10); !ok {
		return nil, fmt.Errorf("offer %s: malformed exchange_rate %q", o.OfferID, rate)
	}
	return &o, nil
}
