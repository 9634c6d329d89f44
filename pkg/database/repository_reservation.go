package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"time"
)

// ReservationRepository provides the reservation-side projection primitives:
// insert_reservation, set_reservation_status, set_settlement_tx,
// attach_receipt, attach_proof, and read_overdue_pending.
type ReservationRepository struct {
	client *Client
}

// NewReservationRepository constructs a ReservationRepository over an open Client.
func NewReservationRepository(client *Client) *ReservationRepository {
	return &ReservationRepository{client: client}
}

// InsertReservation records a reservation observed via ReservationCreated.
// Status starts Pending. This is the ONLY path that creates reservation
// rows — the reservation engine never writes here directly, so a fill that
// never echoes back as an event never appears in the projection either.
func (r *ReservationRepository) InsertReservation(ctx context.Context, n NewReservation) error {
	return insertReservation(ctx, r.client, n)
}

// InsertReservationTx is InsertReservation run against tx, so a tailer
// batch's reservation writes commit or roll back with the rest of that
// batch's mutations and its cursor advance.
func (r *ReservationRepository) InsertReservationTx(ctx context.Context, tx *Tx, n NewReservation) error {
	return insertReservation(ctx, tx, n)
}

func insertReservation(ctx context.Context, exec execer, n NewReservation) error {
	const query = `
		INSERT INTO reservations (reservation_id, offer_id, buyer, token, token_amount, fiat_amount, payment_nonce, status, escrow_tx, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8, $9)
		ON CONFLICT (reservation_id) DO NOTHING
	`
	_, err := exec.ExecContext(ctx, query,
		n.ReservationID, n.OfferID, n.Buyer, n.Token, n.TokenAmount.String(), n.FiatAmount.String(),
		n.PaymentNonce, n.EscrowTx, n.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert reservation %s: %w", n.ReservationID, err)
	}
	return nil
}

// SetReservationStatus transitions a reservation's status. Per the
// projection invariant, Pending is the only status a reservation may leave;
// Settled and Expired are terminal.
func (r *ReservationRepository) SetReservationStatus(ctx context.Context, reservationID string, status ReservationStatus) error {
	return setReservationStatus(ctx, r.client, reservationID, status)
}

// SetReservationStatusTx is SetReservationStatus run against tx.
func (r *ReservationRepository) SetReservationStatusTx(ctx context.Context, tx *Tx, reservationID string, status ReservationStatus) error {
	return setReservationStatus(ctx, tx, reservationID, status)
}

func setReservationStatus(ctx context.Context, exec execer, reservationID string, status ReservationStatus) error {
	const query = `
		UPDATE reservations SET status = $2, updated_at = now()
		WHERE reservation_id = $1 AND status = 'pending'
	`
	res, err := exec.ExecContext(ctx, query, reservationID, status)
	if err != nil {
		return fmt.Errorf("set reservation status %s: %w", reservationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set reservation status %s: %w", reservationID, err)
	}
	if n == 0 {
		return fmt.Errorf("set reservation status %s: %w", reservationID, ErrReservationNotFound)
	}
	return nil
}

// SetSettlementTx records the transaction hash a ReservationSettled event
// was observed in.
func (r *ReservationRepository) SetSettlementTx(ctx context.Context, reservationID, txHash string) error {
	return setSettlementTx(ctx, r.client, reservationID, txHash)
}

// SetSettlementTxTx is SetSettlementTx run against tx.
func (r *ReservationRepository) SetSettlementTxTx(ctx context.Context, tx *Tx, reservationID, txHash string) error {
	return setSettlementTx(ctx, tx, reservationID, txHash)
}

func setSettlementTx(ctx context.Context, exec execer, reservationID, txHash string) error {
	const query = `UPDATE reservations SET settlement_tx = $2, updated_at = now() WHERE reservation_id = $1`
	_, err := exec.ExecContext(ctx, query, reservationID, txHash)
	if err != nil {
		return fmt.Errorf("set settlement tx %s: %w", reservationID, err)
	}
	return nil
}

// AttachReceipt records the buyer's uploaded payment receipt — its raw
// bytes, filename, and a content hash used for later comparison against the
// prover's precheck output — and returns the upload timestamp it stamped.
// It never changes reservation status; settlement is tailer-driven.
func (r *ReservationRepository) AttachReceipt(ctx context.Context, reservationID, receiptHash string, receiptBytes []byte, filename string) (time.Time, error) {
	const query = `
		UPDATE reservations
		SET receipt_hash = $2, receipt_bytes = $3, receipt_filename = $4, receipt_at = now(), updated_at = now()
		WHERE reservation_id = $1
		RETURNING receipt_at
	`
	var uploadedAt time.Time
	err := r.client.QueryRowContext(ctx, query, reservationID, receiptHash, receiptBytes, filename).Scan(&uploadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("attach receipt %s: %w", reservationID, ErrReservationNotFound)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("attach receipt %s: %w", reservationID, err)
	}
	return uploadedAt, nil
}

// AttachProof records the generated proof artifact ahead of submission: the
// three fields SubmitPaymentProof sends on-chain, plus the prover's
// external_id and the raw proof_blob kept for audit/replay.
func (r *ReservationRepository) AttachProof(ctx context.Context, reservationID string, publicValues, accumulator, proofData []byte, externalProofID string, proofBlob []byte) error {
	const query = `
		UPDATE reservations
		SET proof_public_values = $2, proof_accumulator = $3, proof_data = $4,
		    external_proof_id = $5, proof_blob = $6, proof_submitted_at = now(), updated_at = now()
		WHERE reservation_id = $1
	`
	res, err := r.client.ExecContext(ctx, query, reservationID, publicValues, accumulator, proofData, externalProofID, proofBlob)
	if err != nil {
		return fmt.Errorf("attach proof %s: %w", reservationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach proof %s: %w", reservationID, err)
	}
	if n == 0 {
		return fmt.Errorf("attach proof %s: %w", reservationID, ErrReservationNotFound)
	}
	return nil
}

// GetReservation returns a single reservation by id, or ErrReservationNotFound.
func (r *ReservationRepository) GetReservation(ctx context.Context, reservationID string) (*Reservation, error) {
	const query = reservationSelect + ` WHERE reservation_id = $1`
	row := r.client.QueryRowContext(ctx, query, reservationID)
	res, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reservation %s: %w", reservationID, err)
	}
	return res, nil
}

// ReadOverduePending returns every Pending reservation whose expires_at has
// passed as of asOf, for the sweeper's cancel_expired sweep.
func (r *ReservationRepository) ReadOverduePending(ctx context.Context, asOf time.Time, limit int) ([]*Reservation, error) {
	const query = reservationSelect + ` WHERE status = 'pending' AND expires_at < $1 ORDER BY expires_at ASC LIMIT $2`
	rows, err := r.client.QueryContext(ctx, query, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("read overdue pending: %w", err)
	}
	defer rows.Close()

	var out []*Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("read overdue pending: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

const reservationSelect = `
	SELECT reservation_id, offer_id, buyer, token, token_amount, fiat_amount, payment_nonce, status,
	       escrow_tx, settlement_tx, expires_at, created_at, updated_at,
	       receipt_hash, receipt_bytes, receipt_filename, receipt_at,
	       proof_public_values, proof_accumulator, proof_data, external_proof_id, proof_blob, proof_submitted_at
	FROM reservations
`

func scanReservation(row rowScanner) (*Reservation, error) {
	var res Reservation
	var tokenAmount, fiatAmount string
	if err := row.Scan(
		&res.ReservationID, &res.OfferID, &res.Buyer, &res.Token, &tokenAmount, &fiatAmount,
		&res.PaymentNonce, &res.Status, &res.EscrowTx, &res.SettlementTx, &res.ExpiresAt,
		&res.CreatedAt, &res.UpdatedAt,
		&res.ReceiptHash, &res.ReceiptBytes, &res.ReceiptFilename, &res.ReceiptAt,
		&res.ProofPublicValues, &res.ProofAccumulator, &res.ProofData, &res.ExternalProofID, &res.ProofBlob, &res.ProofSubmittedAt,
	); err != nil {
		return nil, err
	}
	var ok bool
	if res.TokenAmount, ok = new(big.Int).SetString(tokenAmount, 10); !ok {
		return nil, fmt.Errorf("reservation %s: malformed token_amount %q", res.ReservationID, tokenAmount)
	}
	if res.FiatAmount, ok = new(big.Int).SetString(fiatAmount, 10); !ok {
		return nil, fmt.Errorf("reservation %s: malformed fiat_amount %q", res.ReservationID, fiatAmount)
	}
	return &res, nil
}
