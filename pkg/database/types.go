// Database types for the escrow coordinator's projection store.
// These types map directly to the PostgreSQL schema defined under migrations/.

package database

import (
	"database/sql"
	"math/big"
	"time"
)

// ReservationStatus represents the lifecycle of a reservation, mirroring the
// on-chain ReservationCreated / ReservationSettled / ReservationExpired
// events applied by the tailer.
type ReservationStatus string

const (
	ReservationPending ReservationStatus = "pending"
	ReservationSettled ReservationStatus = "settled"
	ReservationExpired ReservationStatus = "expired"
)

// Offer mirrors an OfferCreatedAndLocked event plus any subsequent
// OfferPartiallyWithdrawn / ReservationCreated / ReservationExpired
// adjustments to RemainingAmount.
type Offer struct {
	OfferID         string    `db:"offer_id" json:"offer_id"`
	Seller          string    `db:"seller" json:"seller"`
	Token           string    `db:"token" json:"token"`
	TotalAmount     *big.Int  `db:"total_amount" json:"total_amount"`
	RemainingAmount *big.Int  `db:"remaining_amount" json:"remaining_amount"`
	ExchangeRate    *big.Int  `db:"exchange_rate" json:"exchange_rate"`
	PayeeID         string    `db:"payee_id" json:"payee_id"`
	PayeeName       string    `db:"payee_name" json:"payee_name"`
	CreatedAtBlock  uint64    `db:"created_at_block" json:"created_at_block"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Reservation mirrors a ReservationCreated event and its subsequent
// receipt/proof/settlement state. Receipt and proof columns stay nil until
// the pipeline attaches them; they are never required for settlement
// projection, which is driven purely by tailer-observed events.
type Reservation struct {
	ReservationID string            `db:"reservation_id" json:"reservation_id"`
	OfferID       string            `db:"offer_id" json:"offer_id"`
	Buyer         string            `db:"buyer" json:"buyer"`
	Token         string            `db:"token" json:"token"`
	TokenAmount   *big.Int          `db:"token_amount" json:"token_amount"`
	FiatAmount    *big.Int          `db:"fiat_amount" json:"fiat_amount"`
	PaymentNonce  string            `db:"payment_nonce" json:"payment_nonce"`
	Status        ReservationStatus `db:"status" json:"status"`
	EscrowTx      string            `db:"escrow_tx" json:"escrow_tx"`
	SettlementTx  sql.NullString    `db:"settlement_tx" json:"settlement_tx,omitempty"`
	ExpiresAt     time.Time         `db:"expires_at" json:"expires_at"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`

	// Receipt pipeline state, attached by pkg/pipeline once a buyer submits
	// their payment receipt. Never written by the tailer.
	ReceiptHash      sql.NullString `db:"receipt_hash" json:"receipt_hash,omitempty"`
	ReceiptBytes     []byte         `db:"receipt_bytes" json:"-"`
	ReceiptFilename  sql.NullString `db:"receipt_filename" json:"receipt_filename,omitempty"`
	ReceiptAt        sql.NullTime   `db:"receipt_at" json:"receipt_at,omitempty"`
	ProofPublicValues []byte        `db:"proof_public_values" json:"proof_public_values,omitempty"`
	ProofAccumulator  []byte        `db:"proof_accumulator" json:"proof_accumulator,omitempty"`
	ProofData         []byte        `db:"proof_data" json:"proof_data,omitempty"`
	ExternalProofID   sql.NullString `db:"external_proof_id" json:"external_proof_id,omitempty"`
	ProofBlob         []byte         `db:"proof_blob" json:"-"`
	ProofSubmittedAt  sql.NullTime   `db:"proof_submitted_at" json:"proof_submitted_at,omitempty"`
}

// SyncCursor tracks the tailer's per-contract replay position: the next
// block number not yet applied.
type SyncCursor struct {
	ContractAddress string    `db:"contract_address" json:"contract_address"`
	NextBlock       uint64    `db:"next_block" json:"next_block"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// NewOffer is used to upsert an offer from an OfferCreatedAndLocked event.
type NewOffer struct {
	OfferID        string
	Seller         string
	Token          string
	TotalAmount    *big.Int
	ExchangeRate   *big.Int
	PayeeID        string
	PayeeName      string
	CreatedAtBlock uint64
}

// NewReservation is used to insert a reservation from a ReservationCreated
// event, mirrored verbatim from the log — never from a chain_gateway.fill
// response directly, to keep the projection single-writer.
type NewReservation struct {
	ReservationID string
	OfferID       string
	Buyer         string
	Token         string
	TokenAmount   *big.Int
	FiatAmount    *big.Int
	PaymentNonce  string
	EscrowTx      string
	ExpiresAt     time.Time
}
