// Package pipeline orchestrates the receipt validation and proof
// generation flow: canonical hash precheck, external prover execution,
// full proof generation, and on-chain submission. It never writes
// reservation status itself — only the tailer does, on observing the
// resulting ReservationSettled/ReservationExpired event, so a pipeline
// crash partway through never leaves the projection out of sync with the
// chain.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/fiatescrow/coordinator/pkg/chain"
	"github.com/fiatescrow/coordinator/pkg/coordinator"
	"github.com/fiatescrow/coordinator/pkg/prover"
	"github.com/fiatescrow/coordinator/pkg/receipt"
)

// defaultStreamCacheSize bounds the number of reservations' input streams
// kept in memory at once; a retried submission reuses the cached encoding
// rather than rebuilding it.
const defaultStreamCacheSize = 256

// Gateway is the subset of pkg/chain.Gateway the pipeline depends on.
type Gateway interface {
	GetPkDerHash(ctx context.Context) ([32]byte, error)
	SubmitPaymentProof(ctx context.Context, reservationID [32]byte, publicValues [32]byte, accumulator [384]byte, proof [1376]byte) (string, error)
}

// Prover is the subset of pkg/prover.Client the pipeline depends on.
type Prover interface {
	ExecuteProgram(ctx context.Context, tradeID string, inputStreams []string) ([32]byte, error)
	GenerateEVMProof(ctx context.Context, tradeID string, inputStreams []string) (*prover.GeneratedProof, error)
}

// Reservations is the subset of pkg/database.ReservationRepository the
// pipeline depends on to persist precheck and proof state. Neither call
// changes reservation status — only the tailer does that, on observing the
// resulting on-chain event — so a pipeline crash after one of these calls
// never leaves the projection's status out of sync with the chain, and a
// restarted process can still see what it had already proven.
type Reservations interface {
	AttachReceipt(ctx context.Context, reservationID, receiptHash string, receiptBytes []byte, filename string) (time.Time, error)
	AttachProof(ctx context.Context, reservationID string, publicValues, accumulator, proofData []byte, externalProofID string, proofBlob []byte) error
}

// ChainAdapter adapts a *chain.Gateway to the Gateway interface, converting
// fixed-size array fields into the slice arguments chain.Gateway.SubmitPaymentProof
// takes over the wire.
type ChainAdapter struct {
	Gateway *chain.Gateway
}

func (a ChainAdapter) GetPkDerHash(ctx context.Context) ([32]byte, error) {
	return a.Gateway.GetPkDerHash(ctx)
}

func (a ChainAdapter) SubmitPaymentProof(ctx context.Context, reservationID [32]byte, publicValues [32]byte, accumulator [384]byte, proof [1376]byte) (string, error) {
	return a.Gateway.SubmitPaymentProof(ctx, reservationID, publicValues[:], accumulator[:], proof[:])
}

// Input is everything the pipeline needs to validate and prove a single
// reservation's payment receipt.
type Input struct {
	ReservationID   [32]byte
	ReceiptBytes    []byte
	ReceiptFilename string
	Details         receipt.Details // PkDerHash is overwritten from the gateway before use
}

// Result is the outcome of a successful submission. The reservation's
// status is not updated here; the caller (or the tailer, once it observes
// the resulting event) is responsible for that.
type Result struct {
	ReservationID string
	SettlementTx  string
	ProofID       string
}

// Pipeline drives receipt -> precheck -> prove -> submit for reservations.
type Pipeline struct {
	gateway      Gateway
	prover       Prover
	reservations Reservations
	sem          *semaphore.Weighted
	cache        *lru.Cache[string, [][]byte]
	logger       *log.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger overrides the default stderr logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithStreamCacheSize overrides the default input-stream LRU cache size.
func WithStreamCacheSize(n int) Option {
	return func(p *Pipeline) {
		cache, err := lru.New[string, [][]byte](n)
		if err == nil {
			p.cache = cache
		}
	}
}

// New constructs a Pipeline bounded to maxConcurrent simultaneous
// submissions (precheck+prove each hold a chain and prover round trip).
func New(gateway Gateway, prv Prover, reservations Reservations, maxConcurrent int64, opts ...Option) *Pipeline {
	cache, _ := lru.New[string, [][]byte](defaultStreamCacheSize)
	p := &Pipeline{
		gateway:      gateway,
		prover:       prv,
		reservations: reservations,
		sem:          semaphore.NewWeighted(maxConcurrent),
		cache:        cache,
		logger:       log.New(os.Stderr, "pipeline: ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit validates in's receipt against the chain's expected hash, runs the
// prover's fast precheck, generates the full EVM proof, and submits it
// on-chain. It blocks on the pipeline's concurrency semaphore.
func (p *Pipeline) Submit(ctx context.Context, in Input) (*Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, coordinator.Wrap(coordinator.ProjectionFault, "acquire pipeline slot", err)
	}
	defer p.sem.Release(1)

	tradeID := hex.EncodeToString(in.ReservationID[:])

	pkDerHash, err := p.gateway.GetPkDerHash(ctx)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.BlockchainError, "fetch pk_der_hash", err)
	}
	in.Details.PkDerHash = pkDerHash

	expected, err := receipt.ExpectedHash(in.Details)
	if err != nil {
		return nil, err
	}

	streams, err := p.inputStreams(tradeID, in)
	if err != nil {
		return nil, err
	}

	precheckValues, err := p.prover.ExecuteProgram(ctx, tradeID, hexEncodeStreams(streams))
	if err != nil {
		return nil, err
	}
	if precheckValues != expected {
		return nil, coordinator.New(coordinator.ReceiptInvalid,
			fmt.Sprintf("prover precheck output %x does not match expected hash %x", precheckValues, expected))
	}

	receiptHash := sha256.Sum256(in.ReceiptBytes)
	if _, err := p.reservations.AttachReceipt(ctx, tradeID, hex.EncodeToString(receiptHash[:]), in.ReceiptBytes, in.ReceiptFilename); err != nil {
		return nil, coordinator.Wrap(coordinator.ProjectionFault, "attach receipt", err)
	}

	proof, err := p.prover.GenerateEVMProof(ctx, tradeID, hexEncodeStreams(streams))
	if err != nil {
		return nil, err
	}
	if proof.UserPublicValues != expected {
		return nil, coordinator.New(coordinator.ReceiptDisagreesWithReservation,
			fmt.Sprintf("prover proof output %x does not match expected hash %x", proof.UserPublicValues, expected))
	}

	if err := p.reservations.AttachProof(ctx, tradeID, proof.UserPublicValues[:], proof.Accumulator[:], proof.ProofData[:], proof.ProofID, proof.RawBlob); err != nil {
		return nil, coordinator.Wrap(coordinator.ProjectionFault, "attach proof", err)
	}

	settlementTx, err := p.gateway.SubmitPaymentProof(ctx, in.ReservationID, proof.UserPublicValues, proof.Accumulator, proof.ProofData)
	if err != nil {
		return nil, err
	}

	p.logger.Printf("[%s] payment proof submitted: tx=%s proof_id=%s", tradeID, settlementTx, proof.ProofID)

	return &Result{
		ReservationID: tradeID,
		SettlementTx:  settlementTx,
		ProofID:       proof.ProofID,
	}, nil
}

// inputStreams returns the cached encoding for a reservation, building and
// caching it on first use.
func (p *Pipeline) inputStreams(tradeID string, in Input) ([][]byte, error) {
	if streams, ok := p.cache.Get(tradeID); ok {
		return streams, nil
	}
	streams, err := receipt.BuildInputStream(in.ReceiptBytes, in.Details)
	if err != nil {
		return nil, err
	}
	p.cache.Add(tradeID, streams)
	return streams, nil
}

func hexEncodeStreams(streams [][]byte) []string {
	out := make([]string, len(streams))
	for i, s := range streams {
		out[i] = "0x01" + hex.EncodeToString(s)
	}
	return out
}
