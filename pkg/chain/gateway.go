// Package chain implements the Chain Gateway: the coordinator's sole path
// for writes to and reads from the escrow contract. Every write adds a 20%
// margin to the estimated gas limit, waits for one confirmation, and checks
// the receipt's success bit before returning.
package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
)

// escrowABIJSON is the subset of the escrow contract's ABI the gateway
// needs to pack calls and unpack reads. The full contract carries more
// surface (ownership, upgrades); only the spec's operations are declared.
const escrowABIJSON = `[
  {"type":"function","name":"fill","stateMutability":"nonpayable","inputs":[{"name":"offer_id","type":"bytes32"},{"name":"buyer","type":"address"},{"name":"token_amount","type":"uint256"}],"outputs":[{"name":"reservation_id","type":"bytes32"},{"name":"payment_nonce","type":"string"}]},
  {"type":"function","name":"submit_payment_proof","stateMutability":"nonpayable","inputs":[{"name":"reservation_id","type":"bytes32"},{"name":"public_values","type":"bytes"},{"name":"accumulator","type":"bytes"},{"name":"proof","type":"bytes"}],"outputs":[]},
  {"type":"function","name":"cancel_expired","stateMutability":"nonpayable","inputs":[{"name":"reservation_id","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"update_policy","stateMutability":"nonpayable","inputs":[{"name":"min_fiat","type":"uint256"},{"name":"max_fiat","type":"uint256"},{"name":"payment_window","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"update_verifier","stateMutability":"nonpayable","inputs":[{"name":"verifier","type":"address"}],"outputs":[]},
  {"type":"function","name":"update_zk_parameters","stateMutability":"nonpayable","inputs":[{"name":"pk_der_hash","type":"bytes32"},{"name":"exe_commit","type":"bytes32"},{"name":"vm_commit","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"pause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"unpause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
  {"type":"function","name":"get_policy","stateMutability":"view","inputs":[],"outputs":[{"name":"min_fiat","type":"uint256"},{"name":"max_fiat","type":"uint256"},{"name":"payment_window","type":"uint256"},{"name":"paused","type":"bool"},{"name":"verifier","type":"address"},{"name":"pk_der_hash","type":"bytes32"},{"name":"exe_commit","type":"bytes32"},{"name":"vm_commit","type":"bytes32"}]},
  {"type":"function","name":"get_payment_window","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"get_pk_der_hash","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"offer_exists","stateMutability":"view","inputs":[{"name":"offer_id","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"reservation_exists","stateMutability":"view","inputs":[{"name":"reservation_id","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"current_block","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"ReservationCreated","inputs":[{"name":"reservation_id","type":"bytes32","indexed":true},{"name":"offer_id","type":"bytes32","indexed":true},{"name":"buyer","type":"address","indexed":true},{"name":"token","type":"address","indexed":false},{"name":"token_amount","type":"uint256","indexed":false},{"name":"fiat_amount","type":"uint256","indexed":false},{"name":"payment_nonce","type":"string","indexed":false},{"name":"expires_at","type":"uint256","indexed":false}]}
]`

// gasMarginPercent is the percentage added on top of EstimateGas's result
// to form every write's gas limit, per the spec's fixed 20% margin.
const gasMarginPercent = 20

// Policy mirrors the contract's get_policy() tuple.
type Policy struct {
	MinFiat       *big.Int
	MaxFiat       *big.Int
	PaymentWindow *big.Int
	Paused        bool
	Verifier      common.Address
	PkDerHash     [32]byte
	ExeCommit     [32]byte
	VmCommit      [32]byte
}

// FillResult is returned by Fill: the tx the reservation was created in,
// the reservation id the contract minted, and the buyer's payment nonce.
type FillResult struct {
	TxTag         string
	ReservationID [32]byte
	PaymentNonce  string
}

// Gateway is the coordinator's single point of contact with the escrow
// contract. All writes go through sendAndWait, which enforces the gas
// margin, waits for one confirmation, and translates revert selectors into
// coordinator.Kind errors.
type Gateway struct {
	client          *ethclient.Client
	contractABI     abi.ABI
	contractAddress common.Address
	chainID         *big.Int
	privateKey      *ecdsa.PrivateKey
	fromAddress     common.Address
}

// NewGateway dials the RPC endpoint and parses the embedded ABI. privateKeyHex
// is the signer used for every write this gateway issues.
func NewGateway(ctx context.Context, rpcURL string, chainID int64, contractAddress common.Address, privateKeyHex string) (*Gateway, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}

	contractABI, err := abi.JSON(strings.NewReader(escrowABIJSON))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("parse escrow abi: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	publicKeyECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		client.Close()
		return nil, fmt.Errorf("signer key has unexpected public key type")
	}

	return &Gateway{
		client:          client,
		contractABI:     contractABI,
		contractAddress: contractAddress,
		chainID:         big.NewInt(chainID),
		privateKey:      privateKey,
		fromAddress:     crypto.PubkeyToAddress(*publicKeyECDSA),
	}, nil
}

// Close releases the underlying RPC connection.
func (g *Gateway) Close() {
	g.client.Close()
}

// CurrentBlock returns the chain's current block number.
func (g *Gateway) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := g.client.BlockNumber(ctx)
	if err != nil {
		return 0, coordinator.Wrap(coordinator.BlockchainError, "current_block", err)
	}
	return n, nil
}

// OfferExists reports whether offer_id has ever been created.
func (g *Gateway) OfferExists(ctx context.Context, offerID [32]byte) (bool, error) {
	var out bool
	if err := g.call(ctx, "offer_exists", &out, offerID); err != nil {
		return false, err
	}
	return out, nil
}

// ReservationExists reports whether reservation_id has ever been created.
func (g *Gateway) ReservationExists(ctx context.Context, reservationID [32]byte) (bool, error) {
	var out bool
	if err := g.call(ctx, "reservation_exists", &out, reservationID); err != nil {
		return false, err
	}
	return out, nil
}

// GetPaymentWindow returns the current payment window, in seconds.
func (g *Gateway) GetPaymentWindow(ctx context.Context) (*big.Int, error) {
	var out *big.Int
	if err := g.call(ctx, "get_payment_window", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPkDerHash returns the currently configured proving-key DER hash.
func (g *Gateway) GetPkDerHash(ctx context.Context) ([32]byte, error) {
	var out [32]byte
	if err := g.call(ctx, "get_pk_der_hash", &out); err != nil {
		return [32]byte{}, err
	}
	return out, nil
}

// GetPolicy returns the contract's full policy tuple.
func (g *Gateway) GetPolicy(ctx context.Context) (*Policy, error) {
	callData, err := g.contractABI.Pack("get_policy")
	if err != nil {
		return nil, coordinator.Wrap(coordinator.BadInput, "pack get_policy", err)
	}
	result, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.contractAddress, Data: callData}, nil)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.BlockchainError, "call get_policy", err)
	}
	outputs, err := g.contractABI.Unpack("get_policy", result)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.BlockchainError, "unpack get_policy", err)
	}
	if len(outputs) != 8 {
		return nil, coordinator.New(coordinator.BlockchainError, "get_policy returned unexpected arity")
	}
	return &Policy{
		MinFiat:       outputs[0].(*big.Int),
		MaxFiat:       outputs[1].(*big.Int),
		PaymentWindow: outputs[2].(*big.Int),
		Paused:        outputs[3].(bool),
		Verifier:      outputs[4].(common.Address),
		PkDerHash:     outputs[5].([32]byte),
		ExeCommit:     outputs[6].([32]byte),
		VmCommit:      outputs[7].([32]byte),
	}, nil
}

// Fill submits a fill transaction against offerID for tokenAmount on behalf
// of buyer, returning the reservation the contract minted. The caller never
// writes this result into the projection directly — only the tailer's
// observation of the resulting ReservationCreated event does that.
func (g *Gateway) Fill(ctx context.Context, offerID [32]byte, buyer common.Address, tokenAmount *big.Int) (*FillResult, error) {
	receipt, err := g.sendAndWait(ctx, "fill", offerID, buyer, tokenAmount)
	if err != nil {
		return nil, err
	}

	reservationID, paymentNonce, err := g.decodeFillReturn(ctx, receipt)
	if err != nil {
		return nil, err
	}

	return &FillResult{
		TxTag:         receipt.TxHash.Hex(),
		ReservationID: reservationID,
		PaymentNonce:  paymentNonce,
	}, nil
}

// decodeFillReturn recovers fill's return values from the ReservationCreated
// log in the receipt, since a plain sendTransaction does not carry the
// callee's return data the way an eth_call would. reservation_id is indexed
// and comes off the topic list; payment_nonce is not indexed and has to be
// unpacked from the log data.
func (g *Gateway) decodeFillReturn(ctx context.Context, receipt *types.Receipt) ([32]byte, string, error) {
	event, ok := g.contractABI.Events["ReservationCreated"]
	if !ok {
		// escrowABIJSON declares ReservationCreated, so this branch is only
		// reached if that declaration is removed; it returns a zero
		// reservation id and an empty nonce rather than an error.
		return [32]byte{}, "", nil
	}
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != event.ID {
			continue
		}
		if len(lg.Topics) < 2 {
			return [32]byte{}, "", coordinator.New(coordinator.BlockchainError, "ReservationCreated log missing reservation_id topic")
		}
		var reservationID [32]byte
		copy(reservationID[:], lg.Topics[1].Bytes())

		var data struct {
			Token        common.Address
			TokenAmount  *big.Int
			FiatAmount   *big.Int
			PaymentNonce string
			ExpiresAt    *big.Int
		}
		if err := g.contractABI.UnpackIntoInterface(&data, "ReservationCreated", lg.Data); err != nil {
			return [32]byte{}, "", coordinator.Wrap(coordinator.BlockchainError, "unpack ReservationCreated", err)
		}
		return reservationID, data.PaymentNonce, nil
	}
	return [32]byte{}, "", nil
}

// SubmitPaymentProof submits the accepted ZK proof for a reservation,
// returning the settlement transaction hash. The caller never writes this
// into the projection directly — only the tailer's observation of the
// resulting ReservationSettled event does that.
func (g *Gateway) SubmitPaymentProof(ctx context.Context, reservationID [32]byte, publicValues, accumulator, proof []byte) (string, error) {
	receipt, err := g.sendAndWait(ctx, "submit_payment_proof", reservationID, publicValues, accumulator, proof)
	if err != nil {
		return "", err
	}
	return receipt.TxHash.Hex(), nil
}

// CancelExpired cancels an overdue reservation, releasing its escrowed
// amount back to the offer's remaining balance.
func (g *Gateway) CancelExpired(ctx context.Context, reservationID [32]byte) error {
	_, err := g.sendAndWait(ctx, "cancel_expired", reservationID)
	return err
}

// UpdatePolicy is an admin write adjusting the fiat bounds and payment window.
func (g *Gateway) UpdatePolicy(ctx context.Context, minFiat, maxFiat, paymentWindow *big.Int) error {
	_, err := g.sendAndWait(ctx, "update_policy", minFiat, maxFiat, paymentWindow)
	return err
}

// UpdateVerifier is an admin write rotating the ZK verifier contract.
func (g *Gateway) UpdateVerifier(ctx context.Context, verifier common.Address) error {
	_, err := g.sendAndWait(ctx, "update_verifier", verifier)
	return err
}

// UpdateZKParameters is an admin write rotating the proving-key hash and
// program commitments.
func (g *Gateway) UpdateZKParameters(ctx context.Context, pkDerHash, exeCommit, vmCommit [32]byte) error {
	_, err := g.sendAndWait(ctx, "update_zk_parameters", pkDerHash, exeCommit, vmCommit)
	return err
}

// Pause is an admin write halting new fills and proof submissions.
func (g *Gateway) Pause(ctx context.Context) error {
	_, err := g.sendAndWait(ctx, "pause")
	return err
}

// Unpause is an admin write resuming the contract after Pause.
func (g *Gateway) Unpause(ctx context.Context) error {
	_, err := g.sendAndWait(ctx, "unpause")
	return err
}

func (g *Gateway) call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	callData, err := g.contractABI.Pack(method, params...)
	if err != nil {
		return coordinator.Wrap(coordinator.BadInput, fmt.Sprintf("pack %s", method), err)
	}
	result, err := g.client.CallContract(ctx, ethereum.CallMsg{To: &g.contractAddress, Data: callData}, nil)
	if err != nil {
		return coordinator.Wrap(coordinator.BlockchainError, fmt.Sprintf("call %s", method), err)
	}
	if err := g.contractABI.UnpackIntoInterface(out, method, result); err != nil {
		return coordinator.Wrap(coordinator.BlockchainError, fmt.Sprintf("unpack %s", method), err)
	}
	return nil
}

// sendAndWait packs, signs, sends, and waits for one confirmation on method,
// applying a 20% margin to the estimated gas limit. It translates
// both send-time and revert-time failures into coordinator.Kind errors
// before returning.
func (g *Gateway) sendAndWait(ctx context.Context, method string, params ...interface{}) (*types.Receipt, error) {
	callData, err := g.contractABI.Pack(method, params...)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.BadInput, fmt.Sprintf("pack %s", method), err)
	}

	nonce, err := g.client.PendingNonceAt(ctx, g.fromAddress)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.BlockchainError, "fetch nonce", err)
	}

	gasPrice, err := g.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.BlockchainError, "suggest gas price", err)
	}

	estimated, err := g.client.EstimateGas(ctx, ethereum.CallMsg{
		From: g.fromAddress,
		To:   &g.contractAddress,
		Data: callData,
	})
	if err != nil {
		return nil, mapRevertError(method, err)
	}
	// The margin belongs on the gas estimate, not the price: it exists to
	// cover EstimateGas undershooting the call's actual execution cost, not
	// to pay more per unit of gas.
	gasLimit := estimated * (100 + gasMarginPercent) / 100

	tx := types.NewTransaction(nonce, g.contractAddress, big.NewInt(0), gasLimit, gasPrice, callData)
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(g.chainID), g.privateKey)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.BlockchainError, "sign transaction", err)
	}

	if err := g.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, mapRevertError(method, err)
	}

	receipt, err := bind.WaitMined(ctx, g.client, signedTx)
	if err != nil {
		return nil, coordinator.Wrap(coordinator.BlockchainError, fmt.Sprintf("wait for %s", method), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, coordinator.New(coordinator.BlockchainError, fmt.Sprintf("%s reverted", method))
	}

	return receipt, nil
}

// mapRevertError maps the escrow contract's named revert selectors onto the
// coordinator's Kind taxonomy. Anything unrecognized, including network
// faults, is treated as a retriable BlockchainError.
func mapRevertError(method string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "PaymentDetailsMismatch"):
		return coordinator.Wrap(coordinator.ReceiptDisagreesWithReservation, method, err)
	case strings.Contains(msg, "ReservationNotPending"), strings.Contains(msg, "ReservationAlreadySettled"):
		return coordinator.Wrap(coordinator.AlreadyTerminal, method, err)
	case strings.Contains(msg, "ReservationExpired"):
		return coordinator.Wrap(coordinator.Overdue, method, err)
	case strings.Contains(msg, "NotAuthorized"):
		return coordinator.Wrap(coordinator.CallerNotBuyer, method, err)
	default:
		return coordinator.Wrap(coordinator.BlockchainError, method, err)
	}
}
