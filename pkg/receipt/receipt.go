// Package receipt implements the canonical receipt encoding the escrow
// contract and the external ZK prover both agree on: the expected-hash
// pre-check, and the fixed 44-stream witness encoding submitted to the
// prover.
package receipt

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
)

// lineNumbers are the four fixed line positions the contract and prover
// both expect a payment receipt to carry its details at.
var lineNumbers = [4]uint32{20, 21, 29, 32}

// Details are the fields a payment receipt is checked against before it is
// ever sent to the prover.
type Details struct {
	PayeeName       string
	PayeeID         string // exactly 11 ASCII decimal digits
	FiatAmountCents int64  // non-negative
	PaymentNonce    string
	PkDerHash       [32]byte
}

// MaskPayeeID returns the first 3 and last 2 characters of id with the
// middle replaced by six asterisks. id must be exactly 11 characters.
func MaskPayeeID(id string) (string, error) {
	if len(id) != 11 {
		return "", coordinator.New(coordinator.BadInput, fmt.Sprintf("payee id must be 11 characters, got %d", len(id)))
	}
	return id[0:3] + "******" + id[9:11], nil
}

// FormatFiatAmount renders cents as "{yuan}.{cents:02}", e.g. 106000 ->
// "1060.00", 1 -> "0.01", 100 -> "1.00".
func FormatFiatAmount(cents int64) (string, error) {
	if cents < 0 {
		return "", coordinator.New(coordinator.BadInput, "fiat amount cents must be non-negative")
	}
	return fmt.Sprintf("%d.%02d", cents/100, cents%100), nil
}

// lines builds the four fixed-position lines a receipt is checked against.
func lines(d Details) ([4]string, error) {
	masked, err := MaskPayeeID(d.PayeeID)
	if err != nil {
		return [4]string{}, err
	}
	formatted, err := FormatFiatAmount(d.FiatAmountCents)
	if err != nil {
		return [4]string{}, err
	}
	return [4]string{
		"账户名：" + d.PayeeName,
		"账号：" + masked,
		"小写：" + formatted,
		d.PaymentNonce,
	}, nil
}

// ExpectedHash computes the 32-byte hash the contract's submit_payment_proof
// ultimately checks the prover's public output against:
//
//	lines_hash = SHA256(u32le(20)||L20||u32le(21)||L21||u32le(29)||L29||u32le(32)||L32)
//	expected   = SHA256(0x01 || pk_der_hash || lines_hash)
func ExpectedHash(d Details) ([32]byte, error) {
	ls, err := lines(d)
	if err != nil {
		return [32]byte{}, err
	}

	var linesData []byte
	for i, l := range ls {
		var numBuf [4]byte
		binary.LittleEndian.PutUint32(numBuf[:], lineNumbers[i])
		linesData = append(linesData, numBuf[:]...)
		linesData = append(linesData, []byte(l)...)
	}
	linesHash := sha256.Sum256(linesData)

	finalData := make([]byte, 0, 1+32+32)
	finalData = append(finalData, 0x01)
	finalData = append(finalData, d.PkDerHash[:]...)
	finalData = append(finalData, linesHash[:]...)

	return sha256.Sum256(finalData), nil
}
