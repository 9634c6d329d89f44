package receipt

import (
	"encoding/binary"
	"fmt"

	"github.com/fiatescrow/coordinator/pkg/coordinator"
)

// expectedStreamCount is fixed at 3 + 2*lineCount + 1 + 32 = 44 for the
// current four-line receipt layout. BuildInputStream asserts this rather
// than trust the loop below to get it right.
const expectedStreamCount = 3 + 2*len(lineNumbers) + 1 + 32

// BuildInputStream encodes a receipt and its expected pk_der_hash into the
// ordered byte streams the external prover's execute/prove endpoints
// consume. Each stream is returned as raw bytes; callers hex-encode and
// 0x01-tag them per the prover's wire format.
func BuildInputStream(receiptBytes []byte, d Details) ([][]byte, error) {
	ls, err := lines(d)
	if err != nil {
		return nil, err
	}

	var streams [][]byte

	// Stream 0: receipt bytes, zero-padded to a multiple of 4.
	padded := append([]byte(nil), receiptBytes...)
	if pad := (4 - len(padded)%4) % 4; pad != 0 {
		padded = append(padded, make([]byte, pad)...)
	}
	streams = append(streams, padded)

	// Stream 1: page number (always 0 for this receipt format).
	streams = append(streams, []byte{0})

	// Stream 2: line count.
	streams = append(streams, u32le(uint32(len(lineNumbers))))

	// Streams 3..3+2*lineCount: (line number, line text) pairs.
	for i, l := range ls {
		streams = append(streams, u32le(lineNumbers[i]))
		streams = append(streams, serializeWord(l))
	}

	// Stream: hash length.
	streams = append(streams, u32le(32))

	// Streams: the 32 pk_der_hash bytes, one stream each.
	for _, b := range d.PkDerHash {
		streams = append(streams, []byte{b})
	}

	if len(streams) != expectedStreamCount {
		return nil, coordinator.New(coordinator.ReceiptInvalid,
			fmt.Sprintf("expected %d input streams, built %d", expectedStreamCount, len(streams)))
	}

	return streams, nil
}

func u32le(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

// serializeWord encodes a string using the prover SDK's length-prefixed
// word convention: a u32le byte length followed by the UTF-8 bytes
// themselves, rather than a bare byte concatenation.
func serializeWord(s string) []byte {
	b := []byte(s)
	out := make([]byte, 0, 4+len(b))
	out = append(out, u32le(uint32(len(b)))...)
	out = append(out, b...)
	return out
}
