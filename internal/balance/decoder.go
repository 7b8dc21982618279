// Package balance decodes wallet-reported balances encoded as CBOR unsigned
// integers (major type 0).
package balance

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrDecode is wrapped by every decoding failure.
var ErrDecode = errors.New("balance decode failure")

var (
	// ErrUnsupportedFormat header is not a major type 0 integer of a known width
	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrDecode)
	// ErrTruncatedInput fewer bytes than the header announces
	ErrTruncatedInput = fmt.Errorf("%w: truncated input", ErrDecode)
	// ErrInvalidHex wallet returned a string that is not hex
	ErrInvalidHex = fmt.Errorf("%w: invalid hex", ErrDecode)
)

const (
	majorTypeUnsigned = 0

	infoUint8  = 24
	infoUint16 = 25
	infoUint32 = 26
	infoUint64 = 27
)

// LovelacePerADA smallest units per display unit
const LovelacePerADA = 1_000_000

// Decode decodes bytes[0] as a CBOR header and returns the unsigned integer
// it encodes. Trailing bytes after the value are ignored.
func Decode(b []byte) (uint64, error) {
	if len(b) == 0 {
		return 0, ErrTruncatedInput
	}

	header := b[0]
	majorType := header >> 5
	info := header & 0x1f

	if majorType != majorTypeUnsigned {
		return 0, fmt.Errorf("%w: major type %d", ErrUnsupportedFormat, majorType)
	}

	var width int
	switch {
	case info < infoUint8:
		return uint64(info), nil
	case info == infoUint8:
		width = 1
	case info == infoUint16:
		width = 2
	case info == infoUint32:
		width = 4
	case info == infoUint64:
		width = 8
	default:
		return 0, fmt.Errorf("%w: additional info %d", ErrUnsupportedFormat, info)
	}

	payload := b[1:]
	if len(payload) < width {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedInput, width, len(payload))
	}

	switch width {
	case 1:
		return uint64(payload[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(payload)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(payload)), nil
	default:
		return binary.BigEndian.Uint64(payload), nil
	}
}

// DecodeHex decodes the hex string form wallets return from getBalance
func DecodeHex(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidHex, err)
	}
	return Decode(b)
}

// ToDisplayUnit converts a smallest-unit amount to the display unit
func ToDisplayUnit(v uint64) float64 {
	return float64(v) / LovelacePerADA
}
