package asyncmqtt

import (
	"errors"
)

// Encoding errors.
var (
	ErrStringTooLong   = errors.New("string exceeds maximum length of 65535 bytes")
	ErrVarintTooLarge  = errors.New("variable byte integer exceeds maximum value")
	ErrVarintMalformed = errors.New("malformed variable byte integer")
	ErrShortBuffer     = errors.New("output buffer too short")
)

const (
	maxUint16         = 65535
	maxVarint         = 268435455 // 0x0FFFFFFF
	maxVarintBytes    = 4
	varintContinueBit = 0x80
	varintValueMask   = 0x7F
)

// encodeRemainingLength writes value into out as an MQTT variable byte integer.
// Returns the number of bytes written (1 to 4).
func encodeRemainingLength(value uint32, out []byte) (int, error) {
	if value > maxVarint {
		return 0, ErrVarintTooLarge
	}

	if len(out) < varintSize(value) {
		return 0, ErrShortBuffer
	}

	n := 0

	for {
		encodedByte := byte(value & varintValueMask)
		value >>= 7

		if value > 0 {
			encodedByte |= varintContinueBit
		}

		out[n] = encodedByte
		n++

		if value == 0 {
			break
		}
	}

	return n, nil
}

// decodeRemainingLength reconstitutes a remaining length from previously
// accumulated bytes. Decoding stops at the first byte without the
// continuation bit; anything past the fourth byte is ignored.
func decodeRemainingLength(buf []byte) uint32 {
	var value uint32
	var multiplier uint32 = 1

	for i := 0; i < len(buf) && i < maxVarintBytes; i++ {
		value += uint32(buf[i]&varintValueMask) * multiplier

		if buf[i]&varintContinueBit == 0 {
			break
		}

		multiplier *= 128
	}

	return value
}

// varintSize returns the number of bytes needed to encode a variable byte integer.
func varintSize(value uint32) int {
	switch {
	case value < 128:
		return 1
	case value < 16384:
		return 2
	case value < 2097152:
		return 3
	default:
		return 4
	}
}

// stringSize returns the encoded size of a length-prefixed string.
func stringSize(s string) int {
	return 2 + len(s)
}
