package asyncmqtt

import (
	"encoding/binary"
)

// packetBuffer is an owned, growable byte buffer used to compose outgoing
// frames. Length-prefixed helpers keep field layout declarative.
type packetBuffer struct {
	data []byte
}

func newPacketBuffer(capacity int) *packetBuffer {
	return &packetBuffer{data: make([]byte, 0, capacity)}
}

func (b *packetBuffer) reset() {
	b.data = b.data[:0]
}

// Bytes returns the composed frame. Valid until the next reset.
func (b *packetBuffer) Bytes() []byte {
	return b.data
}

// Len returns the number of composed bytes.
func (b *packetBuffer) Len() int {
	return len(b.data)
}

func (b *packetBuffer) appendByte(c byte) {
	b.data = append(b.data, c)
}

func (b *packetBuffer) appendUint16(v uint16) {
	b.data = binary.BigEndian.AppendUint16(b.data, v)
}

func (b *packetBuffer) appendRaw(p []byte) {
	b.data = append(b.data, p...)
}

// appendString writes s with a 2-byte big-endian length prefix.
func (b *packetBuffer) appendString(s string) {
	b.appendUint16(uint16(len(s)))
	b.data = append(b.data, s...)
}

// appendBinary writes p with a 2-byte big-endian length prefix.
func (b *packetBuffer) appendBinary(p []byte) {
	b.appendUint16(uint16(len(p)))
	b.data = append(b.data, p...)
}

// appendFixedHeader writes the first byte and the remaining length.
func (b *packetBuffer) appendFixedHeader(h FixedHeader) error {
	var lenBuf [maxVarintBytes]byte

	n, err := encodeRemainingLength(h.RemainingLength, lenBuf[:])
	if err != nil {
		return err
	}

	b.data = append(b.data, h.FirstByte())
	b.data = append(b.data, lenBuf[:n]...)

	return nil
}
