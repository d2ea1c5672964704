package asyncmqtt

import (
	"fmt"
)

// frameWriter is the write side of a Transport.
type frameWriter interface {
	Space() int
	Add(p []byte) int
	Send() bool
}

// encoder serializes outgoing packets straight into the transport.
// A frame is only written when the transport can take all of it.
type encoder struct {
	w frameWriter
}

func newEncoder(w frameWriter) *encoder {
	return &encoder{w: w}
}

// fits reports whether a frame of size n bytes can be written now.
func (e *encoder) fits(n int) bool {
	return e.w.Space() >= n
}

// write encodes p and hands it to the transport. It returns the number of
// bytes written, or an error if nothing was written.
func (e *encoder) write(p outgoingPacket) (int, error) {
	h := p.header()
	if h.RemainingLength > maxVarint {
		return 0, ErrVarintTooLarge
	}

	size := h.Size() + int(h.RemainingLength)
	if !e.fits(size) {
		return 0, fmt.Errorf("%w: %s needs %d bytes, %d available",
			ErrInsufficientSpace, h.PacketType, size, e.w.Space())
	}

	b := getPacketBuffer()
	defer putPacketBuffer(b)

	if err := b.appendFixedHeader(h); err != nil {
		return 0, err
	}
	p.encodeBody(b)

	if n := e.w.Add(b.Bytes()); n != b.Len() {
		return 0, fmt.Errorf("%w: transport accepted %d of %d bytes",
			ErrInsufficientSpace, n, b.Len())
	}
	e.w.Send()

	return b.Len(), nil
}
