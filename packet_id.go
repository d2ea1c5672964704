package asyncmqtt

// PacketIDAllocator issues packet identifiers (1-65535) for outgoing QoS>0
// packets. Identifiers are handed out monotonically and wrap from 65535
// back to 1. Collisions with identifiers still in flight after a wrap are
// not detected.
//
// Not safe for concurrent use; owned by a single Client.
type PacketIDAllocator struct {
	next uint16
}

// NewPacketIDAllocator creates an allocator starting at 1.
func NewPacketIDAllocator() *PacketIDAllocator {
	return &PacketIDAllocator{next: 1}
}

// Next returns the next packet identifier. It never returns 0.
func (a *PacketIDAllocator) Next() uint16 {
	if a.next == 0 {
		a.next = 1
	}

	id := a.next

	if a.next == maxUint16 {
		a.next = 1
	} else {
		a.next++
	}

	return id
}

// Peek returns the identifier the next call to Next will return.
func (a *PacketIDAllocator) Peek() uint16 {
	if a.next == 0 {
		return 1
	}
	return a.next
}

// Reset restarts the sequence at 1.
func (a *PacketIDAllocator) Reset() {
	a.next = 1
}
