package asyncmqtt

// AckPacket represents the four two-byte acknowledgement packets
// (PUBACK, PUBREC, PUBREL, PUBCOMP). The same shape is used for inbound
// acks and for acks queued to the peer.
type AckPacket struct {
	Kind     PacketType
	PacketID uint16
}

// ackFrameSize is the encoded size of any acknowledgement frame.
const ackFrameSize = 4

// NewPuback creates a PUBACK for the given packet identifier.
func NewPuback(id uint16) AckPacket { return AckPacket{Kind: PacketPUBACK, PacketID: id} }

// NewPubrec creates a PUBREC for the given packet identifier.
func NewPubrec(id uint16) AckPacket { return AckPacket{Kind: PacketPUBREC, PacketID: id} }

// NewPubrel creates a PUBREL for the given packet identifier.
func NewPubrel(id uint16) AckPacket { return AckPacket{Kind: PacketPUBREL, PacketID: id} }

// NewPubcomp creates a PUBCOMP for the given packet identifier.
func NewPubcomp(id uint16) AckPacket { return AckPacket{Kind: PacketPUBCOMP, PacketID: id} }

// Type returns the packet type.
func (p *AckPacket) Type() PacketType {
	return p.Kind
}

// ID returns the packet identifier.
func (p *AckPacket) ID() uint16 {
	return p.PacketID
}

// Flags returns the fixed header flags required for the packet type.
func (p *AckPacket) Flags() byte {
	if p.Kind == PacketPUBREL {
		return flagsPubrel
	}
	return flagsReserved
}

func (p *AckPacket) header() FixedHeader {
	return FixedHeader{
		PacketType:      p.Kind,
		Flags:           p.Flags(),
		RemainingLength: 2,
	}
}

func (p *AckPacket) encodeBody(b *packetBuffer) {
	b.appendUint16(p.PacketID)
}
