package asyncmqtt

// PublishPacket represents an MQTT PUBLISH packet.
//
// Inbound, one PublishPacket is delivered per payload fragment: Payload
// holds Length bytes starting at offset Index of a Total byte payload. A
// PUBLISH with an empty payload is delivered as a single empty fragment.
// Topic and Payload are only valid until the handler returns.
//
// Outbound, Payload carries the complete message.
type PublishPacket struct {
	Topic    string
	Payload  []byte
	QoS      byte
	DUP      bool
	Retain   bool
	PacketID uint16

	Index  int
	Length int
	Total  int
}

// Type returns the packet type.
func (p *PublishPacket) Type() PacketType {
	return PacketPUBLISH
}

// ID returns the packet identifier. Zero for QoS 0.
func (p *PublishPacket) ID() uint16 {
	return p.PacketID
}

// Last returns true if this fragment completes the payload.
func (p *PublishPacket) Last() bool {
	return p.Index+p.Length == p.Total
}

// Properties returns the message properties of the packet.
func (p *PublishPacket) Properties() MessageProperties {
	return MessageProperties{QoS: p.QoS, DUP: p.DUP, Retain: p.Retain}
}

func (p *PublishPacket) remainingLength() int {
	n := stringSize(p.Topic) + len(p.Payload)
	if p.QoS > QoS0 {
		n += 2
	}
	return n
}

func (p *PublishPacket) header() FixedHeader {
	return FixedHeader{
		PacketType:      PacketPUBLISH,
		Flags:           publishFlags(p.QoS, p.DUP, p.Retain),
		RemainingLength: uint32(p.remainingLength()),
	}
}

func (p *PublishPacket) encodeBody(b *packetBuffer) {
	b.appendString(p.Topic)
	if p.QoS > QoS0 {
		b.appendUint16(p.PacketID)
	}
	b.appendRaw(p.Payload)
}

// validate checks the fields that cannot be represented on the wire.
func (p *PublishPacket) validate() error {
	if p.QoS > QoS2 {
		return ErrInvalidQoS
	}
	if len(p.Topic) > maxUint16 {
		return ErrStringTooLong
	}
	if p.remainingLength() > maxVarint {
		return ErrVarintTooLarge
	}
	return ValidateTopicName(p.Topic)
}
