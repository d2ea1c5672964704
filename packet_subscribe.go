package asyncmqtt

// SubscribePacket represents an MQTT SUBSCRIBE packet for a single filter.
type SubscribePacket struct {
	PacketID uint16
	Filter   string
	QoS      byte
}

func (p *SubscribePacket) header() FixedHeader {
	return FixedHeader{
		PacketType:      PacketSUBSCRIBE,
		Flags:           flagsPubrel,
		RemainingLength: uint32(2 + stringSize(p.Filter) + 1),
	}
}

func (p *SubscribePacket) encodeBody(b *packetBuffer) {
	b.appendUint16(p.PacketID)
	b.appendString(p.Filter)
	b.appendByte(p.QoS)
}

func (p *SubscribePacket) validate() error {
	if p.QoS > QoS2 {
		return ErrInvalidQoS
	}
	if len(p.Filter) > maxUint16 {
		return ErrStringTooLong
	}
	return ValidateTopicFilter(p.Filter)
}
