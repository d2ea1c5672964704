package asyncmqtt

// UnsubscribePacket represents an MQTT UNSUBSCRIBE packet for a single filter.
type UnsubscribePacket struct {
	PacketID uint16
	Filter   string
}

func (p *UnsubscribePacket) header() FixedHeader {
	return FixedHeader{
		PacketType:      PacketUNSUBSCRIBE,
		Flags:           flagsPubrel,
		RemainingLength: uint32(2 + stringSize(p.Filter)),
	}
}

func (p *UnsubscribePacket) encodeBody(b *packetBuffer) {
	b.appendUint16(p.PacketID)
	b.appendString(p.Filter)
}

func (p *UnsubscribePacket) validate() error {
	if len(p.Filter) > maxUint16 {
		return ErrStringTooLong
	}
	return ValidateTopicFilter(p.Filter)
}
