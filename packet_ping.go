package asyncmqtt

// PingreqPacket represents an MQTT PINGREQ packet.
type PingreqPacket struct{}

func (p *PingreqPacket) header() FixedHeader {
	return FixedHeader{PacketType: PacketPINGREQ}
}

func (p *PingreqPacket) encodeBody(_ *packetBuffer) {}

// PingrespPacket represents an MQTT PINGRESP packet.
type PingrespPacket struct{}

// Type returns the packet type.
func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }
