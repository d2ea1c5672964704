package asyncmqtt

// DisconnectPacket represents an MQTT DISCONNECT packet.
type DisconnectPacket struct{}

func (p *DisconnectPacket) header() FixedHeader {
	return FixedHeader{PacketType: PacketDISCONNECT}
}

func (p *DisconnectPacket) encodeBody(_ *packetBuffer) {}
