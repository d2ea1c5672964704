package asyncmqtt

// UnsubackPacket represents an MQTT UNSUBACK packet.
type UnsubackPacket struct {
	PacketID uint16
}

// Type returns the packet type.
func (p *UnsubackPacket) Type() PacketType {
	return PacketUNSUBACK
}

// ID returns the packet identifier.
func (p *UnsubackPacket) ID() uint16 {
	return p.PacketID
}
