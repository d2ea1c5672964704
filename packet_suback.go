package asyncmqtt

// SubackFailure is the SUBACK return code for a rejected subscription.
const SubackFailure byte = 0x80

// SubackPacket represents an MQTT SUBACK packet. Only the first return
// code is kept since the client subscribes to one filter per request.
type SubackPacket struct {
	PacketID   uint16
	ReturnCode byte
}

// Type returns the packet type.
func (p *SubackPacket) Type() PacketType {
	return PacketSUBACK
}

// ID returns the packet identifier.
func (p *SubackPacket) ID() uint16 {
	return p.PacketID
}

// Granted returns true if the broker accepted the subscription.
func (p *SubackPacket) Granted() bool {
	return p.ReturnCode != SubackFailure
}
