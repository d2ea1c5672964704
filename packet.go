package asyncmqtt

// Packet is implemented by every decoded inbound control packet.
type Packet interface {
	// Type returns the packet type.
	Type() PacketType
}

// PacketWithID is implemented by packets that carry a packet identifier.
type PacketWithID interface {
	Packet

	// ID returns the packet identifier.
	ID() uint16
}

// outgoingPacket is implemented by packets the client encodes.
// header must report the exact remaining length of encodeBody's output.
type outgoingPacket interface {
	header() FixedHeader
	encodeBody(b *packetBuffer)
}

// frameSize returns the total encoded size of an outgoing packet.
func frameSize(p outgoingPacket) int {
	h := p.header()
	return h.Size() + int(h.RemainingLength)
}

// QoS levels.
const (
	QoS0 byte = 0
	QoS1 byte = 1
	QoS2 byte = 2
)

// MessageProperties describes an inbound application message.
type MessageProperties struct {
	QoS    byte
	DUP    bool
	Retain bool
}
