package asyncmqtt

// ConnectReturnCode is the CONNACK return code.
type ConnectReturnCode byte

// CONNACK return codes.
const (
	ConnectAccepted                    ConnectReturnCode = 0x00
	ConnectUnacceptableProtocolVersion ConnectReturnCode = 0x01
	ConnectIdentifierRejected          ConnectReturnCode = 0x02
	ConnectServerUnavailable           ConnectReturnCode = 0x03
	ConnectMalformedCredentials        ConnectReturnCode = 0x04
	ConnectNotAuthorized               ConnectReturnCode = 0x05
)

// String returns the string representation of the return code.
func (c ConnectReturnCode) String() string {
	switch c {
	case ConnectAccepted:
		return "accepted"
	case ConnectUnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case ConnectIdentifierRejected:
		return "identifier rejected"
	case ConnectServerUnavailable:
		return "server unavailable"
	case ConnectMalformedCredentials:
		return "bad user name or password"
	case ConnectNotAuthorized:
		return "not authorized"
	default:
		return "unknown"
	}
}

const connackSessionPresent = 0x01

// ConnackPacket represents an MQTT CONNACK packet.
type ConnackPacket struct {
	SessionPresent bool
	ReturnCode     ConnectReturnCode
}

// Type returns the packet type.
func (p *ConnackPacket) Type() PacketType {
	return PacketCONNACK
}

func (p *ConnackPacket) decodeHeader(field [2]byte) {
	p.SessionPresent = field[0]&connackSessionPresent != 0
	p.ReturnCode = ConnectReturnCode(field[1])
}
