package asyncmqtt

import "errors"

// ErrPasswordWithoutUsername is returned when a password is set without a
// username. MQTT 3.1.1 requires the password flag to be clear in that case.
var ErrPasswordWithoutUsername = errors.New("password requires a username")

const (
	protocolName  = "MQTT"
	protocolLevel = 0x04
)

// CONNECT flag bits.
const (
	connectFlagCleanSession = 0x02
	connectFlagWill         = 0x04
	connectFlagWillQoSShift = 3
	connectFlagWillRetain   = 0x20
	connectFlagPassword     = 0x40
	connectFlagUsername     = 0x80
)

// WillMessage is published by the broker if the client disconnects
// without sending DISCONNECT.
type WillMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectPacket represents an MQTT v3.1.1 CONNECT packet.
type ConnectPacket struct {
	ClientID     string
	Username     string
	Password     []byte
	KeepAlive    uint16
	CleanSession bool
	Will         *WillMessage
}

func (p *ConnectPacket) hasWill() bool {
	return p.Will != nil && p.Will.Topic != ""
}

// Flags returns the connect flags byte.
func (p *ConnectPacket) Flags() byte {
	var flags byte

	if p.CleanSession {
		flags |= connectFlagCleanSession
	}
	if p.Username != "" {
		flags |= connectFlagUsername
	}
	if len(p.Password) > 0 {
		flags |= connectFlagPassword
	}
	if p.hasWill() {
		flags |= connectFlagWill
		flags |= (p.Will.QoS & 0x03) << connectFlagWillQoSShift
		if p.Will.Retain {
			flags |= connectFlagWillRetain
		}
	}

	return flags
}

func (p *ConnectPacket) remainingLength() int {
	// protocol name, level, flags, keepalive, client id
	n := stringSize(protocolName) + 1 + 1 + 2 + stringSize(p.ClientID)

	if p.hasWill() {
		n += stringSize(p.Will.Topic) + 2 + len(p.Will.Payload)
	}
	if p.Username != "" {
		n += stringSize(p.Username)
	}
	if len(p.Password) > 0 {
		n += 2 + len(p.Password)
	}

	return n
}

func (p *ConnectPacket) header() FixedHeader {
	return FixedHeader{
		PacketType:      PacketCONNECT,
		RemainingLength: uint32(p.remainingLength()),
	}
}

func (p *ConnectPacket) encodeBody(b *packetBuffer) {
	b.appendString(protocolName)
	b.appendByte(protocolLevel)
	b.appendByte(p.Flags())
	b.appendUint16(p.KeepAlive)
	b.appendString(p.ClientID)

	if p.hasWill() {
		b.appendString(p.Will.Topic)
		b.appendBinary(p.Will.Payload)
	}
	if p.Username != "" {
		b.appendString(p.Username)
	}
	if len(p.Password) > 0 {
		b.appendBinary(p.Password)
	}
}

// validate checks the fields that cannot be represented on the wire.
func (p *ConnectPacket) validate() error {
	for _, s := range []string{p.ClientID, p.Username} {
		if len(s) > maxUint16 {
			return ErrStringTooLong
		}
	}
	if len(p.Password) > maxUint16 {
		return ErrStringTooLong
	}
	if len(p.Password) > 0 && p.Username == "" {
		return ErrPasswordWithoutUsername
	}

	if p.hasWill() {
		if len(p.Will.Topic) > maxUint16 || len(p.Will.Payload) > maxUint16 {
			return ErrStringTooLong
		}
		if p.Will.QoS > QoS2 {
			return ErrInvalidQoS
		}
		if err := ValidateTopicName(p.Will.Topic); err != nil {
			return err
		}
	}

	return nil
}
