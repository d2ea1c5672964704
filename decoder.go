package asyncmqtt

import (
	"encoding/binary"
	"fmt"
)

type publishStep int

const (
	publishTopicLength publishStep = iota
	publishTopic
	publishPacketID
)

// packetDecoder is the single reusable decode slot. kind selects the active
// variant and only that variant's fields are meaningful. Decoders advance
// the cursor's consumed count themselves and never read past the
// remaining length.
type packetDecoder struct {
	kind PacketType

	field  [2]byte
	fieldN int

	step          publishStep
	topicLen      int
	topicRead     int
	topic         []byte
	payloadOffset int
	gotReturnCode bool

	connack  ConnackPacket
	suback   SubackPacket
	unsuback UnsubackPacket
	ack      AckPacket
	publish  PublishPacket
	pingresp PingrespPacket
}

func newPacketDecoder(maxTopicLength int) *packetDecoder {
	return &packetDecoder{topic: make([]byte, 0, maxTopicLength)}
}

// minRemainingLength returns the smallest remaining length a well-formed
// packet of this kind can carry.
func minRemainingLength(h FixedHeader) uint32 {
	switch h.PacketType {
	case PacketPINGRESP:
		return 0
	case PacketSUBACK:
		return 3
	case PacketPUBLISH:
		if h.QoS() > QoS0 {
			return 4
		}
		return 2
	default:
		return 2
	}
}

func (d *packetDecoder) begin(h FixedHeader) {
	d.kind = h.PacketType
	d.fieldN = 0
	d.step = publishTopicLength
	d.topicLen = 0
	d.topicRead = 0
	d.topic = d.topic[:0]
	d.payloadOffset = 0
	d.gotReturnCode = false

	switch d.kind {
	case PacketCONNACK:
		d.connack = ConnackPacket{}
	case PacketSUBACK:
		d.suback = SubackPacket{}
	case PacketUNSUBACK:
		d.unsuback = UnsubackPacket{}
	case PacketPUBLISH:
		d.publish = PublishPacket{QoS: h.QoS(), DUP: h.DUP(), Retain: h.Retain()}
	case PacketPUBACK, PacketPUBREC, PacketPUBREL, PacketPUBCOMP:
		d.ack = AckPacket{Kind: d.kind}
	}
}

// readField accumulates a two byte field across calls.
func (d *packetDecoder) readField(c *parsingCursor, data []byte) (int, bool) {
	n := 0
	for d.fieldN < 2 && n < len(data) {
		d.field[d.fieldN] = data[n]
		d.fieldN++
		n++
	}
	c.consumed += uint32(n)

	if d.fieldN < 2 {
		return n, false
	}

	d.fieldN = 0
	return n, true
}

func (d *packetDecoder) fieldUint16() uint16 {
	return binary.BigEndian.Uint16(d.field[:])
}

// variableHeader consumes variable header bytes from data, which the
// parser has already bounded to the bytes left in the packet.
func (d *packetDecoder) variableHeader(c *parsingCursor, data []byte) (int, error) {
	switch d.kind {
	case PacketPUBLISH:
		return d.publishHeader(c, data)
	case PacketPINGRESP:
		c.state = StatePayload
		return 0, nil
	}

	n, done := d.readField(c, data)
	if !done {
		return n, nil
	}

	switch d.kind {
	case PacketCONNACK:
		d.connack.decodeHeader(d.field)
	case PacketSUBACK:
		d.suback.PacketID = d.fieldUint16()
	case PacketUNSUBACK:
		d.unsuback.PacketID = d.fieldUint16()
	default:
		d.ack.PacketID = d.fieldUint16()
	}

	c.state = StatePayload

	return n, nil
}

func (d *packetDecoder) publishHeader(c *parsingCursor, data []byte) (int, error) {
	n := 0

	for n < len(data) && c.state == StateVariableHeader {
		switch d.step {
		case publishTopicLength:
			m, done := d.readField(c, data[n:])
			n += m
			if !done {
				continue
			}

			d.topicLen = int(d.fieldUint16())
			need := 2 + d.topicLen
			if d.publish.QoS > QoS0 {
				need += 2
			}
			if uint32(need) > c.header.RemainingLength {
				return n, fmt.Errorf("%w: topic length %d exceeds remaining length %d",
					ErrMalformedPacket, d.topicLen, c.header.RemainingLength)
			}

			d.step = publishTopic
			if d.topicLen == 0 {
				d.topicDone(c)
			}

		case publishTopic:
			m := min(len(data)-n, d.topicLen-d.topicRead)
			chunk := data[n : n+m]

			// Truncate into the bounded scratch buffer.
			if room := cap(d.topic) - len(d.topic); room > 0 {
				d.topic = append(d.topic, chunk[:min(room, m)]...)
			}

			d.topicRead += m
			c.consumed += uint32(m)
			n += m

			if d.topicRead == d.topicLen {
				d.topicDone(c)
			}

		case publishPacketID:
			m, done := d.readField(c, data[n:])
			n += m
			if done {
				d.publish.PacketID = d.fieldUint16()
				d.payloadStart(c)
			}
		}
	}

	return n, nil
}

func (d *packetDecoder) topicDone(c *parsingCursor) {
	d.publish.Topic = string(d.topic)

	if d.publish.QoS > QoS0 {
		d.step = publishPacketID
		return
	}

	d.payloadStart(c)
}

func (d *packetDecoder) payloadStart(c *parsingCursor) {
	d.publish.Total = int(c.left())
	c.state = StatePayload
}

// payload consumes payload bytes. For PUBLISH it returns the fragment to
// deliver; the other kinds only keep what they need and skip the rest.
func (d *packetDecoder) payload(c *parsingCursor, data []byte) (int, Packet) {
	c.consumed += uint32(len(data))

	switch d.kind {
	case PacketPUBLISH:
		d.publish.Payload = data
		d.publish.Index = d.payloadOffset
		d.publish.Length = len(data)
		d.payloadOffset += len(data)
		return len(data), &d.publish

	case PacketSUBACK:
		if !d.gotReturnCode && len(data) > 0 {
			d.suback.ReturnCode = data[0]
			d.gotReturnCode = true
		}
	}

	return len(data), nil
}

// finish returns the completed packet, or nil when everything was already
// delivered as fragments.
func (d *packetDecoder) finish() Packet {
	switch d.kind {
	case PacketCONNACK:
		return &d.connack
	case PacketSUBACK:
		return &d.suback
	case PacketUNSUBACK:
		return &d.unsuback
	case PacketPINGRESP:
		return &d.pingresp
	case PacketPUBLISH:
		if d.publish.Total > 0 {
			return nil
		}
		d.publish.Payload = nil
		d.publish.Index = 0
		d.publish.Length = 0
		return &d.publish
	default:
		return &d.ack
	}
}
