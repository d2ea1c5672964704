package asyncmqtt

import (
	"errors"
	"fmt"
)

// errParserHalted is returned after the session stopped the parser.
var errParserHalted = errors.New("parser halted")

// ParseState is the state of the stream parser.
type ParseState int

// Stream parser states.
const (
	// StateNone waits for the first byte of a new packet.
	StateNone ParseState = iota
	// StateRemainingLength accumulates the 1-4 remaining length bytes.
	StateRemainingLength
	// StateVariableHeader feeds the active decoder's variable header step.
	StateVariableHeader
	// StatePayload feeds the active decoder's payload step.
	StatePayload
)

// String returns the string representation of the parse state.
func (s ParseState) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateRemainingLength:
		return "REMAINING_LENGTH"
	case StateVariableHeader:
		return "VARIABLE_HEADER"
	case StatePayload:
		return "PAYLOAD"
	default:
		return "UNKNOWN"
	}
}

// packetHandler receives the parser's output.
type packetHandler interface {
	// serverActivity is called once for every packet's first byte.
	serverActivity()

	// handlePacket is called for every completed packet and for every
	// PUBLISH payload fragment. The packet is only valid during the call.
	handlePacket(p Packet)
}

// parsingCursor is the parse state shared by the parser and the active decoder.
type parsingCursor struct {
	state    ParseState
	header   FixedHeader
	lenBuf   [maxVarintBytes]byte
	lenPos   int
	consumed uint32
}

func (c *parsingCursor) begin(h FixedHeader) {
	c.header = h
	c.lenPos = 0
	c.consumed = 0
	c.state = StateRemainingLength
}

// pushLengthByte appends one remaining length byte. It reports true once
// the length is complete.
func (c *parsingCursor) pushLengthByte(b byte) (bool, error) {
	c.lenBuf[c.lenPos] = b
	c.lenPos++

	if b&varintContinueBit == 0 {
		c.header.RemainingLength = decodeRemainingLength(c.lenBuf[:c.lenPos])
		c.lenPos = 0
		return true, nil
	}

	if c.lenPos == maxVarintBytes {
		return false, ErrVarintMalformed
	}

	return false, nil
}

// left returns the bytes of the current packet not yet consumed.
func (c *parsingCursor) left() uint32 {
	return c.header.RemainingLength - c.consumed
}

// window bounds data to the bytes left in the current packet.
func (c *parsingCursor) window(data []byte) []byte {
	if uint32(len(data)) > c.left() {
		return data[:c.left()]
	}
	return data
}

// Parser turns a fragmented inbound byte stream into decoded packets.
// It keeps at most one packet in progress and may be fed arbitrary chunk
// boundaries. After an error it ignores all input until Reset.
//
// Not safe for concurrent use.
type Parser struct {
	cursor  parsingCursor
	decoder *packetDecoder
	handler packetHandler
	err     error
	gen     uint64
}

func newParser(maxTopicLength int, handler packetHandler) *Parser {
	return &Parser{
		decoder: newPacketDecoder(maxTopicLength),
		handler: handler,
	}
}

// State returns the current parse state.
func (p *Parser) State() ParseState {
	return p.cursor.state
}

// Err returns the error that stopped the parser, if any.
func (p *Parser) Err() error {
	return p.err
}

// Reset discards any packet in progress and clears a previous error.
func (p *Parser) Reset() {
	p.cursor = parsingCursor{}
	p.err = nil
	p.gen++
}

// halt stops the parser until Reset. Any chunk being fed is dropped.
func (p *Parser) halt() {
	p.cursor = parsingCursor{}
	p.err = errParserHalted
	p.gen++
}

// Feed processes one inbound chunk. The handler may reset the parser from
// inside a callback; the rest of the chunk is then dropped.
func (p *Parser) Feed(data []byte) error {
	if p.err != nil {
		return p.err
	}

	gen := p.gen
	pos := 0

	for pos < len(data) {
		switch p.cursor.state {
		case StateNone:
			p.handler.serverActivity()
			if p.gen != gen {
				return nil
			}

			packetType, flags := parseFirstByte(data[pos])
			pos++

			header := FixedHeader{PacketType: packetType, Flags: flags}
			if !packetType.Inbound() {
				return p.fail(fmt.Errorf("%w: %s (%d)", ErrUnknownPacketType, packetType, byte(packetType)))
			}
			if err := header.ValidateFlags(); err != nil {
				return p.fail(fmt.Errorf("%w: %s: %w", ErrMalformedPacket, packetType, err))
			}

			p.cursor.begin(header)
			p.decoder.begin(header)

		case StateRemainingLength:
			done, err := p.cursor.pushLengthByte(data[pos])
			pos++
			if err != nil {
				return p.fail(fmt.Errorf("%w: %w", ErrMalformedPacket, err))
			}
			if !done {
				continue
			}

			header := p.cursor.header
			if header.RemainingLength < minRemainingLength(header) {
				return p.fail(fmt.Errorf("%w: %s remaining length %d too short",
					ErrMalformedPacket, header.PacketType, header.RemainingLength))
			}

			if header.RemainingLength == 0 {
				if !p.complete(gen) {
					return nil
				}
				continue
			}

			p.cursor.state = StateVariableHeader

		case StateVariableHeader:
			n, err := p.decoder.variableHeader(&p.cursor, p.cursor.window(data[pos:]))
			pos += n
			if err != nil {
				return p.fail(err)
			}

			if p.cursor.left() == 0 && !p.complete(gen) {
				return nil
			}

		case StatePayload:
			n, fragment := p.decoder.payload(&p.cursor, p.cursor.window(data[pos:]))
			pos += n

			if fragment != nil {
				p.handler.handlePacket(fragment)
				if p.gen != gen {
					return nil
				}
			}

			if p.cursor.left() == 0 && !p.complete(gen) {
				return nil
			}
		}
	}

	return nil
}

// complete releases the slot and hands the finished packet to the
// handler. It reports false if the handler reset the parser.
func (p *Parser) complete(gen uint64) bool {
	pkt := p.decoder.finish()
	p.cursor.state = StateNone

	if pkt != nil {
		p.handler.handlePacket(pkt)
	}

	return p.gen == gen
}

func (p *Parser) fail(err error) error {
	p.err = err
	return err
}
