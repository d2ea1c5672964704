package asyncmqtt

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

// SessionState is the lifecycle state of a Client.
type SessionState int

// Session states.
const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
	SessionDisconnecting
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case SessionDisconnected:
		return "disconnected"
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	case SessionDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Client is an MQTT v3.1.1 client engine. It never blocks: transport
// events drive parsing, acknowledgements and keep-alive, and user calls
// only encode into the transport's send buffer.
//
// Client is not safe for concurrent use. All methods and all transport
// events must run in one execution context; with NetTransport, call
// methods from callbacks or through NetTransport.Do.
type Client struct {
	options   *clientOptions
	transport Transport
	logger    Logger
	metrics   *ClientMetrics

	state     SessionState
	parser    *Parser
	encoder   *encoder
	ids       *PacketIDAllocator
	qos       *qosEngine
	keepAlive *KeepAliveScheduler
	flow      *FlowController

	disconnectRequested bool
	closing             bool
	reason              DisconnectReason
	lastErr             error
}

// NewClient creates a client on top of t. t's handler is replaced.
func NewClient(t Transport, opts ...Option) *Client {
	o := applyOptions(opts...)

	c := &Client{
		options:   o,
		transport: t,
		logger:    o.logger.WithFields(LogFields{LogFieldClientID: o.clientID}),
		metrics:   NewClientMetrics(o.metrics),
		encoder:   newEncoder(t),
		ids:       NewPacketIDAllocator(),
		qos:       newQoSEngine(),
		keepAlive: NewKeepAliveScheduler(o.keepAlive),
		flow:      NewFlowController(o.maxInflight),
	}
	c.parser = newParser(o.maxTopicLength, c)

	t.SetHandler((*transportEvents)(c))

	return c
}

// ClientID returns the client identifier sent in CONNECT.
func (c *Client) ClientID() string {
	return c.options.clientID
}

// State returns the session state.
func (c *Client) State() SessionState {
	return c.state
}

// Connected returns true once the broker accepted the session.
func (c *Client) Connected() bool {
	return c.state == SessionConnected
}

// LastError returns why the last session ended, or nil after a requested
// graceful disconnect. Extract details with errors.As(*DisconnectError).
func (c *Client) LastError() error {
	return c.lastErr
}

// Connect starts a session. The result is reported through OnConnect or
// OnDisconnect.
func (c *Client) Connect() error {
	if c.state != SessionDisconnected {
		return ErrAlreadyConnected
	}
	if c.options.host == "" {
		return ErrNoServer
	}
	if err := c.connectPacket().validate(); err != nil {
		return fmt.Errorf("invalid connect options: %w", err)
	}

	c.lastErr = nil
	c.setState(SessionConnecting)

	c.logger.Info("connecting", LogFields{
		LogFieldRemoteAddr: c.serverAddress(),
		"secure":           c.options.secure,
	})

	if err := c.transport.Connect(c.options.host, c.options.port, c.options.secure); err != nil {
		c.logger.Error("transport connect failed", LogFields{LogFieldError: err.Error()})
		c.clear()
		return fmt.Errorf("connect %s: %w", c.serverAddress(), err)
	}

	return nil
}

// Disconnect ends the session. A graceful disconnect sends DISCONNECT and
// lets the transport drain; it is retried on poll while the transport is
// full. force closes the transport right away.
func (c *Client) Disconnect(force bool) {
	switch c.state {
	case SessionDisconnected:
		return
	case SessionConnecting:
		force = true
	}

	c.logger.Info("disconnecting", LogFields{"force": force})

	if force {
		c.abort(ReasonTCPDisconnected, nil)
		return
	}

	c.disconnectRequested = true
	c.setState(SessionDisconnecting)
	c.sendDisconnect()
}

// Publish sends an application message. For QoS 1 and 2 a fresh packet
// identifier is assigned unless dup is set with a non-zero packetID, which
// retransmits under that identifier. It returns the packet identifier, 1
// for a QoS 0 message, or 0 if nothing was sent.
func (c *Client) Publish(topic string, qos byte, retain bool, payload []byte, dup bool, packetID uint16) uint16 {
	if !c.Connected() {
		c.reject(PacketPUBLISH, ErrNotConnected)
		return 0
	}

	pkt := PublishPacket{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		DUP:     dup,
		Retain:  retain,
	}

	fresh := qos > QoS0 && (!dup || packetID == 0)
	switch {
	case fresh:
		pkt.PacketID = c.ids.Peek()
	case qos > QoS0:
		pkt.PacketID = packetID
	}

	if err := pkt.validate(); err != nil {
		c.reject(PacketPUBLISH, err)
		return 0
	}

	var acquired bool
	if qos > QoS0 && !c.flow.Contains(pkt.PacketID) {
		if err := c.flow.Acquire(pkt.PacketID); err != nil {
			c.reject(PacketPUBLISH, err)
			return 0
		}
		acquired = true
	}

	if _, err := c.write(&pkt); err != nil {
		if acquired {
			c.flow.Release(pkt.PacketID)
		}
		return 0
	}

	c.metrics.MessageSent(qos)

	if qos == QoS0 {
		return 1
	}

	if fresh {
		c.ids.Next()
	}
	c.metrics.Inflight(c.flow.InFlight())

	c.logger.Debug("published", LogFields{
		LogFieldTopic:    topic,
		LogFieldQoS:      qos,
		LogFieldPacketID: pkt.PacketID,
	})

	return pkt.PacketID
}

// Subscribe requests a subscription to one topic filter. It returns the
// packet identifier, or 0 if nothing was sent.
func (c *Client) Subscribe(topic string, qos byte) uint16 {
	if !c.Connected() {
		c.reject(PacketSUBSCRIBE, ErrNotConnected)
		return 0
	}

	pkt := SubscribePacket{PacketID: c.ids.Peek(), Filter: topic, QoS: qos}
	if err := pkt.validate(); err != nil {
		c.reject(PacketSUBSCRIBE, err)
		return 0
	}

	if _, err := c.write(&pkt); err != nil {
		return 0
	}

	return c.ids.Next()
}

// Unsubscribe removes a subscription. It returns the packet identifier,
// or 0 if nothing was sent.
func (c *Client) Unsubscribe(topic string) uint16 {
	if !c.Connected() {
		c.reject(PacketUNSUBSCRIBE, ErrNotConnected)
		return 0
	}

	pkt := UnsubscribePacket{PacketID: c.ids.Peek(), Filter: topic}
	if err := pkt.validate(); err != nil {
		c.reject(PacketUNSUBSCRIBE, err)
		return 0
	}

	if _, err := c.write(&pkt); err != nil {
		return 0
	}

	return c.ids.Next()
}

func (c *Client) connectPacket() *ConnectPacket {
	return &ConnectPacket{
		ClientID:     c.options.clientID,
		Username:     c.options.username,
		Password:     c.options.password,
		KeepAlive:    c.options.keepAlive,
		CleanSession: c.options.cleanSession,
		Will:         c.options.will,
	}
}

func (c *Client) serverAddress() string {
	return net.JoinHostPort(c.options.host, strconv.Itoa(int(c.options.port)))
}

func (c *Client) setState(s SessionState) {
	c.state = s
	c.metrics.SessionState(s)
}

// fits reports whether a frame of n bytes can be written now.
func (c *Client) fits(n int) bool {
	return c.encoder.fits(n)
}

// write encodes p into the transport and records client activity.
func (c *Client) write(p outgoingPacket) (int, error) {
	packetType := p.header().PacketType

	n, err := c.encoder.write(p)
	if err != nil {
		c.reject(packetType, err)
		return 0, err
	}

	c.keepAlive.ClientActivity(c.options.now())
	c.metrics.PacketSent(packetType, n)

	return n, nil
}

func (c *Client) reject(packetType PacketType, err error) {
	c.metrics.WriteRejected(packetType)
	c.logger.Debug("write rejected", LogFields{
		LogFieldPacketType: packetType.String(),
		LogFieldError:      err.Error(),
	})
}

// abort closes the transport immediately and records reason for the
// OnDisconnect callback. Input is ignored until the transport reports
// the disconnect.
func (c *Client) abort(reason DisconnectReason, cause error) {
	if c.closing || c.state == SessionDisconnected {
		return
	}

	c.closing = true
	c.reason = reason
	c.lastErr = NewDisconnectError(reason, cause)
	c.parser.halt()

	fields := LogFields{LogFieldReason: reason.String()}
	if cause != nil {
		fields[LogFieldError] = cause.Error()
	}
	if reason == ReasonTCPDisconnected {
		c.logger.Info("closing connection", fields)
	} else {
		c.logger.Warn("closing connection", fields)
	}

	if err := c.transport.Close(true); err != nil {
		c.logger.Error("transport close failed", LogFields{LogFieldError: err.Error()})
	}
}

// clear returns the session to SessionDisconnected with no state left
// from the previous connection.
func (c *Client) clear() {
	c.parser.Reset()
	c.ids.Reset()
	c.qos.reset()
	c.keepAlive.Reset()
	c.flow.Reset()

	c.disconnectRequested = false
	c.closing = false
	c.reason = ReasonTCPDisconnected

	c.setState(SessionDisconnected)
	c.metrics.Inflight(0)
	c.metrics.AcksQueued(0)
}

func (c *Client) sendDisconnect() {
	c.flushAcks()

	if _, err := c.write(&DisconnectPacket{}); err != nil {
		return
	}

	c.disconnectRequested = false
	if err := c.transport.Close(false); err != nil {
		c.logger.Error("transport close failed", LogFields{LogFieldError: err.Error()})
	}
}

func (c *Client) sendPing(now time.Time) {
	if _, err := c.write(&PingreqPacket{}); err != nil {
		return
	}
	c.keepAlive.PingSent(now)
}

func (c *Client) flushAcks() {
	if c.qos.acks.Len() == 0 {
		return
	}

	c.qos.acks.Flush(c)
	c.metrics.AcksQueued(c.qos.acks.Len())
}

func (c *Client) onConnected() {
	if c.state != SessionConnecting {
		c.logger.Warn("unexpected transport connect", LogFields{"state": c.state.String()})
		return
	}

	if len(c.options.fingerprints) > 0 {
		if err := c.verifyServer(); err != nil {
			c.abort(ReasonTLSBadFingerprint, err)
			return
		}
	}

	c.keepAlive.Start(c.options.now())

	if _, err := c.write(c.connectPacket()); err != nil {
		c.abort(ReasonNotEnoughSpace, err)
		return
	}

	c.logger.Debug("connect sent", LogFields{"keep_alive": c.options.keepAlive})
}

func (c *Client) verifyServer() error {
	stater, ok := c.transport.(ConnectionStater)
	if !ok {
		return fmt.Errorf("%w: transport exposes no TLS state", ErrTLSVerifyFailed)
	}

	state, ok := stater.ConnectionState()
	if !ok {
		return fmt.Errorf("%w: connection is not TLS", ErrTLSVerifyFailed)
	}

	return VerifyFingerprint(state, c.options.fingerprints)
}

func (c *Client) onDisconnected() {
	if c.state == SessionDisconnected {
		return
	}

	reason := c.reason
	graceful := !c.closing && c.state == SessionDisconnecting && !c.disconnectRequested
	if !graceful && c.lastErr == nil {
		c.lastErr = NewDisconnectError(reason, ErrConnectionLost)
	}

	c.clear()

	c.metrics.Disconnected(reason)
	c.logger.Info("disconnected", LogFields{LogFieldReason: reason.String()})

	c.options.onDisconnect(reason)
}

func (c *Client) onData(p []byte) {
	if c.state == SessionDisconnected {
		return
	}

	c.metrics.BytesReceived(len(p))

	if err := c.parser.Feed(p); err != nil && !errors.Is(err, errParserHalted) {
		c.abort(ReasonProtocolViolation, err)
	}
}

func (c *Client) onPoll() {
	if c.state != SessionConnected && c.state != SessionDisconnecting {
		return
	}

	now := c.options.now()

	switch c.keepAlive.Evaluate(now) {
	case keepAliveTimeout:
		c.abort(ReasonKeepAliveTimeout, nil)
		return
	case keepAliveSendPing:
		c.sendPing(now)
	}

	c.flushAcks()

	if c.disconnectRequested {
		c.sendDisconnect()
	}
}

// serverActivity implements packetHandler.
func (c *Client) serverActivity() {
	c.keepAlive.ServerActivity(c.options.now())
}

// handlePacket implements packetHandler.
func (c *Client) handlePacket(p Packet) {
	if c.state == SessionConnecting && p.Type() != PacketCONNACK {
		c.abort(ReasonProtocolViolation, fmt.Errorf("%w: %s before CONNACK", ErrUnexpectedPacket, p.Type()))
		return
	}

	if p.Type() != PacketPUBLISH {
		c.metrics.PacketReceived(p.Type())
	}

	switch pkt := p.(type) {
	case *ConnackPacket:
		c.handleConnack(pkt)
	case *PingrespPacket:
		c.handlePingresp()
	case *SubackPacket:
		c.logger.Debug("subscribed", LogFields{LogFieldPacketID: pkt.PacketID, LogFieldReturnCode: pkt.ReturnCode})
		c.options.onSubscribe(pkt.PacketID, pkt.ReturnCode)
	case *UnsubackPacket:
		c.options.onUnsubscribe(pkt.PacketID)
	case *PublishPacket:
		c.handlePublish(pkt)
	case *AckPacket:
		c.handleAck(pkt)
	}
}

func (c *Client) handleConnack(pkt *ConnackPacket) {
	if c.state != SessionConnecting {
		c.abort(ReasonProtocolViolation, fmt.Errorf("%w: CONNACK in state %s", ErrUnexpectedPacket, c.state))
		return
	}

	if pkt.ReturnCode != ConnectAccepted {
		c.abort(reasonFromReturnCode(pkt.ReturnCode), fmt.Errorf("%w: %s", ErrConnectionRefused, pkt.ReturnCode))
		return
	}

	c.setState(SessionConnected)
	c.metrics.Connected()
	c.logger.Info("connected", LogFields{"session_present": pkt.SessionPresent})

	c.options.onConnect(pkt.SessionPresent)
}

func (c *Client) handlePingresp() {
	if !c.keepAlive.PingOutstanding() {
		return
	}

	c.metrics.PingLatency(c.options.now().Sub(c.keepAlive.LastPing()))
	c.keepAlive.PingResponse()
}

func (c *Client) handlePublish(pkt *PublishPacket) {
	deliver := c.qos.shouldDeliver(pkt.QoS, pkt.PacketID)

	if pkt.Index == 0 {
		c.metrics.PacketReceived(PacketPUBLISH)
		if deliver {
			c.metrics.MessageReceived(pkt.QoS)
		} else {
			c.metrics.DuplicateSuppressed()
			c.logger.Debug("duplicate suppressed", LogFields{LogFieldPacketID: pkt.PacketID, LogFieldTopic: pkt.Topic})
		}
	}

	if deliver {
		c.options.onMessage(pkt.Topic, pkt.Payload, pkt.Properties(), pkt.Length, pkt.Index, pkt.Total)
		if c.state == SessionDisconnected || c.closing {
			return
		}
	}

	if pkt.Last() {
		c.qos.publishComplete(pkt.QoS, pkt.PacketID)
		c.flushAcks()
	}
}

func (c *Client) handleAck(pkt *AckPacket) {
	switch pkt.Kind {
	case PacketPUBACK, PacketPUBCOMP:
		c.flow.Release(pkt.PacketID)
		c.metrics.Inflight(c.flow.InFlight())
		c.options.onPublish(pkt.PacketID)
	case PacketPUBREC:
		c.qos.pubrec(pkt.PacketID)
		c.flushAcks()
	case PacketPUBREL:
		c.qos.pubrel(pkt.PacketID)
		c.flushAcks()
	}
}

// transportEvents adapts a Client to TransportHandler without exporting
// the event methods on Client.
type transportEvents Client

func (e *transportEvents) client() *Client {
	return (*Client)(e)
}

func (e *transportEvents) OnConnected() {
	e.client().onConnected()
}

func (e *transportEvents) OnDisconnected() {
	e.client().onDisconnected()
}

func (e *transportEvents) OnError(err error) {
	e.client().logger.Error("transport error", LogFields{LogFieldError: err.Error()})
}

func (e *transportEvents) OnTimeout(elapsed time.Duration) {
	e.client().logger.Warn("transport timeout", LogFields{LogFieldDuration: elapsed.String()})
}

func (e *transportEvents) OnDataAcked(n int, elapsed time.Duration) {
	c := e.client()
	c.metrics.TransportAcked(n)
	c.logger.Debug("data acked", LogFields{LogFieldBytes: n, LogFieldDuration: elapsed.String()})
}

func (e *transportEvents) OnData(p []byte) {
	e.client().onData(p)
}

func (e *transportEvents) OnPoll() {
	e.client().onPoll()
}
