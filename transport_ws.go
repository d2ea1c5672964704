package asyncmqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// WebSocketSubprotocol is the MQTT WebSocket subprotocol.
	WebSocketSubprotocol = "mqtt"

	// DefaultWebSocketPath is the request path used when none is configured.
	DefaultWebSocketPath = "/mqtt"
)

// WSConn wraps a WebSocket connection to implement net.Conn. Each Write
// is sent as one binary message; reads see the message payloads as one
// byte stream.
type WSConn struct {
	conn *websocket.Conn
	buf  []byte
}

func newWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

// Read reads data from the connection.
func (c *WSConn) Read(b []byte) (int, error) {
	for len(c.buf) == 0 {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return 0, err
		}

		// MQTT over WebSocket uses binary messages
		if messageType != websocket.BinaryMessage {
			return 0, fmt.Errorf("%w: websocket message type %d", ErrProtocolViolation, messageType)
		}
		c.buf = data
	}

	n := copy(b, c.buf)
	c.buf = c.buf[n:]
	return n, nil
}

// Write writes data to the connection as a binary message.
func (c *WSConn) Write(b []byte) (int, error) {
	if err := c.conn.WriteMessage(websocket.BinaryMessage, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Close closes the connection.
func (c *WSConn) Close() error {
	return c.conn.Close()
}

// LocalAddr returns the local network address.
func (c *WSConn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *WSConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// SetDeadline sets the read and write deadlines.
func (c *WSConn) SetDeadline(t time.Time) error {
	if err := c.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return c.conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline.
func (c *WSConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// SetWriteDeadline sets the write deadline.
func (c *WSConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// ConnectionState implements ConnectionStater for wss connections.
func (c *WSConn) ConnectionState() (tls.ConnectionState, bool) {
	tlsConn, ok := c.conn.UnderlyingConn().(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tlsConn.ConnectionState(), true
}

// WSDialer connects to MQTT brokers over WebSocket.
type WSDialer struct {
	// Dialer is the underlying WebSocket dialer.
	Dialer *websocket.Dialer

	// Header is the HTTP header to send with the handshake.
	Header http.Header

	// Secure selects wss.
	Secure bool

	// Path is the request path. Empty means DefaultWebSocketPath.
	Path string
}

// NewWSDialer creates a WebSocket dialer with the MQTT subprotocol.
func NewWSDialer(secure bool, path string, tlsConfig *tls.Config) *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Subprotocols:     []string{WebSocketSubprotocol},
			ReadBufferSize:   readBufferSize,
			WriteBufferSize:  readBufferSize,
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: DefaultConnectTimeout,
		},
		Secure: secure,
		Path:   path,
	}
}

// SetProxyFromEnvironment routes the handshake through the proxy named by
// the HTTP_PROXY family of environment variables.
func (d *WSDialer) SetProxyFromEnvironment() {
	if d.Dialer == nil {
		d.Dialer = &websocket.Dialer{Subprotocols: []string{WebSocketSubprotocol}}
	}
	d.Dialer.Proxy = http.ProxyFromEnvironment
}

// URL returns the WebSocket URL for address.
func (d *WSDialer) URL(address string) string {
	u := url.URL{Scheme: "ws", Host: address, Path: d.Path}
	if d.Secure {
		u.Scheme = "wss"
	}
	if u.Path == "" {
		u.Path = DefaultWebSocketPath
	}
	return u.String()
}

// Dial implements Dialer. address is host:port.
func (d *WSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	header := d.Header
	if header == nil {
		header = http.Header{}
	}

	conn, resp, err := dialer.DialContext(ctx, d.URL(address), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	return newWSConn(conn), nil
}
