package asyncmqtt

import (
	"context"
	"crypto/tls"
	"net"
	"time"
)

// Transport is the byte stream the client runs on. Its methods are called
// from the client's single execution context and must not block.
type Transport interface {
	// Connect starts connecting to host:port. The outcome is reported
	// through the handler.
	Connect(host string, port uint16, secure bool) error

	// Space returns how many bytes Add can take right now.
	Space() int

	// Add appends p to the send buffer and returns the bytes taken.
	Add(p []byte) int

	// Send requests transmission of the buffered bytes.
	Send() bool

	// Close closes the connection. With immediate set, buffered bytes are
	// dropped. OnDisconnected follows once the connection is gone.
	Close(immediate bool) error

	// SetHandler registers the receiver of transport events.
	SetHandler(h TransportHandler)
}

// TransportHandler receives transport events. The transport delivers
// them from one execution context, never concurrently.
type TransportHandler interface {
	OnConnected()
	OnDisconnected()
	OnError(err error)
	OnTimeout(elapsed time.Duration)

	// OnDataAcked reports n buffered bytes confirmed written.
	OnDataAcked(n int, elapsed time.Duration)

	// OnData delivers received bytes. p is only valid during the call.
	OnData(p []byte)

	// OnPoll is called periodically while connected.
	OnPoll()
}

// Dialer establishes the network connection under a Transport.
type Dialer interface {
	// Dial connects to the address with the given context.
	Dial(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts an ordinary function to the Dialer interface.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

// Dial calls f(ctx, address).
func (f DialerFunc) Dial(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// TCPDialer connects to MQTT brokers over TCP.
type TCPDialer struct {
	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address.
func (d *TCPDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{Timeout: d.Timeout}
	return dialer.DialContext(ctx, "tcp", address)
}

// TLSDialer connects to MQTT brokers over TLS.
type TLSDialer struct {
	// Config is the TLS configuration.
	Config *tls.Config

	// Timeout is the maximum time to wait for a connection.
	// Zero means no timeout.
	Timeout time.Duration
}

// Dial connects to the address and completes the TLS handshake.
func (d *TLSDialer) Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: d.Timeout},
		Config:    d.Config,
	}
	return dialer.DialContext(ctx, "tcp", address)
}

// connTLSState returns the TLS state of conn, if it carries one.
func connTLSState(conn net.Conn) (tls.ConnectionState, bool) {
	switch c := conn.(type) {
	case *tls.Conn:
		return c.ConnectionState(), true
	case ConnectionStater:
		return c.ConnectionState()
	default:
		return tls.ConnectionState{}, false
	}
}
