package asyncmqtt

import (
	"context"
	"net"
)

// UnixDialer connects to an MQTT broker on a Unix domain socket. The
// address given to Dial is ignored in favor of Path, so a Client can keep
// its usual host and port settings.
type UnixDialer struct {
	// Path is the socket file path, e.g. /var/run/mqtt.sock.
	Path string
}

// NewUnixDialer creates a dialer for the socket at path.
func NewUnixDialer(path string) *UnixDialer {
	return &UnixDialer{Path: path}
}

// Dial implements Dialer.
func (d *UnixDialer) Dial(ctx context.Context, _ string) (net.Conn, error) {
	var dialer net.Dialer
	return dialer.DialContext(ctx, "unix", d.Path)
}
