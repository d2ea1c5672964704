package asyncmqtt

import (
	"crypto/tls"
	"time"
)

// fakeTransport records outgoing bytes and lets tests drive the handler.
type fakeTransport struct {
	handler TransportHandler

	space    int
	out      []byte
	sends    int
	shortAdd bool

	connects   int
	host       string
	port       uint16
	secure     bool
	connectErr error

	closes     []bool
	syncClose  bool
	tlsState   *tls.ConnectionState
	disconnect bool
}

func newFakeTransport(space int) *fakeTransport {
	return &fakeTransport{space: space, syncClose: true}
}

func (f *fakeTransport) Connect(host string, port uint16, secure bool) error {
	f.connects++
	f.host = host
	f.port = port
	f.secure = secure
	return f.connectErr
}

func (f *fakeTransport) Space() int {
	return f.space
}

func (f *fakeTransport) Add(p []byte) int {
	n := min(len(p), f.space)
	if f.shortAdd {
		n = len(p) / 2
	}
	f.out = append(f.out, p[:n]...)
	f.space -= n
	return n
}

func (f *fakeTransport) Send() bool {
	f.sends++
	return true
}

func (f *fakeTransport) Close(immediate bool) error {
	f.closes = append(f.closes, immediate)
	if f.syncClose && !f.disconnect {
		f.disconnect = true
		f.handler.OnDisconnected()
	}
	return nil
}

func (f *fakeTransport) SetHandler(h TransportHandler) {
	f.handler = h
}

func (f *fakeTransport) ConnectionState() (tls.ConnectionState, bool) {
	if f.tlsState == nil {
		return tls.ConnectionState{}, false
	}
	return *f.tlsState, true
}

// take returns and clears the recorded bytes and restores the space they used.
func (f *fakeTransport) take() []byte {
	out := f.out
	f.space += len(out)
	f.out = nil
	return out
}

// serverConnect completes the transport connection and feeds a CONNACK.
func (f *fakeTransport) serverConnect(sessionPresent bool, code ConnectReturnCode) {
	f.disconnect = false
	f.handler.OnConnected()

	var flags byte
	if sessionPresent {
		flags = connackSessionPresent
	}
	f.handler.OnData([]byte{0x20, 0x02, flags, byte(code)})
}

func (f *fakeTransport) feed(p ...byte) {
	f.handler.OnData(p)
}

func (f *fakeTransport) poll() {
	f.handler.OnPoll()
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}
