package asyncmqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventTimeout = 5 * time.Second

type transportEvent struct {
	kind string
	n    int
	data []byte
	err  error
}

// eventRecorder forwards transport events to a channel.
type eventRecorder struct {
	events chan transportEvent
	polls  bool
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan transportEvent, 1024)}
}

func (h *eventRecorder) OnConnected() {
	h.events <- transportEvent{kind: "connected"}
}

func (h *eventRecorder) OnDisconnected() {
	h.events <- transportEvent{kind: "disconnected"}
}

func (h *eventRecorder) OnError(err error) {
	h.events <- transportEvent{kind: "error", err: err}
}

func (h *eventRecorder) OnTimeout(time.Duration) {
	h.events <- transportEvent{kind: "timeout"}
}

func (h *eventRecorder) OnDataAcked(n int, _ time.Duration) {
	h.events <- transportEvent{kind: "acked", n: n}
}

func (h *eventRecorder) OnData(p []byte) {
	h.events <- transportEvent{kind: "data", data: append([]byte(nil), p...)}
}

func (h *eventRecorder) OnPoll() {
	if h.polls {
		h.events <- transportEvent{kind: "poll"}
	}
}

// expect waits for the next event of kind, skipping acks and data unless
// they are asked for.
func (h *eventRecorder) expect(t *testing.T, kind string) transportEvent {
	t.Helper()

	timeout := time.After(eventTimeout)
	for {
		select {
		case ev := <-h.events:
			if ev.kind == kind {
				return ev
			}
			if ev.kind == "acked" || ev.kind == "data" || ev.kind == "poll" {
				continue
			}
			t.Fatalf("expected %s event, got %s (%v)", kind, ev.kind, ev.err)
		case <-timeout:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

// expectData collects OnData bytes until n arrived.
func (h *eventRecorder) expectData(t *testing.T, n int) []byte {
	t.Helper()

	var got []byte
	for len(got) < n {
		got = append(got, h.expect(t, "data").data...)
	}
	return got
}

type testBroker struct {
	listener net.Listener
	accepted chan net.Conn
}

func newTestBroker(t *testing.T, listener net.Listener) *testBroker {
	t.Helper()

	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
	}

	b := &testBroker{listener: listener, accepted: make(chan net.Conn, 4)}
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			if tc, ok := conn.(*tls.Conn); ok {
				go func() { _ = tc.Handshake() }()
			}
			b.accepted <- conn
		}
	}()

	return b
}

func (b *testBroker) hostPort(t *testing.T) (string, uint16) {
	t.Helper()
	return splitTestAddress(t, b.listener.Addr().String())
}

func splitTestAddress(t *testing.T, address string) (string, uint16) {
	t.Helper()

	host, portStr, err := net.SplitHostPort(address)
	require.NoError(t, err)
	port, err := strconv.ParseUint(portStr, 10, 16)
	require.NoError(t, err)

	return host, uint16(port)
}

func (b *testBroker) accept(t *testing.T) net.Conn {
	t.Helper()

	select {
	case conn := <-b.accepted:
		t.Cleanup(func() { conn.Close() })
		require.NoError(t, conn.SetDeadline(time.Now().Add(eventTimeout)))
		return conn
	case <-time.After(eventTimeout):
		t.Fatal("no connection accepted")
		return nil
	}
}

func newTestTransport(t *testing.T, opts ...NetOption) (*NetTransport, *eventRecorder) {
	t.Helper()

	tr := NewNetTransport(append([]NetOption{WithPollInterval(10 * time.Millisecond)}, opts...)...)
	t.Cleanup(tr.Stop)

	h := newEventRecorder()
	tr.SetHandler(h)

	return tr, h
}

func connectTransport(t *testing.T, tr *NetTransport, host string, port uint16, secure bool) {
	t.Helper()

	var err error
	require.NoError(t, tr.Sync(func() {
		err = tr.Connect(host, port, secure)
	}))
	require.NoError(t, err)
}

func TestNetTransportExchange(t *testing.T) {
	broker := newTestBroker(t, nil)
	tr, h := newTestTransport(t)
	host, port := broker.hostPort(t)

	connectTransport(t, tr, host, port, false)
	h.expect(t, "connected")
	server := broker.accept(t)

	var space, added int
	var sent bool
	require.NoError(t, tr.Sync(func() {
		space = tr.Space()
		added = tr.Add([]byte("hello"))
		sent = tr.Send()
	}))
	assert.Equal(t, DefaultSendBufferSize, space)
	assert.Equal(t, 5, added)
	assert.True(t, sent)

	buf := make([]byte, 5)
	_, err := io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, 5, h.expect(t, "acked").n)

	_, err = server.Write([]byte("world"))
	require.NoError(t, err)
	assert.Equal(t, "world", string(h.expectData(t, 5)))

	var remote net.Addr
	require.NoError(t, tr.Sync(func() { remote = tr.RemoteAddr() }))
	assert.Equal(t, server.LocalAddr().String(), remote.String())

	require.NoError(t, tr.Sync(func() { _ = tr.Close(true) }))
	h.expect(t, "disconnected")

	_, err = server.Read(buf)
	assert.Error(t, err)
}

func TestNetTransportSpace(t *testing.T) {
	broker := newTestBroker(t, nil)
	tr, h := newTestTransport(t, WithSendBufferSize(8))
	host, port := broker.hostPort(t)

	var space int
	require.NoError(t, tr.Sync(func() { space = tr.Space() }))
	assert.Zero(t, space, "no space before connect")

	connectTransport(t, tr, host, port, false)
	h.expect(t, "connected")
	server := broker.accept(t)

	var added int
	require.NoError(t, tr.Sync(func() {
		added = tr.Add([]byte("0123456789"))
		space = tr.Space()
		tr.Send()
	}))
	assert.Equal(t, 8, added)
	assert.Zero(t, space)

	buf := make([]byte, 8)
	_, err := io.ReadFull(server, buf)
	require.NoError(t, err)
	assert.Equal(t, "01234567", string(buf))

	h.expect(t, "acked")
	require.NoError(t, tr.Sync(func() { space = tr.Space() }))
	assert.Equal(t, 8, space)
}

func TestNetTransportGracefulClose(t *testing.T) {
	broker := newTestBroker(t, nil)
	tr, h := newTestTransport(t)
	host, port := broker.hostPort(t)

	connectTransport(t, tr, host, port, false)
	h.expect(t, "connected")
	server := broker.accept(t)

	require.NoError(t, tr.Sync(func() {
		tr.Add([]byte("bye"))
		_ = tr.Close(false)
	}))

	got, err := io.ReadAll(server)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(got))

	h.expect(t, "disconnected")
}

func TestNetTransportRemoteClose(t *testing.T) {
	broker := newTestBroker(t, nil)
	tr, h := newTestTransport(t)
	host, port := broker.hostPort(t)

	connectTransport(t, tr, host, port, false)
	h.expect(t, "connected")

	broker.accept(t).Close()

	h.expect(t, "disconnected")

	var space int
	require.NoError(t, tr.Sync(func() { space = tr.Space() }))
	assert.Zero(t, space)
}

func TestNetTransportDialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().(*net.TCPAddr)
	require.NoError(t, listener.Close())

	tr, h := newTestTransport(t)
	connectTransport(t, tr, "127.0.0.1", uint16(addr.Port), false)

	assert.Error(t, h.expect(t, "error").err)
	h.expect(t, "disconnected")

	// The transport is reusable after a failed dial.
	broker := newTestBroker(t, nil)
	host, port := broker.hostPort(t)
	connectTransport(t, tr, host, port, false)
	h.expect(t, "connected")
}

func TestNetTransportDialTimeout(t *testing.T) {
	blocking := DialerFunc(func(ctx context.Context, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	tr, h := newTestTransport(t, WithDialer(blocking), WithConnectTimeout(20*time.Millisecond))
	connectTransport(t, tr, "broker.invalid", 1883, false)

	h.expect(t, "timeout")
	h.expect(t, "disconnected")
}

func TestNetTransportCloseWhileDialing(t *testing.T) {
	canceled := make(chan struct{})
	blocking := DialerFunc(func(ctx context.Context, _ string) (net.Conn, error) {
		<-ctx.Done()
		close(canceled)
		return nil, ctx.Err()
	})

	tr, h := newTestTransport(t, WithDialer(blocking))
	connectTransport(t, tr, "broker.invalid", 1883, false)

	var err error
	require.NoError(t, tr.Sync(func() { err = tr.Connect("broker.invalid", 1883, false) }))
	assert.ErrorIs(t, err, ErrTransportBusy)

	require.NoError(t, tr.Sync(func() { _ = tr.Close(true) }))
	h.expect(t, "disconnected")

	select {
	case <-canceled:
	case <-time.After(eventTimeout):
		t.Fatal("dial not canceled")
	}

	require.NoError(t, tr.Sync(func() {}))
	select {
	case ev := <-h.events:
		t.Fatalf("unexpected %s event after close", ev.kind)
	default:
	}
}

func TestNetTransportPoll(t *testing.T) {
	broker := newTestBroker(t, nil)
	tr, h := newTestTransport(t)
	h.polls = true
	host, port := broker.hostPort(t)

	connectTransport(t, tr, host, port, false)
	h.expect(t, "connected")
	h.expect(t, "poll")
	h.expect(t, "poll")
}

func TestNetTransportDialRateLimit(t *testing.T) {
	broker := newTestBroker(t, nil)
	tr, h := newTestTransport(t,
		WithDialRateLimit(time.Hour, 1),
		WithConnectTimeout(100*time.Millisecond),
	)
	host, port := broker.hostPort(t)

	connectTransport(t, tr, host, port, false)
	h.expect(t, "connected")
	require.NoError(t, tr.Sync(func() { _ = tr.Close(true) }))
	h.expect(t, "disconnected")

	connectTransport(t, tr, host, port, false)
	ev := h.expect(t, "error")
	assert.Contains(t, ev.err.Error(), "dial rate limit")
	h.expect(t, "disconnected")
}

func TestNetTransportStop(t *testing.T) {
	tr := NewNetTransport()
	tr.Stop()
	tr.Stop()

	assert.False(t, tr.Do(func() {}))
	assert.ErrorIs(t, tr.Sync(func() {}), ErrTransportStopped)
	assert.ErrorIs(t, tr.Connect("localhost", 1883, false), ErrTransportStopped)
}

// testTLSListener serves TLS with the httptest certificate, valid for 127.0.0.1.
func testTLSListener(t *testing.T) (net.Listener, *x509.Certificate) {
	t.Helper()

	srv := httptest.NewUnstartedServer(nil)
	srv.StartTLS()
	cert := srv.TLS.Certificates[0]
	leaf := srv.Certificate()
	srv.Close()

	listener, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	})
	require.NoError(t, err)

	return listener, leaf
}

func TestNetTransportTLS(t *testing.T) {
	listener, leaf := testTLSListener(t)
	broker := newTestBroker(t, listener)
	host, port := broker.hostPort(t)

	roots := x509.NewCertPool()
	roots.AddCert(leaf)

	t.Run("secure connection exposes state", func(t *testing.T) {
		tr, h := newTestTransport(t, WithTLSConfig(&tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}))

		connectTransport(t, tr, host, port, true)
		h.expect(t, "connected")
		server := broker.accept(t)

		var state tls.ConnectionState
		var ok bool
		require.NoError(t, tr.Sync(func() { state, ok = tr.ConnectionState() }))
		require.True(t, ok)
		require.NotEmpty(t, state.PeerCertificates)
		assert.Equal(t, FingerprintSHA256(leaf), FingerprintSHA256(state.PeerCertificates[0]))

		require.NoError(t, tr.Sync(func() {
			tr.Add([]byte("x"))
			tr.Send()
		}))
		buf := make([]byte, 1)
		_, err := io.ReadFull(server, buf)
		require.NoError(t, err)
	})

	t.Run("untrusted certificate fails the handshake", func(t *testing.T) {
		tr, h := newTestTransport(t)

		connectTransport(t, tr, host, port, true)
		ev := h.expect(t, "error")
		assert.Contains(t, ev.err.Error(), "TLS handshake failed")
		h.expect(t, "disconnected")
	})

	t.Run("plain connection has no state", func(t *testing.T) {
		plain := newTestBroker(t, nil)
		plainHost, plainPort := plain.hostPort(t)
		tr, h := newTestTransport(t)

		connectTransport(t, tr, plainHost, plainPort, false)
		h.expect(t, "connected")

		var ok bool
		require.NoError(t, tr.Sync(func() { _, ok = tr.ConnectionState() }))
		assert.False(t, ok)
	})
}

// readFrame reads one MQTT frame from conn.
func readFrame(t *testing.T, conn net.Conn) (byte, []byte) {
	t.Helper()

	one := make([]byte, 1)
	_, err := io.ReadFull(conn, one)
	require.NoError(t, err)
	first := one[0]

	var length, shift uint32
	for {
		_, err := io.ReadFull(conn, one)
		require.NoError(t, err)
		length |= uint32(one[0]&0x7F) << shift
		if one[0]&0x80 == 0 {
			break
		}
		shift += 7
	}

	body := make([]byte, length)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)

	return first, body
}

func TestNetTransportWithClient(t *testing.T) {
	listener, leaf := testTLSListener(t)
	broker := newTestBroker(t, listener)
	host, port := broker.hostPort(t)

	roots := x509.NewCertPool()
	roots.AddCert(leaf)

	tr := NewNetTransport(
		WithTLSConfig(&tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}),
		WithPollInterval(10*time.Millisecond),
	)
	t.Cleanup(tr.Stop)

	connected := make(chan bool, 1)
	published := make(chan uint16, 1)
	messages := make(chan string, 1)
	disconnected := make(chan DisconnectReason, 1)

	client := NewClient(tr,
		WithServer(host, port),
		WithClientID("net-client"),
		WithServerFingerprint(FingerprintSHA256(leaf)),
		OnConnect(func(sessionPresent bool) { connected <- sessionPresent }),
		OnPublish(func(id uint16) { published <- id }),
		OnMessage(func(topic string, payload []byte, _ MessageProperties, _, index, total int) {
			if index == 0 && len(payload) == total {
				messages <- topic + "=" + string(payload)
			}
		}),
		OnDisconnect(func(reason DisconnectReason) { disconnected <- reason }),
	)

	var err error
	require.NoError(t, tr.Sync(func() { err = client.Connect() }))
	require.NoError(t, err)

	server := broker.accept(t)

	first, body := readFrame(t, server)
	require.Equal(t, byte(0x10), first)
	assert.Contains(t, string(body), "net-client")

	_, err = server.Write([]byte{0x20, 0x02, 0x00, 0x00})
	require.NoError(t, err)
	assert.False(t, waitFor(t, connected))

	var id uint16
	require.NoError(t, tr.Sync(func() { id = client.Publish("a/b", QoS1, false, []byte("hi"), false, 0) }))
	require.Equal(t, uint16(1), id)

	first, body = readFrame(t, server)
	assert.Equal(t, byte(0x32), first)
	assert.Equal(t, []byte{0x00, 0x03, 'a', '/', 'b', 0x00, 0x01, 'h', 'i'}, body)

	_, err = server.Write([]byte{0x40, 0x02, 0x00, 0x01})
	require.NoError(t, err)
	assert.Equal(t, uint16(1), waitFor(t, published))

	_, err = server.Write([]byte{0x30, 0x07, 0x00, 0x03, 'c', '/', 'd', 'o', 'k'})
	require.NoError(t, err)
	assert.Equal(t, "c/d=ok", waitFor(t, messages))

	require.NoError(t, tr.Sync(func() { client.Disconnect(false) }))

	first, _ = readFrame(t, server)
	assert.Equal(t, byte(0xE0), first)
	assert.Equal(t, ReasonTCPDisconnected, waitFor(t, disconnected))

	var lastErr error
	require.NoError(t, tr.Sync(func() { lastErr = client.LastError() }))
	assert.NoError(t, lastErr)
}

func TestNetTransportWithClientFingerprintMismatch(t *testing.T) {
	listener, leaf := testTLSListener(t)
	broker := newTestBroker(t, listener)
	host, port := broker.hostPort(t)

	roots := x509.NewCertPool()
	roots.AddCert(leaf)

	tr := NewNetTransport(WithTLSConfig(&tls.Config{RootCAs: roots, MinVersion: tls.VersionTLS12}))
	t.Cleanup(tr.Stop)

	disconnected := make(chan DisconnectReason, 1)
	client := NewClient(tr,
		WithServer(host, port),
		WithServerFingerprint(make([]byte, FingerprintSHA256Size)),
		OnDisconnect(func(reason DisconnectReason) { disconnected <- reason }),
	)

	var err error
	require.NoError(t, tr.Sync(func() { err = client.Connect() }))
	require.NoError(t, err)

	assert.Equal(t, ReasonTLSBadFingerprint, waitFor(t, disconnected))

	var lastErr error
	require.NoError(t, tr.Sync(func() { lastErr = client.LastError() }))
	assert.True(t, errors.Is(lastErr, ErrTLSVerifyFailed))
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(eventTimeout):
		t.Fatal("timed out")
		var zero T
		return zero
	}
}
