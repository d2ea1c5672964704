package asyncmqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// NetTransport defaults.
const (
	DefaultSendBufferSize = 5744
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second

	writeQueueSize = 64
	taskQueueSize  = 256
)

var (
	// ErrTransportBusy is returned by Connect while a connection exists.
	ErrTransportBusy = errors.New("transport busy")

	// ErrTransportStopped is returned after Stop.
	ErrTransportStopped = errors.New("transport stopped")

	errLocalClose = errors.New("closed locally")
)

type netState int

const (
	netIdle netState = iota
	netDialing
	netConnected
	netClosing
)

type netOptions struct {
	dialer         Dialer
	tlsConfig      *tls.Config
	sendBufferSize int
	pollInterval   time.Duration
	connectTimeout time.Duration
	limiter        *rate.Limiter
	logger         Logger
}

// NetOption configures a NetTransport.
type NetOption func(*netOptions)

// WithDialer sets the dialer. The default dials plain TCP.
func WithDialer(d Dialer) NetOption {
	return func(o *netOptions) {
		if d != nil {
			o.dialer = d
		}
	}
}

// WithTLSConfig sets the TLS configuration used for secure connections
// that the dialer does not already encrypt.
func WithTLSConfig(cfg *tls.Config) NetOption {
	return func(o *netOptions) {
		o.tlsConfig = cfg
	}
}

// WithSendBufferSize sets the send buffer capacity reported by Space.
func WithSendBufferSize(n int) NetOption {
	return func(o *netOptions) {
		if n > 0 {
			o.sendBufferSize = n
		}
	}
}

// WithPollInterval sets the OnPoll period.
func WithPollInterval(d time.Duration) NetOption {
	return func(o *netOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithConnectTimeout bounds dialing and the TLS handshake.
func WithConnectTimeout(d time.Duration) NetOption {
	return func(o *netOptions) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithDialRateLimit allows one dial per interval after an initial burst.
// Reconnect loops driven from OnDisconnect are paced by it.
func WithDialRateLimit(interval time.Duration, burst int) NetOption {
	return func(o *netOptions) {
		if interval > 0 && burst > 0 {
			o.limiter = rate.NewLimiter(rate.Every(interval), burst)
		}
	}
}

// WithTransportLogger sets the logger for the transport.
func WithTransportLogger(logger Logger) NetOption {
	return func(o *netOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NetTransport runs a Client over a net.Conn.
//
// All handler events and all functions passed to Do run on one executor
// goroutine. Transport methods must only be called from that goroutine,
// which is where client callbacks already run. Other goroutines reach the
// client through Do or Sync.
type NetTransport struct {
	opts    *netOptions
	logger  Logger
	handler TransportHandler

	tasks    chan func()
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// Owned by the executor goroutine.
	later    []func()
	state    netState
	session  uint64
	conn     net.Conn
	cancel   context.CancelFunc
	writes   chan []byte
	pending  []byte
	inflight int
	drained  bool
}

// NewNetTransport creates a transport and starts its executor goroutine.
// Call Stop to release it.
func NewNetTransport(opts ...NetOption) *NetTransport {
	o := &netOptions{
		dialer:         &TCPDialer{},
		sendBufferSize: DefaultSendBufferSize,
		pollInterval:   DefaultPollInterval,
		connectTimeout: DefaultConnectTimeout,
		logger:         NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}

	t := &NetTransport{
		opts:    o,
		logger:  o.logger,
		handler: nopTransportHandler{},
		tasks:   make(chan func(), taskQueueSize),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go t.run()

	return t
}

// Do schedules fn on the executor goroutine. It returns false after Stop.
func (t *NetTransport) Do(fn func()) bool {
	select {
	case <-t.stop:
		return false
	default:
	}

	select {
	case t.tasks <- fn:
		return true
	case <-t.stop:
		return false
	}
}

// Sync runs fn on the executor goroutine and waits for it.
func (t *NetTransport) Sync(fn func()) error {
	done := make(chan struct{})
	if !t.Do(func() {
		defer close(done)
		fn()
	}) {
		return ErrTransportStopped
	}

	select {
	case <-done:
		return nil
	case <-t.stopped:
		return ErrTransportStopped
	}
}

// Stop drops any connection without events and ends the executor. It must
// not be called from the executor goroutine.
func (t *NetTransport) Stop() {
	t.stopOnce.Do(func() {
		close(t.stop)
	})
	<-t.stopped
}

func (t *NetTransport) run() {
	defer close(t.stopped)

	for {
		select {
		case fn := <-t.tasks:
			fn()
			t.runLater()
		case <-t.stop:
			t.teardown()
			return
		}
	}
}

func (t *NetTransport) runLater() {
	for len(t.later) > 0 {
		fn := t.later[0]
		t.later = t.later[1:]
		fn()
	}
}

// deferTask runs fn after the current executor task. Handler events raised
// from inside a Transport method go through it to avoid reentrancy.
func (t *NetTransport) deferTask(fn func()) {
	t.later = append(t.later, fn)
}

// post hands fn to the executor from another goroutine. fn is dropped if
// the connection it belongs to is gone by then.
func (t *NetTransport) post(session uint64, fn func()) bool {
	return t.Do(func() {
		if t.session == session {
			fn()
		}
	})
}

// call is post that waits until the executor ran or dropped fn.
func (t *NetTransport) call(session uint64, fn func()) bool {
	done := make(chan struct{})
	if !t.Do(func() {
		defer close(done)
		if t.session == session {
			fn()
		}
	}) {
		return false
	}

	select {
	case <-done:
		return true
	case <-t.stopped:
		return false
	}
}

// SetHandler implements Transport.
func (t *NetTransport) SetHandler(h TransportHandler) {
	if h == nil {
		h = nopTransportHandler{}
	}
	t.handler = h
}

// Connect implements Transport. The dial runs in the background; its
// outcome arrives as OnConnected, or as OnError or OnTimeout followed by
// OnDisconnected.
func (t *NetTransport) Connect(host string, port uint16, secure bool) error {
	select {
	case <-t.stop:
		return ErrTransportStopped
	default:
	}

	if t.state != netIdle {
		return ErrTransportBusy
	}

	t.session++
	session := t.session
	t.state = netDialing

	ctx, cancel := context.WithTimeout(context.Background(), t.opts.connectTimeout)
	t.cancel = cancel

	address := net.JoinHostPort(host, strconv.Itoa(int(port)))
	started := time.Now()

	t.logger.Debug("dialing", LogFields{LogFieldRemoteAddr: address, "secure": secure})

	go func() {
		conn, err := t.dial(ctx, host, address, secure)
		cancel()

		delivered := t.Do(func() {
			if t.session != session {
				closeConn(conn)
				return
			}
			t.dialed(conn, err, time.Since(started))
		})
		if !delivered {
			closeConn(conn)
		}
	}()

	return nil
}

func (t *NetTransport) dial(ctx context.Context, host, address string, secure bool) (net.Conn, error) {
	if t.opts.limiter != nil {
		if err := t.opts.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("dial rate limit: %w", err)
		}
	}

	conn, err := t.opts.dialer.Dial(ctx, address)
	if err != nil {
		return nil, err
	}

	if !secure {
		return conn, nil
	}
	if _, ok := connTLSState(conn); ok {
		return conn, nil
	}

	tlsConn := tls.Client(conn, t.clientTLSConfig(host))
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("TLS handshake failed: %w", err)
	}

	return tlsConn, nil
}

func (t *NetTransport) clientTLSConfig(host string) *tls.Config {
	cfg := t.opts.tlsConfig
	if cfg == nil {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	} else {
		cfg = cfg.Clone()
	}

	if cfg.ServerName == "" {
		cfg.ServerName = host
	}

	return cfg
}

// dialed runs on the executor with the dial outcome.
func (t *NetTransport) dialed(conn net.Conn, err error, elapsed time.Duration) {
	t.cancel = nil

	if err != nil {
		t.state = netIdle
		t.session++

		if errors.Is(err, context.DeadlineExceeded) {
			t.logger.Warn("dial timeout", LogFields{LogFieldDuration: elapsed.String()})
			t.handler.OnTimeout(elapsed)
		} else {
			t.logger.Warn("dial failed", LogFields{LogFieldError: err.Error()})
			t.handler.OnError(err)
		}
		t.handler.OnDisconnected()
		return
	}

	t.start(conn)

	t.logger.Debug("connected", LogFields{
		LogFieldRemoteAddr: conn.RemoteAddr().String(),
		LogFieldDuration:   elapsed.String(),
	})

	t.handler.OnConnected()
}

// start launches the connection goroutines under one errgroup. The first
// goroutine to fail cancels the others and closes the connection.
func (t *NetTransport) start(conn net.Conn) {
	session := t.session
	writes := make(chan []byte, writeQueueSize)

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	t.state = netConnected
	t.conn = conn
	t.cancel = cancel
	t.writes = writes
	t.pending = nil
	t.inflight = 0
	t.drained = false

	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})

	g.Go(func() error {
		return t.readLoop(gctx, session, conn)
	})

	g.Go(func() error {
		return t.writeLoop(gctx, session, conn, writes)
	})

	g.Go(func() error {
		return t.pollLoop(gctx, session)
	})

	go func() {
		err := g.Wait()
		cancel()
		t.post(session, func() {
			t.lost(err)
		})
	}()
}

func (t *NetTransport) readLoop(ctx context.Context, session uint64, conn net.Conn) error {
	for {
		buf := getReadBuffer()
		n, err := conn.Read(*buf)

		if n > 0 {
			data := (*buf)[:n]
			if !t.call(session, func() {
				t.handler.OnData(data)
			}) {
				putReadBuffer(buf)
				return ErrTransportStopped
			}
		}
		putReadBuffer(buf)

		if err != nil {
			if ctx.Err() != nil {
				return errLocalClose
			}
			return err
		}
	}
}

func (t *NetTransport) writeLoop(ctx context.Context, session uint64, conn net.Conn, writes <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-writes:
			if !ok {
				return errLocalClose
			}

			started := time.Now()
			if _, err := conn.Write(data); err != nil {
				return fmt.Errorf("write: %w", err)
			}

			n := len(data)
			t.post(session, func() {
				t.acked(n, time.Since(started))
			})
		}
	}
}

func (t *NetTransport) pollLoop(ctx context.Context, session uint64) error {
	ticker := time.NewTicker(t.opts.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.post(session, t.poll)
		}
	}
}

func (t *NetTransport) acked(n int, elapsed time.Duration) {
	t.inflight -= n
	if t.inflight < 0 {
		t.inflight = 0
	}
	t.handler.OnDataAcked(n, elapsed)
}

func (t *NetTransport) poll() {
	t.flush()

	if t.state == netConnected {
		t.handler.OnPoll()
	}
}

// lost runs on the executor once the connection goroutines ended.
func (t *NetTransport) lost(err error) {
	graceful := t.state == netClosing
	t.teardown()

	if err != nil && !graceful && !errors.Is(err, errLocalClose) && !errors.Is(err, io.EOF) {
		t.logger.Warn("connection lost", LogFields{LogFieldError: err.Error()})
		t.handler.OnError(err)
	}

	t.handler.OnDisconnected()
}

// teardown forgets the current connection. Events still in flight for it
// are dropped.
func (t *NetTransport) teardown() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}

	t.session++
	t.state = netIdle
	t.writes = nil
	t.pending = nil
	t.inflight = 0
	t.drained = false
}

// Space implements Transport.
func (t *NetTransport) Space() int {
	if t.state != netConnected {
		return 0
	}
	return max(t.opts.sendBufferSize-len(t.pending)-t.inflight, 0)
}

// Add implements Transport.
func (t *NetTransport) Add(p []byte) int {
	n := min(len(p), t.Space())
	t.pending = append(t.pending, p[:n]...)
	return n
}

// Send implements Transport. Buffered bytes that do not fit the write
// queue are retried on the next poll.
func (t *NetTransport) Send() bool {
	if t.state != netConnected {
		return false
	}
	return t.flush()
}

func (t *NetTransport) flush() bool {
	if t.writes == nil || t.drained {
		return false
	}

	if len(t.pending) > 0 {
		select {
		case t.writes <- t.pending:
			t.inflight += len(t.pending)
			t.pending = nil
		default:
			return false
		}
	}

	if t.state == netClosing {
		close(t.writes)
		t.drained = true
	}

	return true
}

// Close implements Transport.
func (t *NetTransport) Close(immediate bool) error {
	switch t.state {
	case netIdle:
		return nil

	case netDialing:
		t.teardown()
		t.deferTask(t.handler.OnDisconnected)

	case netConnected:
		if immediate {
			t.teardown()
			t.deferTask(t.handler.OnDisconnected)
			return nil
		}

		t.state = netClosing
		t.flush()

	case netClosing:
		if immediate {
			t.teardown()
			t.deferTask(t.handler.OnDisconnected)
		}
	}

	return nil
}

// ConnectionState implements ConnectionStater.
func (t *NetTransport) ConnectionState() (tls.ConnectionState, bool) {
	if t.conn == nil {
		return tls.ConnectionState{}, false
	}
	return connTLSState(t.conn)
}

// RemoteAddr returns the peer address, or nil when not connected.
func (t *NetTransport) RemoteAddr() net.Addr {
	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

func closeConn(conn net.Conn) {
	if conn != nil {
		_ = conn.Close()
	}
}

type nopTransportHandler struct{}

func (nopTransportHandler) OnConnected()                   {}
func (nopTransportHandler) OnDisconnected()                {}
func (nopTransportHandler) OnError(error)                  {}
func (nopTransportHandler) OnTimeout(time.Duration)        {}
func (nopTransportHandler) OnDataAcked(int, time.Duration) {}
func (nopTransportHandler) OnData([]byte)                  {}
func (nopTransportHandler) OnPoll()                        {}
