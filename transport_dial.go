package asyncmqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"
)

// ErrUnsupportedScheme is returned for server URLs with an unknown scheme.
var ErrUnsupportedScheme = errors.New("unsupported scheme")

// ServerURL is a parsed broker address such as mqtts://broker:8883,
// wss://broker/mqtt or unix:///run/mqtt.sock.
type ServerURL struct {
	Scheme string
	Host   string
	Port   uint16
	Path   string
}

// ParseServerURL parses a broker URL. A missing port takes the scheme's
// default. Supported schemes: tcp, mqtt, ssl, tls, mqtts, ws, wss, quic
// and unix.
func ParseServerURL(raw string) (*ServerURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	s := &ServerURL{Scheme: u.Scheme, Host: u.Hostname(), Path: u.Path}

	var defaultPort uint16
	switch u.Scheme {
	case "tcp", "mqtt":
		defaultPort = DefaultPort
	case "ssl", "tls", "mqtts", "quic":
		defaultPort = DefaultSecurePort
	case "ws":
		defaultPort = 80
	case "wss":
		defaultPort = 443
	case "unix":
		// unix:///path/to/socket or unix://localhost/path/to/socket
		if s.Path == "" {
			s.Path = u.Host
		}
		if s.Path == "" {
			return nil, fmt.Errorf("invalid server URL %q: missing socket path", raw)
		}
		s.Host = "localhost"
		s.Port = DefaultPort
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}

	if s.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", raw)
	}

	s.Port = defaultPort
	if p := u.Port(); p != "" {
		port, err := strconv.ParseUint(p, 10, 16)
		if err != nil || port == 0 {
			return nil, fmt.Errorf("invalid server URL %q: bad port %q", raw, p)
		}
		s.Port = uint16(port)
	}

	return s, nil
}

// Secure reports whether the scheme runs over TLS.
func (s *ServerURL) Secure() bool {
	switch s.Scheme {
	case "ssl", "tls", "mqtts", "wss", "quic":
		return true
	default:
		return false
	}
}

// Address returns host:port.
func (s *ServerURL) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
}

func (s *ServerURL) String() string {
	if s.Scheme == "unix" {
		return "unix://" + s.Path
	}
	u := url.URL{Scheme: s.Scheme, Host: s.Address(), Path: s.Path}
	return u.String()
}

// DialOptions configures NewDialer.
type DialOptions struct {
	// TLSConfig is used by the wss and quic dialers. Plain TLS schemes are
	// encrypted by NetTransport with its own WithTLSConfig setting.
	TLSConfig *tls.Config

	// Proxy routes tcp and TLS schemes through a proxy.
	Proxy *ProxyConfig

	// ProxyFromEnvironment picks the proxy from HTTP_PROXY and friends when
	// Proxy is not set. It also applies to WebSocket handshakes.
	ProxyFromEnvironment bool

	// Timeout bounds the TCP connect.
	Timeout time.Duration
}

// NewDialer returns the Dialer for the URL's scheme. Pair it with
// NetTransport and pass s.Secure() to the client; quic and wss encrypt in
// the dialer, so NetTransport adds no second TLS layer.
func NewDialer(s *ServerURL, opts DialOptions) (Dialer, error) {
	switch s.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts":
		proxyDialer, err := resolveProxy(s, opts)
		if err != nil {
			return nil, fmt.Errorf("proxy configuration error: %w", err)
		}
		if proxyDialer != nil {
			return proxyDialer, nil
		}
		return &TCPDialer{Timeout: opts.Timeout}, nil

	case "ws", "wss":
		d := NewWSDialer(s.Scheme == "wss", s.Path, opts.TLSConfig)
		if opts.Proxy != nil || opts.ProxyFromEnvironment {
			d.SetProxyFromEnvironment()
		}
		return d, nil

	case "quic":
		return NewQUICDialer(opts.TLSConfig), nil

	case "unix":
		return NewUnixDialer(s.Path), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, s.Scheme)
	}
}

// resolveProxy returns a ProxyDialer, or nil if no proxy applies.
func resolveProxy(s *ServerURL, opts DialOptions) (*ProxyDialer, error) {
	if opts.Proxy != nil {
		return NewProxyDialer(*opts.Proxy)
	}

	if !opts.ProxyFromEnvironment {
		return nil, nil
	}

	proxyURL, err := ProxyFromEnvironment(s.Scheme, s.Host)
	if err != nil || proxyURL == nil {
		return nil, err
	}

	return NewProxyDialer(ProxyConfig{URL: proxyURL.String()})
}
