package asyncmqtt

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// generateTestCertificate returns a self-signed certificate for 127.0.0.1
// and localhost, and a pool trusting it.
func generateTestCertificate(t testing.TB) (tls.Certificate, *x509.CertPool) {
	t.Helper()

	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{Organization: []string{"asyncmqtt test"}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(leaf)

	return tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  privateKey,
		Leaf:        leaf,
	}, pool
}

// startQUICEcho runs a QUIC server that echoes the first stream of every
// connection.
func startQUICEcho(t *testing.T, cert tls.Certificate) string {
	t.Helper()

	listener, err := quic.ListenAddr("127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{QUICALPN},
		MinVersion:   tls.VersionTLS13,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept(context.Background())
			if err != nil {
				return
			}

			go func() {
				stream, err := conn.AcceptStream(context.Background())
				if err != nil {
					return
				}
				_, _ = io.Copy(stream, stream)
			}()
		}
	}()

	return listener.Addr().String()
}

func TestQUICDialerTLSConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := NewQUICDialer(nil).tlsConfig("broker.local:8883")
		require.NoError(t, err)

		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
		assert.Equal(t, []string{QUICALPN}, cfg.NextProtos)
		assert.Equal(t, "broker.local", cfg.ServerName)
	})

	t.Run("caller config is not modified", func(t *testing.T) {
		base := &tls.Config{MinVersion: tls.VersionTLS12, ServerName: "override"}

		cfg, err := NewQUICDialer(base).tlsConfig("broker.local:8883")
		require.NoError(t, err)

		assert.Equal(t, "override", cfg.ServerName)
		assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
		assert.Equal(t, uint16(tls.VersionTLS12), base.MinVersion)
		assert.Empty(t, base.NextProtos)
	})

	t.Run("TLS 1.2 maximum is rejected", func(t *testing.T) {
		_, err := NewQUICDialer(&tls.Config{MaxVersion: tls.VersionTLS12}).tlsConfig("broker:1")
		assert.ErrorIs(t, err, ErrTLSRequired)
	})
}

func TestQUICRoundTrip(t *testing.T) {
	cert, pool := generateTestCertificate(t)
	address := startQUICEcho(t, cert)

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	conn, err := NewQUICDialer(&tls.Config{RootCAs: pool}).Dial(ctx, address)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(eventTimeout)))

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	state, ok := conn.(*QUICConn).ConnectionState()
	require.True(t, ok)
	assert.Equal(t, FingerprintSHA256(cert.Leaf), FingerprintSHA256(state.PeerCertificates[0]))
	assert.Equal(t, address, conn.RemoteAddr().String())
	assert.NotNil(t, conn.LocalAddr())

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestQUICDialErrors(t *testing.T) {
	t.Run("canceled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewQUICDialer(&tls.Config{InsecureSkipVerify: true}).Dial(ctx, "127.0.0.1:1234") //nolint:gosec
		assert.Error(t, err)
	})

	t.Run("no server", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		_, err := NewQUICDialer(&tls.Config{InsecureSkipVerify: true}).Dial(ctx, "127.0.0.1:59999") //nolint:gosec
		assert.ErrorContains(t, err, "quic dial")
	})
}

func TestQUICDialerWithNetTransport(t *testing.T) {
	cert, pool := generateTestCertificate(t)
	host, port := splitTestAddress(t, startQUICEcho(t, cert))

	tr, h := newTestTransport(t, WithDialer(NewQUICDialer(&tls.Config{RootCAs: pool})))

	// secure is satisfied by QUIC itself, no TLS layer is added on top.
	connectTransport(t, tr, host, port, true)
	h.expect(t, "connected")

	var ok bool
	require.NoError(t, tr.Sync(func() {
		_, ok = tr.ConnectionState()
		tr.Add([]byte{0xD0, 0x00})
		tr.Send()
	}))
	assert.True(t, ok)
	assert.Equal(t, []byte{0xD0, 0x00}, h.expectData(t, 2))
}
