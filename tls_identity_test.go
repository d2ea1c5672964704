package asyncmqtt

import (
	"crypto/sha1" //nolint:gosec
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnectionState(raw ...string) tls.ConnectionState {
	var state tls.ConnectionState
	for _, r := range raw {
		state.PeerCertificates = append(state.PeerCertificates, &x509.Certificate{Raw: []byte(r)})
	}
	return state
}

func TestFingerprints(t *testing.T) {
	cert := &x509.Certificate{Raw: []byte("leaf certificate")}

	sha1Sum := sha1.Sum(cert.Raw) //nolint:gosec
	sha256Sum := sha256.Sum256(cert.Raw)

	assert.Equal(t, sha1Sum[:], FingerprintSHA1(cert))
	assert.Equal(t, sha256Sum[:], FingerprintSHA256(cert))
	assert.Len(t, FingerprintSHA1(cert), FingerprintSHA1Size)
	assert.Len(t, FingerprintSHA256(cert), FingerprintSHA256Size)
}

func TestParseFingerprint(t *testing.T) {
	sha1Hex := strings.Repeat("ab", 20)

	t.Run("plain hex", func(t *testing.T) {
		fp, err := ParseFingerprint(sha1Hex)
		require.NoError(t, err)
		assert.Len(t, fp, 20)
	})

	t.Run("colon separated upper case", func(t *testing.T) {
		fp, err := ParseFingerprint(strings.ToUpper(FormatFingerprint(make([]byte, 32))))
		require.NoError(t, err)
		assert.Len(t, fp, 32)
	})

	t.Run("space separated", func(t *testing.T) {
		fp, err := ParseFingerprint(" " + strings.Repeat("0f ", 20))
		require.NoError(t, err)
		assert.Equal(t, byte(0x0f), fp[19])
	})

	t.Run("not hex", func(t *testing.T) {
		_, err := ParseFingerprint("zz")
		assert.ErrorIs(t, err, ErrInvalidFingerprint)
	})

	t.Run("wrong size", func(t *testing.T) {
		_, err := ParseFingerprint("abcd")
		assert.ErrorIs(t, err, ErrInvalidFingerprint)
	})
}

func TestFormatFingerprint(t *testing.T) {
	assert.Equal(t, "00:AB:FF", FormatFingerprint([]byte{0x00, 0xab, 0xff}))
	assert.Empty(t, FormatFingerprint(nil))
}

func TestVerifyFingerprint(t *testing.T) {
	state := testConnectionState("leaf", "intermediate")
	leaf := state.PeerCertificates[0]
	intermediate := state.PeerCertificates[1]

	t.Run("sha1 match", func(t *testing.T) {
		assert.NoError(t, VerifyFingerprint(state, [][]byte{FingerprintSHA1(leaf)}))
	})

	t.Run("sha256 match among several", func(t *testing.T) {
		trusted := [][]byte{make([]byte, 20), FingerprintSHA256(leaf)}
		assert.NoError(t, VerifyFingerprint(state, trusted))
	})

	t.Run("only the leaf is checked", func(t *testing.T) {
		err := VerifyFingerprint(state, [][]byte{FingerprintSHA1(intermediate)})
		assert.ErrorIs(t, err, ErrTLSVerifyFailed)
	})

	t.Run("odd sized entries are skipped", func(t *testing.T) {
		err := VerifyFingerprint(state, [][]byte{{1, 2, 3}})
		assert.ErrorIs(t, err, ErrTLSVerifyFailed)
	})

	t.Run("no certificates", func(t *testing.T) {
		err := VerifyFingerprint(tls.ConnectionState{}, [][]byte{FingerprintSHA1(leaf)})
		assert.ErrorIs(t, err, ErrNoPeerCertificate)
	})
}
