package asyncmqtt

import (
	"crypto/sha1" //nolint:gosec // SHA-1 certificate fingerprints are a broker identity convention, not a signature.
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Fingerprint sizes.
const (
	FingerprintSHA1Size   = sha1.Size
	FingerprintSHA256Size = sha256.Size
)

var (
	ErrInvalidFingerprint = errors.New("invalid certificate fingerprint")
	ErrNoPeerCertificate  = errors.New("no peer certificate")
)

// ConnectionStater is implemented by transports that expose the TLS state
// of the current connection.
type ConnectionStater interface {
	// ConnectionState returns false if the connection is not TLS or the
	// handshake has not completed.
	ConnectionState() (tls.ConnectionState, bool)
}

// FingerprintSHA1 returns the SHA-1 fingerprint of a certificate.
func FingerprintSHA1(cert *x509.Certificate) []byte {
	sum := sha1.Sum(cert.Raw) //nolint:gosec
	return sum[:]
}

// FingerprintSHA256 returns the SHA-256 fingerprint of a certificate.
func FingerprintSHA256(cert *x509.Certificate) []byte {
	sum := sha256.Sum256(cert.Raw)
	return sum[:]
}

// ParseFingerprint decodes a hex fingerprint, with or without ':' or
// space separators, and checks that it has a SHA-1 or SHA-256 size.
func ParseFingerprint(s string) ([]byte, error) {
	clean := strings.NewReplacer(":", "", " ", "").Replace(strings.TrimSpace(s))

	fp, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFingerprint, err)
	}
	if len(fp) != FingerprintSHA1Size && len(fp) != FingerprintSHA256Size {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidFingerprint, len(fp))
	}

	return fp, nil
}

// FormatFingerprint renders a fingerprint as upper case hex pairs separated by ':'.
func FormatFingerprint(fp []byte) string {
	parts := make([]string, len(fp))
	for i, b := range fp {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// VerifyFingerprint checks the leaf certificate of state against the
// trusted fingerprints. Each trusted entry is compared with the digest of
// matching size.
func VerifyFingerprint(state tls.ConnectionState, trusted [][]byte) error {
	if len(state.PeerCertificates) == 0 {
		return ErrNoPeerCertificate
	}

	leaf := state.PeerCertificates[0]
	sha1Sum := FingerprintSHA1(leaf)
	sha256Sum := FingerprintSHA256(leaf)

	for _, fp := range trusted {
		var sum []byte
		switch len(fp) {
		case FingerprintSHA1Size:
			sum = sha1Sum
		case FingerprintSHA256Size:
			sum = sha256Sum
		default:
			continue
		}

		if subtle.ConstantTimeCompare(fp, sum) == 1 {
			return nil
		}
	}

	return fmt.Errorf("%w: leaf %s", ErrTLSVerifyFailed, FormatFingerprint(sha1Sum))
}
