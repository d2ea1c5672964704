package asyncmqtt

import (
	"errors"
	"fmt"
)

// Sentinel errors for protocol issues - check with errors.Is().
var (
	// ErrProtocolViolation is the base of every inbound protocol error.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrUnknownPacketType is returned for packet types a client must not receive.
	ErrUnknownPacketType = fmt.Errorf("%w: unknown packet type", ErrProtocolViolation)

	// ErrMalformedPacket is returned when a packet cannot be decoded.
	ErrMalformedPacket = fmt.Errorf("%w: malformed packet", ErrProtocolViolation)

	// ErrUnexpectedPacket is returned for a valid packet arriving in the wrong session state.
	ErrUnexpectedPacket = fmt.Errorf("%w: unexpected packet", ErrProtocolViolation)
)

// Sentinel errors for operations - check with errors.Is().
var (
	// ErrInsufficientSpace is returned when the transport cannot buffer a whole frame.
	ErrInsufficientSpace = errors.New("insufficient transport buffer space")

	// ErrNotConnected is returned when an operation requires an active session.
	ErrNotConnected = errors.New("not connected")

	// ErrAlreadyConnected is returned by Connect on a session that is not disconnected.
	ErrAlreadyConnected = errors.New("already connected")

	// ErrInvalidQoS is returned for QoS levels above 2.
	ErrInvalidQoS = errors.New("invalid QoS level")

	// ErrNoServer is returned by Connect when no server is configured.
	ErrNoServer = errors.New("no server configured")
)

// Sentinel errors for disconnects - check with errors.Is().
var (
	// ErrConnectionLost is the cause of a plain transport disconnect.
	ErrConnectionLost = errors.New("connection lost")

	// ErrConnectionRefused is the cause of a CONNACK failure.
	ErrConnectionRefused = errors.New("connection refused")

	// ErrTLSVerifyFailed is the cause of a server fingerprint mismatch.
	ErrTLSVerifyFailed = errors.New("TLS fingerprint verification failed")

	// ErrKeepAliveTimeout is the cause of a missing PINGRESP.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
)

// DisconnectReason tells the application why a session ended.
type DisconnectReason int

// Disconnect reasons. Values 1 to 5 equal the CONNACK return code.
const (
	ReasonTCPDisconnected             DisconnectReason = 0
	ReasonUnacceptableProtocolVersion DisconnectReason = 1
	ReasonIdentifierRejected          DisconnectReason = 2
	ReasonServerUnavailable           DisconnectReason = 3
	ReasonMalformedCredentials        DisconnectReason = 4
	ReasonNotAuthorized               DisconnectReason = 5
	ReasonNotEnoughSpace              DisconnectReason = 6
	ReasonTLSBadFingerprint           DisconnectReason = 7
	ReasonProtocolViolation           DisconnectReason = 8
	ReasonKeepAliveTimeout            DisconnectReason = 9
)

// String returns the string representation of the reason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonTCPDisconnected:
		return "tcp disconnected"
	case ReasonUnacceptableProtocolVersion:
		return "unacceptable protocol version"
	case ReasonIdentifierRejected:
		return "identifier rejected"
	case ReasonServerUnavailable:
		return "server unavailable"
	case ReasonMalformedCredentials:
		return "malformed credentials"
	case ReasonNotAuthorized:
		return "not authorized"
	case ReasonNotEnoughSpace:
		return "not enough space"
	case ReasonTLSBadFingerprint:
		return "TLS bad fingerprint"
	case ReasonProtocolViolation:
		return "protocol violation"
	case ReasonKeepAliveTimeout:
		return "keep-alive timeout"
	default:
		return "unknown"
	}
}

// reasonFromReturnCode maps a non-zero CONNACK return code to a reason.
func reasonFromReturnCode(code ConnectReturnCode) DisconnectReason {
	if code >= ConnectUnacceptableProtocolVersion && code <= ConnectNotAuthorized {
		return DisconnectReason(code)
	}
	return ReasonProtocolViolation
}

// DisconnectError contains details about why a session ended.
// Extract with errors.As().
type DisconnectError struct {
	err    error
	Reason DisconnectReason
	Cause  error
}

func (e *DisconnectError) Error() string {
	if e.Cause != nil {
		return "disconnected: " + e.Reason.String() + ": " + e.Cause.Error()
	}
	return "disconnected: " + e.Reason.String()
}

func (e *DisconnectError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.err, e.Cause}
	}
	return []error{e.err}
}

// NewDisconnectError creates a DisconnectError for reason. cause may be nil.
func NewDisconnectError(reason DisconnectReason, cause error) *DisconnectError {
	var baseErr error

	switch reason {
	case ReasonUnacceptableProtocolVersion, ReasonIdentifierRejected, ReasonServerUnavailable,
		ReasonMalformedCredentials, ReasonNotAuthorized:
		baseErr = ErrConnectionRefused
	case ReasonNotEnoughSpace:
		baseErr = ErrInsufficientSpace
	case ReasonTLSBadFingerprint:
		baseErr = ErrTLSVerifyFailed
	case ReasonProtocolViolation:
		baseErr = ErrProtocolViolation
	case ReasonKeepAliveTimeout:
		baseErr = ErrKeepAliveTimeout
	default:
		baseErr = ErrConnectionLost
	}

	return &DisconnectError{
		err:    baseErr,
		Reason: reason,
		Cause:  cause,
	}
}
