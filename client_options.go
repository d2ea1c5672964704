package asyncmqtt

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MessageHandler receives one fragment of an inbound application message.
// payload holds length bytes starting at offset index of a total byte
// payload. topic and payload are only valid during the call.
type MessageHandler func(topic string, payload []byte, props MessageProperties, length, index, total int)

// clientOptions holds configuration for a Client.
type clientOptions struct {
	// Server
	host         string
	port         uint16
	secure       bool
	fingerprints [][]byte

	// Connection settings
	clientID     string
	username     string
	password     []byte
	keepAlive    uint16
	cleanSession bool
	will         *WillMessage

	// Limits
	maxTopicLength int
	maxInflight    int

	// Callbacks
	onConnect     func(sessionPresent bool)
	onDisconnect  func(reason DisconnectReason)
	onSubscribe   func(id uint16, qos byte)
	onUnsubscribe func(id uint16)
	onMessage     MessageHandler
	onPublish     func(id uint16)

	logger  Logger
	metrics Metrics
	now     func() time.Time
}

const (
	// DefaultPort is the MQTT port.
	DefaultPort uint16 = 1883

	// DefaultSecurePort is the MQTT over TLS port.
	DefaultSecurePort uint16 = 8883

	// DefaultKeepAlive is the default keep-alive interval in seconds.
	DefaultKeepAlive uint16 = 15

	// DefaultMaxTopicLength is the default capacity of the inbound topic buffer.
	DefaultMaxTopicLength = 128
)

// defaultOptions returns options with sensible defaults.
func defaultOptions() *clientOptions {
	return &clientOptions{
		port:           DefaultPort,
		keepAlive:      DefaultKeepAlive,
		cleanSession:   true,
		maxTopicLength: DefaultMaxTopicLength,
		onConnect:      func(bool) {},
		onDisconnect:   func(DisconnectReason) {},
		onSubscribe:    func(uint16, byte) {},
		onUnsubscribe:  func(uint16) {},
		onMessage:      func(string, []byte, MessageProperties, int, int, int) {},
		onPublish:      func(uint16) {},
		logger:         NewNoOpLogger(),
		metrics:        &NoOpMetrics{},
		now:            time.Now,
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithServer sets the broker host name or IP address and port.
func WithServer(host string, port uint16) Option {
	return func(o *clientOptions) {
		o.host = host
		o.port = port
	}
}

// WithSecure enables TLS on the transport.
func WithSecure(secure bool) Option {
	return func(o *clientOptions) {
		o.secure = secure
	}
}

// WithServerFingerprint adds a trusted SHA-1 or SHA-256 fingerprint of the
// broker's leaf certificate. It implies WithSecure(true). Can be given
// more than once.
func WithServerFingerprint(fingerprint []byte) Option {
	return func(o *clientOptions) {
		o.fingerprints = append(o.fingerprints, append([]byte(nil), fingerprint...))
		o.secure = true
	}
}

// WithClientID sets the client identifier.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keep-alive interval in seconds. Zero disables it.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanSession sets whether the broker discards previous session state.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanSession = clean
	}
}

// WithWill sets the will message published by the broker on abnormal disconnect.
func WithWill(topic string, payload []byte, retain bool, qos byte) Option {
	return func(o *clientOptions) {
		o.will = &WillMessage{
			Topic:   topic,
			Payload: payload,
			QoS:     qos,
			Retain:  retain,
		}
	}
}

// WithMaxTopicLength sets the capacity of the inbound topic buffer.
// Longer topics are truncated.
func WithMaxTopicLength(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxTopicLength = n
		}
	}
}

// WithMaxInflight limits unacknowledged outgoing QoS 1 and QoS 2 publishes.
// Zero means unlimited.
func WithMaxInflight(n int) Option {
	return func(o *clientOptions) {
		o.maxInflight = n
	}
}

// WithLogger sets the logger for the client.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector for the client.
func WithMetrics(metrics Metrics) Option {
	return func(o *clientOptions) {
		if metrics != nil {
			o.metrics = metrics
		}
	}
}

// withClock replaces the time source.
func withClock(now func() time.Time) Option {
	return func(o *clientOptions) {
		o.now = now
	}
}

// OnConnect sets the callback for an accepted CONNACK.
func OnConnect(fn func(sessionPresent bool)) Option {
	return func(o *clientOptions) {
		if fn != nil {
			o.onConnect = fn
		}
	}
}

// OnDisconnect sets the callback for the end of a session.
func OnDisconnect(fn func(reason DisconnectReason)) Option {
	return func(o *clientOptions) {
		if fn != nil {
			o.onDisconnect = fn
		}
	}
}

// OnSubscribe sets the callback for SUBACK.
func OnSubscribe(fn func(id uint16, qos byte)) Option {
	return func(o *clientOptions) {
		if fn != nil {
			o.onSubscribe = fn
		}
	}
}

// OnUnsubscribe sets the callback for UNSUBACK.
func OnUnsubscribe(fn func(id uint16)) Option {
	return func(o *clientOptions) {
		if fn != nil {
			o.onUnsubscribe = fn
		}
	}
}

// OnMessage sets the callback for inbound message fragments.
func OnMessage(fn MessageHandler) Option {
	return func(o *clientOptions) {
		if fn != nil {
			o.onMessage = fn
		}
	}
}

// OnPublish sets the callback for PUBACK and PUBCOMP of outgoing publishes.
func OnPublish(fn func(id uint16)) Option {
	return func(o *clientOptions) {
		if fn != nil {
			o.onPublish = fn
		}
	}
}

// applyOptions applies all options to the default options.
func applyOptions(opts ...Option) *clientOptions {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if o.clientID == "" {
		o.clientID = generateClientID()
	}

	return o
}

// generateClientID returns a random client identifier that fits the 23
// character limit brokers must accept.
func generateClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "asyncmqtt-" + id[:12]
}
