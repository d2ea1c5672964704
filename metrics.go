package asyncmqtt

import (
	"strconv"
	"time"
)

// MetricType represents the type of metric.
type MetricType int

const (
	// MetricTypeCounter is a monotonically increasing counter.
	MetricTypeCounter MetricType = 0
	// MetricTypeGauge is a value that can go up and down.
	MetricTypeGauge MetricType = 1
	// MetricTypeHistogram tracks distribution of values.
	MetricTypeHistogram MetricType = 2
)

// String returns the string representation of the metric type.
func (t MetricType) String() string {
	switch t {
	case MetricTypeCounter:
		return "counter"
	case MetricTypeGauge:
		return "gauge"
	case MetricTypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// MetricLabels represents key-value pairs for metric labels.
type MetricLabels map[string]string

// Metrics is a factory for labelled instruments. Implementations return
// the same instrument for the same name and labels.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge is a metric that can go up and down.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
	Value() float64
}

// Histogram tracks the distribution of values.
type Histogram interface {
	Observe(value float64)

	// ObserveDuration records d in seconds.
	ObserveDuration(d time.Duration)

	Count() uint64
	Sum() float64
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

// Counter returns a no-op counter.
func (n *NoOpMetrics) Counter(_ string, _ MetricLabels) Counter {
	return noOpInstrument{}
}

// Gauge returns a no-op gauge.
func (n *NoOpMetrics) Gauge(_ string, _ MetricLabels) Gauge {
	return noOpInstrument{}
}

// Histogram returns a no-op histogram.
func (n *NoOpMetrics) Histogram(_ string, _ MetricLabels) Histogram {
	return noOpInstrument{}
}

type noOpInstrument struct{}

func (noOpInstrument) Inc()                            {}
func (noOpInstrument) Dec()                            {}
func (noOpInstrument) Set(_ float64)                   {}
func (noOpInstrument) Add(_ float64)                   {}
func (noOpInstrument) Sub(_ float64)                   {}
func (noOpInstrument) Value() float64                  { return 0 }
func (noOpInstrument) Observe(_ float64)               {}
func (noOpInstrument) ObserveDuration(_ time.Duration) {}
func (noOpInstrument) Count() uint64                   { return 0 }
func (noOpInstrument) Sum() float64                    { return 0 }

// Standard metric names for the MQTT client.
const (
	// MetricSessionState is the current SessionState as a number.
	MetricSessionState = "mqtt_client_session_state"

	// MetricConnectsTotal counts accepted CONNACKs.
	MetricConnectsTotal = "mqtt_client_connects_total"

	// MetricDisconnectsTotal counts ended sessions by reason.
	MetricDisconnectsTotal = "mqtt_client_disconnects_total"

	// MetricPacketsSent counts written packets by type.
	MetricPacketsSent = "mqtt_client_packets_sent_total"

	// MetricPacketsReceived counts decoded packets by type.
	MetricPacketsReceived = "mqtt_client_packets_received_total"

	// MetricBytesSent counts bytes handed to the transport.
	MetricBytesSent = "mqtt_client_bytes_sent_total"

	// MetricBytesReceived counts bytes fed to the parser.
	MetricBytesReceived = "mqtt_client_bytes_received_total"

	// MetricMessagesReceived counts delivered application messages by QoS.
	MetricMessagesReceived = "mqtt_client_messages_received_total"

	// MetricMessagesSent counts published application messages by QoS.
	MetricMessagesSent = "mqtt_client_messages_sent_total"

	// MetricDuplicatesSuppressed counts QoS 2 retransmissions not delivered.
	MetricDuplicatesSuppressed = "mqtt_client_duplicates_suppressed_total"

	// MetricAcksQueued is the current length of the acknowledgement queue.
	MetricAcksQueued = "mqtt_client_acks_queued"

	// MetricWritesRejected counts writes refused for lack of space or bad input.
	MetricWritesRejected = "mqtt_client_writes_rejected_total"

	// MetricInflight is the number of unacknowledged outgoing publishes.
	MetricInflight = "mqtt_client_inflight"

	// MetricPingLatency is the PINGREQ to PINGRESP round trip.
	MetricPingLatency = "mqtt_client_ping_latency_seconds"

	// MetricTransportAcked counts bytes the transport confirmed as written.
	MetricTransportAcked = "mqtt_client_transport_acked_bytes_total"
)

// Standard metric labels.
const (
	// LabelPacketType is the packet type label.
	LabelPacketType = "packet_type"

	// LabelQoS is the QoS level label.
	LabelQoS = "qos"

	// LabelReason is the disconnect reason label.
	LabelReason = "reason"
)

// ClientMetrics provides convenience methods for the client's metrics.
type ClientMetrics struct {
	metrics Metrics
}

// NewClientMetrics creates a new ClientMetrics instance.
func NewClientMetrics(m Metrics) *ClientMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &ClientMetrics{metrics: m}
}

// SessionState records the current session state.
func (c *ClientMetrics) SessionState(state SessionState) {
	c.metrics.Gauge(MetricSessionState, nil).Set(float64(state))
}

// Connected records an accepted CONNACK.
func (c *ClientMetrics) Connected() {
	c.metrics.Counter(MetricConnectsTotal, nil).Inc()
}

// Disconnected records the end of a session.
func (c *ClientMetrics) Disconnected(reason DisconnectReason) {
	labels := MetricLabels{LabelReason: reason.String()}
	c.metrics.Counter(MetricDisconnectsTotal, labels).Inc()
}

// PacketSent records a written packet.
func (c *ClientMetrics) PacketSent(packetType PacketType, n int) {
	labels := MetricLabels{LabelPacketType: packetType.String()}
	c.metrics.Counter(MetricPacketsSent, labels).Inc()
	c.metrics.Counter(MetricBytesSent, nil).Add(float64(n))
}

// PacketReceived records a decoded packet.
func (c *ClientMetrics) PacketReceived(packetType PacketType) {
	labels := MetricLabels{LabelPacketType: packetType.String()}
	c.metrics.Counter(MetricPacketsReceived, labels).Inc()
}

// BytesReceived records bytes fed to the parser.
func (c *ClientMetrics) BytesReceived(n int) {
	c.metrics.Counter(MetricBytesReceived, nil).Add(float64(n))
}

// MessageReceived records a delivered application message.
func (c *ClientMetrics) MessageReceived(qos byte) {
	c.metrics.Counter(MetricMessagesReceived, qosLabels(qos)).Inc()
}

// MessageSent records a published application message.
func (c *ClientMetrics) MessageSent(qos byte) {
	c.metrics.Counter(MetricMessagesSent, qosLabels(qos)).Inc()
}

// DuplicateSuppressed records a QoS 2 retransmission that was not delivered.
func (c *ClientMetrics) DuplicateSuppressed() {
	c.metrics.Counter(MetricDuplicatesSuppressed, nil).Inc()
}

// AcksQueued records the acknowledgement queue length.
func (c *ClientMetrics) AcksQueued(n int) {
	c.metrics.Gauge(MetricAcksQueued, nil).Set(float64(n))
}

// WriteRejected records a write that was refused.
func (c *ClientMetrics) WriteRejected(packetType PacketType) {
	labels := MetricLabels{LabelPacketType: packetType.String()}
	c.metrics.Counter(MetricWritesRejected, labels).Inc()
}

// Inflight records the number of unacknowledged outgoing publishes.
func (c *ClientMetrics) Inflight(n int) {
	c.metrics.Gauge(MetricInflight, nil).Set(float64(n))
}

// PingLatency records a ping round trip.
func (c *ClientMetrics) PingLatency(d time.Duration) {
	c.metrics.Histogram(MetricPingLatency, nil).ObserveDuration(d)
}

// TransportAcked records bytes confirmed written by the transport.
func (c *ClientMetrics) TransportAcked(n int) {
	c.metrics.Counter(MetricTransportAcked, nil).Add(float64(n))
}

func qosLabels(qos byte) MetricLabels {
	return MetricLabels{LabelQoS: strconv.Itoa(int(qos))}
}
