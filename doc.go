// Package asyncmqtt provides a non-blocking MQTT v3.1.1 client engine.
//
// This package implements the client side of the MQTT Version 3.1.1 OASIS
// Standard:
// https://docs.oasis-open.org/mqtt/mqtt/v3.1.1/mqtt-v3.1.1.html
//
// The client never blocks and never starts goroutines. It reacts to events
// from a Transport (connected, data, acked, poll, disconnected) and writes
// frames into the transport's bounded send buffer. Every call on a Client
// must come from the transport's execution context.
//
// # Features
//
//   - CONNECT with credentials, will message and clean session
//   - QoS 0, 1, 2 publish and receive, with QoS 2 duplicate suppression
//   - Resumable parser: packets may arrive split at any byte
//   - Inbound payloads delivered as fragments, no full-message buffering
//   - Keep-alive with PINGREQ after 70% of the interval of silence
//   - TLS certificate fingerprint pinning (SHA-1 or SHA-256)
//   - Transports: TCP, TLS, WebSocket, WSS, QUIC, Unix sockets, proxies
//
// # Transport
//
// NetTransport runs the client over a net.Conn. Handler events and
// functions passed to Do run on one goroutine:
//
//	tr := asyncmqtt.NewNetTransport(
//	    asyncmqtt.WithSendBufferSize(8192),
//	    asyncmqtt.WithDialRateLimit(2*time.Second, 1),
//	)
//	defer tr.Stop()
//
// Dialers pick the network. NewDialer maps a broker URL to one:
//
//	u, _ := asyncmqtt.ParseServerURL("wss://broker.example.com/mqtt")
//	dialer, _ := asyncmqtt.NewDialer(u, asyncmqtt.DialOptions{})
//	tr := asyncmqtt.NewNetTransport(asyncmqtt.WithDialer(dialer))
//
// # Client
//
// Callbacks and settings are functional options:
//
//	client := asyncmqtt.NewClient(tr,
//	    asyncmqtt.WithServer("broker.example.com", 8883),
//	    asyncmqtt.WithSecure(true),
//	    asyncmqtt.WithClientID("sensor-17"),
//	    asyncmqtt.WithKeepAlive(30),
//	    asyncmqtt.OnConnect(func(sessionPresent bool) { ... }),
//	    asyncmqtt.OnMessage(func(topic string, payload []byte, props asyncmqtt.MessageProperties, length, index, total int) { ... }),
//	)
//
//	tr.Do(func() {
//	    if err := client.Connect(); err != nil { ... }
//	})
//
// Publish, Subscribe and Unsubscribe return the packet identifier used, or
// zero when the request was not sent. Zero is not an error state: the
// transport may simply be full, so retry after the next OnDataAcked or
// poll.
//
//	tr.Do(func() {
//	    id := client.Publish("sensors/temp", asyncmqtt.QoS1, false, []byte("21.5"), false, 0)
//	})
//
// Inbound payloads arrive in fragments. payload holds length bytes at
// offset index of a total byte message; the last fragment satisfies
// index+length == total.
//
// # Configuration
//
// Clients can be configured from YAML:
//
//	cfg, err := asyncmqtt.LoadConfig("client.yaml")
//	clientOpts, _ := cfg.ClientOptions()
//	transportOpts, _ := cfg.TransportOptions()
//
// # Topic Matching
//
// Topic validation and matching support MQTT wildcards:
//
//	err := asyncmqtt.ValidateTopicName("sensors/temperature")
//	err = asyncmqtt.ValidateTopicFilter("sensors/+/status")
//	matched := asyncmqtt.TopicMatch("sensors/#", "sensors/room1/temp")
//
// MessageRouter dispatches message fragments by filter:
//
//	router := asyncmqtt.NewMessageRouter()
//	router.Handle("sensors/#", handleSensor)
//	client := asyncmqtt.NewClient(tr, asyncmqtt.OnMessage(router.HandleMessage))
//
// # Server Identity
//
// Pin the broker certificate by fingerprint:
//
//	fp, _ := asyncmqtt.ParseFingerprint("AB:CD:...")
//	client := asyncmqtt.NewClient(tr, asyncmqtt.WithServerFingerprint(fp))
//
// A mismatch ends the session with ReasonTLSBadFingerprint.
//
// # Metrics
//
//	metrics := asyncmqtt.NewMemoryMetrics()
//	client := asyncmqtt.NewClient(tr, asyncmqtt.WithMetrics(metrics))
//
// # Logging
//
// Implement the Logger interface for structured logging, or use one of the
// provided loggers:
//
//	logger := asyncmqtt.NewColorLogger(os.Stderr, asyncmqtt.LogLevelInfo)
//	logger := asyncmqtt.NewSlogLogger(slog.Default(), asyncmqtt.LogLevelDebug)
package asyncmqtt
