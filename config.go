package asyncmqtt

import (
	"crypto/tls"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is a client configuration loaded from YAML. Environment variables
// ASYNCMQTT_HOST, ASYNCMQTT_PORT, ASYNCMQTT_USERNAME and ASYNCMQTT_PASSWORD
// override the file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Client    ClientConfig    `yaml:"client"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig describes the broker endpoint.
type ServerConfig struct {
	// URL is a broker URL such as mqtts://broker:8883. When set it takes
	// precedence over Host, Port and Secure.
	URL          string       `yaml:"url"`
	Host         string       `yaml:"host"`
	Port         uint16       `yaml:"port"`
	Secure       bool         `yaml:"secure"`
	Fingerprints []string     `yaml:"fingerprints"`
	Proxy        *ProxyConfig `yaml:"proxy"`
	ProxyFromEnv bool         `yaml:"proxy_from_env"`
	// InsecureSkipVerify disables chain verification. Pair it with
	// Fingerprints to trust a pinned self-signed broker certificate.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ClientConfig holds session settings.
type ClientConfig struct {
	ID             string      `yaml:"id"`
	Username       string      `yaml:"username"`
	Password       string      `yaml:"password"`
	KeepAlive      uint16      `yaml:"keep_alive"`
	CleanSession   *bool       `yaml:"clean_session"`
	MaxTopicLength int         `yaml:"max_topic_length"`
	MaxInflight    int         `yaml:"max_inflight"`
	Will           *WillConfig `yaml:"will"`
}

// WillConfig is the will message.
type WillConfig struct {
	Topic   string `yaml:"topic"`
	Payload string `yaml:"payload"`
	QoS     byte   `yaml:"qos"`
	Retain  bool   `yaml:"retain"`
}

// TransportConfig tunes NetTransport.
type TransportConfig struct {
	SendBuffer     int           `yaml:"send_buffer"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	// DialInterval paces reconnects to one dial per interval after
	// DialBurst immediate attempts.
	DialInterval time.Duration `yaml:"dial_interval"`
	DialBurst    int           `yaml:"dial_burst"`
}

// LoggingConfig selects the logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Color bool   `yaml:"color"`
}

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses and validates YAML configuration data.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
		},
		Client: ClientConfig{
			KeepAlive:      DefaultKeepAlive,
			MaxTopicLength: DefaultMaxTopicLength,
		},
		Transport: TransportConfig{
			SendBuffer:     DefaultSendBufferSize,
			PollInterval:   DefaultPollInterval,
			ConnectTimeout: DefaultConnectTimeout,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("ASYNCMQTT_HOST"); v != "" {
		c.Server.Host = v
		c.Server.URL = ""
	}
	if v := os.Getenv("ASYNCMQTT_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid ASYNCMQTT_PORT %q: %w", v, err)
		}
		c.Server.Port = uint16(port)
	}
	if v := os.Getenv("ASYNCMQTT_USERNAME"); v != "" {
		c.Client.Username = v
	}
	if v := os.Getenv("ASYNCMQTT_PASSWORD"); v != "" {
		c.Client.Password = v
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.URL != "" {
		if _, err := ParseServerURL(c.Server.URL); err != nil {
			errs = append(errs, "server.url: "+err.Error())
		}
	} else if c.Server.Host == "" {
		errs = append(errs, "server.host is required")
	}

	for _, fp := range c.Server.Fingerprints {
		if _, err := ParseFingerprint(fp); err != nil {
			errs = append(errs, fmt.Sprintf("server.fingerprints: %q: %v", fp, err))
		}
	}

	if c.Server.Proxy != nil {
		if _, err := NewProxyDialer(*c.Server.Proxy); err != nil {
			errs = append(errs, "server.proxy: "+err.Error())
		}
	}

	if c.Client.MaxTopicLength < 0 {
		errs = append(errs, "client.max_topic_length must not be negative")
	}
	if c.Client.MaxInflight < 0 {
		errs = append(errs, "client.max_inflight must not be negative")
	}
	if c.Client.Password != "" && c.Client.Username == "" {
		errs = append(errs, "client.password requires client.username")
	}

	if w := c.Client.Will; w != nil {
		if err := ValidateTopicName(w.Topic); err != nil {
			errs = append(errs, "client.will.topic: "+err.Error())
		}
		if w.QoS > QoS2 {
			errs = append(errs, "client.will.qos must be 0, 1, or 2")
		}
	}

	if c.Transport.SendBuffer < 0 {
		errs = append(errs, "transport.send_buffer must not be negative")
	}
	if c.Transport.DialInterval < 0 || c.Transport.DialBurst < 0 {
		errs = append(errs, "transport.dial_interval and transport.dial_burst must not be negative")
	}

	if _, ok := ParseLogLevel(c.Logging.Level); !ok {
		errs = append(errs, fmt.Sprintf("logging.level %q is unknown", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ServerURL returns the broker endpoint. Without server.url it is built
// from host, port and secure.
func (c *Config) ServerURL() (*ServerURL, error) {
	if c.Server.URL == "" {
		s := &ServerURL{Scheme: "mqtt", Host: c.Server.Host, Port: c.Server.Port}
		if c.Server.Secure {
			s.Scheme = "mqtts"
		}
		if s.Port == 0 {
			s.Port = DefaultPort
			if c.Server.Secure {
				s.Port = DefaultSecurePort
			}
		}
		return s, nil
	}

	s, err := ParseServerURL(c.Server.URL)
	if err != nil {
		return nil, err
	}
	if c.Server.Port != 0 && s.Scheme != "unix" {
		s.Port = c.Server.Port
	}
	return s, nil
}

// Logger builds the configured logger writing to w.
func (c *Config) Logger(w io.Writer) Logger {
	level, _ := ParseLogLevel(c.Logging.Level)
	if level == LogLevelNone {
		return NewNoOpLogger()
	}
	if c.Logging.Color {
		return NewColorLogger(w, level)
	}
	return NewStdLogger(w, level)
}

// ClientOptions translates the configuration into client options.
func (c *Config) ClientOptions() ([]Option, error) {
	s, err := c.ServerURL()
	if err != nil {
		return nil, err
	}

	opts := []Option{
		WithServer(s.Host, s.Port),
		WithSecure(s.Secure()),
		WithClientID(c.Client.ID),
		WithKeepAlive(c.Client.KeepAlive),
		WithMaxTopicLength(c.Client.MaxTopicLength),
		WithMaxInflight(c.Client.MaxInflight),
	}

	if c.Client.Username != "" || c.Client.Password != "" {
		opts = append(opts, WithCredentials(c.Client.Username, c.Client.Password))
	}
	if c.Client.CleanSession != nil {
		opts = append(opts, WithCleanSession(*c.Client.CleanSession))
	}
	if w := c.Client.Will; w != nil {
		opts = append(opts, WithWill(w.Topic, []byte(w.Payload), w.Retain, w.QoS))
	}

	for _, raw := range c.Server.Fingerprints {
		fp, err := ParseFingerprint(raw)
		if err != nil {
			return nil, fmt.Errorf("server.fingerprints: %w", err)
		}
		opts = append(opts, WithServerFingerprint(fp))
	}

	return opts, nil
}

// TransportOptions translates the configuration into NetTransport options,
// including the dialer for the server scheme.
func (c *Config) TransportOptions() ([]NetOption, error) {
	s, err := c.ServerURL()
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: c.Server.InsecureSkipVerify, //nolint:gosec
	}

	dialer, err := NewDialer(s, DialOptions{
		TLSConfig:            tlsConfig,
		Proxy:                c.Server.Proxy,
		ProxyFromEnvironment: c.Server.ProxyFromEnv,
		Timeout:              c.Transport.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}

	opts := []NetOption{
		WithDialer(dialer),
		WithTLSConfig(tlsConfig),
		WithSendBufferSize(c.Transport.SendBuffer),
		WithPollInterval(c.Transport.PollInterval),
		WithConnectTimeout(c.Transport.ConnectTimeout),
	}

	if c.Transport.DialInterval > 0 {
		burst := c.Transport.DialBurst
		if burst == 0 {
			burst = 1
		}
		opts = append(opts, WithDialRateLimit(c.Transport.DialInterval, burst))
	}

	return opts, nil
}
