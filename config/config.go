package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/c360/rtcbridge/errors"
)

// Config represents the complete bridge configuration
type Config struct {
	NATS      NATSConfig      `json:"nats"`
	Events    EventsConfig    `json:"events"`
	Transport TransportConfig `json:"transport"`
	Metrics   MetricsConfig   `json:"metrics"`

	// Source is the file the configuration was read from, empty when no
	// file was found and only defaults and environment overrides apply.
	Source string `json:"-"`
}

// NATSConfig configures the shared fabric connection
type NATSConfig struct {
	URL             string        `json:"url"`
	Name            string        `json:"name,omitempty"`
	MaxReconnects   int           `json:"max_reconnects"`
	ReconnectWait   time.Duration `json:"reconnect_wait"`
	ConnectTimeout  time.Duration `json:"connect_timeout"`
	ConnectAttempts int           `json:"connect_attempts"`
	Username        string        `json:"username,omitempty"`
	Password        string        `json:"password,omitempty"`
	Token           string        `json:"token,omitempty"`
	TLS             NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig holds client TLS files for the NATS connection
type NATSTLSConfig struct {
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// Enabled reports whether any TLS file is configured
func (t NATSTLSConfig) Enabled() bool {
	return t.CertFile != "" || t.CAFile != ""
}

// EventsConfig configures the event publisher
type EventsConfig struct {
	Enabled       bool          `json:"enabled"`
	Address       string        `json:"address"`
	Events        string        `json:"events"`
	HighWaterMark int           `json:"high_water_mark"`
	PollInterval  time.Duration `json:"poll_interval"`
}

// TransportConfig configures the public and admin request endpoints
type TransportConfig struct {
	Enabled      bool          `json:"enabled"`
	Address      string        `json:"address"`
	QueueGroup   string        `json:"queue_group,omitempty"`
	AdminEnabled bool          `json:"admin_enabled"`
	AdminAddress string        `json:"admin_address"`
	ProtocolTag  string        `json:"protocol_tag"`
	PollInterval time.Duration `json:"poll_interval"`
	ReplyTimeout time.Duration `json:"reply_timeout"`
	FlushTimeout time.Duration `json:"flush_timeout"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

// Default returns the configuration used when no file is present. Both
// bridges are disabled until a file or the environment enables them.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:             "nats://127.0.0.1:4222",
			Name:            "rtcbridge",
			MaxReconnects:   -1,
			ReconnectWait:   2 * time.Second,
			ConnectTimeout:  5 * time.Second,
			ConnectAttempts: 3,
		},
		Events: EventsConfig{
			Address:       "rtc.events",
			Events:        "all",
			HighWaterMark: 1 << 20,
			PollInterval:  time.Second,
		},
		Transport: TransportConfig{
			Address:      "rtc.api",
			AdminAddress: "rtc.admin",
			ProtocolTag:  "janus",
			PollInterval: time.Second,
			ReplyTimeout: 30 * time.Second,
			FlushTimeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Port: 9090,
			Path: "/metrics",
		},
	}
}

// AnyEnabled reports whether at least one bridge is enabled
func (c *Config) AnyEnabled() bool {
	return c.Events.Enabled || c.Transport.Enabled || c.Transport.AdminEnabled
}

// Clone returns a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Validate checks the configuration for values the bridges cannot run with
func (c *Config) Validate() error {
	if c.AnyEnabled() && c.NATS.URL == "" {
		return invalid("nats.url is required")
	}
	if c.NATS.ConnectAttempts < 0 {
		return invalid("nats.connect_attempts must not be negative")
	}
	if (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return invalid("nats.tls.cert_file and nats.tls.key_file must be set together")
	}

	if c.Events.Enabled {
		if !isValidSubject(c.Events.Address) {
			return invalid(fmt.Sprintf("events.address %q is not a valid publish subject", c.Events.Address))
		}
		if c.Events.HighWaterMark < 0 {
			return invalid("events.high_water_mark must not be negative")
		}
		if c.Events.PollInterval <= 0 {
			return invalid("events.poll_interval must be positive")
		}
	}

	t := c.Transport
	if t.Enabled && !isValidSubject(t.Address) {
		return invalid(fmt.Sprintf("transport.address %q is not a valid request subject", t.Address))
	}
	if t.AdminEnabled && !isValidSubject(t.AdminAddress) {
		return invalid(fmt.Sprintf("transport.admin_address %q is not a valid request subject", t.AdminAddress))
	}
	if t.Enabled && t.AdminEnabled && t.Address == t.AdminAddress {
		return invalid("transport.address and transport.admin_address must differ")
	}
	if t.Enabled || t.AdminEnabled {
		if t.ProtocolTag == "" {
			return invalid("transport.protocol_tag is required")
		}
		if t.PollInterval <= 0 || t.ReplyTimeout <= 0 || t.FlushTimeout <= 0 {
			return invalid("transport durations must be positive")
		}
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return invalid(fmt.Sprintf("metrics.port %d out of range", c.Metrics.Port))
	}
	return nil
}

func invalid(msg string) error {
	return errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrInvalidConfig, msg), "Config", "Validate", "check values")
}

// isValidSubject checks a literal NATS subject: dot separated non-empty
// tokens of letters, digits, dashes and underscores, no wildcards.
func isValidSubject(s string) bool {
	if s == "" {
		return false
	}
	for _, token := range strings.Split(s, ".") {
		if token == "" {
			return false
		}
		for _, r := range token {
			if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return true
}

// String returns the configuration as JSON with secrets redacted
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	data, err := json.Marshal(redacted)
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
