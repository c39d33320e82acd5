package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"midilink/internal/core/domain"
	"midilink/pkg/validation"

	"gopkg.in/yaml.v2"
)

type Config struct {
	HTTP struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		PingInterval    time.Duration `yaml:"ping_interval"`
	} `yaml:"http"`

	Session struct {
		HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
		EventBuffer      int           `yaml:"event_buffer"`
		Codec            string        `yaml:"codec"` // json | cbor
	} `yaml:"session"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		ChannelLabel     string        `yaml:"channel_label"`
		GatheringTimeout time.Duration `yaml:"gathering_timeout"`
	} `yaml:"webrtc"`

	Signaling struct {
		Compress bool `yaml:"compress"`
	} `yaml:"signaling"`

	Bridge domain.BridgeConfig `yaml:"bridge"`

	Hardware struct {
		Enabled      bool          `yaml:"enabled"`
		PollInterval time.Duration `yaml:"poll_interval"`
		PortFilter   string        `yaml:"port_filter"`
	} `yaml:"hardware"`

	RTPMIDI struct {
		Enabled     bool   `yaml:"enabled"`
		LocalName   string `yaml:"local_name"`
		ServiceName string `yaml:"service_name"`
		Port        int    `yaml:"port"`
		// BindAttempts and BindBackoff retry binding the UDP port pair
		// while another process still holds it.
		BindAttempts int           `yaml:"bind_attempts"`
		BindBackoff  time.Duration `yaml:"bind_backoff"`
	} `yaml:"rtpmidi"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent_requests"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond   float64 `yaml:"messages_per_second"`
			Burst               int     `yaml:"burst"`
			MaxConcurrent       int     `yaml:"max_concurrent_connections"`
			MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// HTTP
	if c.HTTP.Address == "" {
		return fmt.Errorf("http.address must not be empty")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("http.read_timeout must be > 0")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http.write_timeout must be > 0")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("http.shutdown_timeout must be > 0")
	}
	if c.HTTP.PingInterval <= 0 {
		return fmt.Errorf("http.ping_interval must be > 0")
	}

	// Session
	if c.Session.HandshakeTimeout <= 0 {
		return fmt.Errorf("session.handshake_timeout must be > 0")
	}
	if c.Session.EventBuffer <= 0 {
		return fmt.Errorf("session.event_buffer must be > 0")
	}
	if c.Session.Codec != "json" && c.Session.Codec != "cbor" {
		return fmt.Errorf("session.codec must be json or cbor, got %q", c.Session.Codec)
	}

	// WebRTC
	if c.WebRTC.PortRange.Min > 0 || c.WebRTC.PortRange.Max > 0 {
		if c.WebRTC.PortRange.Min == 0 || c.WebRTC.PortRange.Max == 0 {
			return fmt.Errorf("webrtc.port_range.min and max must both be set when one is set")
		}
		if c.WebRTC.PortRange.Min >= c.WebRTC.PortRange.Max {
			return fmt.Errorf("webrtc.port_range.min must be < max")
		}
	}
	for _, server := range c.WebRTC.ICEServers {
		for _, u := range server.URLs {
			if err := validation.ValidateICEURL(u); err != nil {
				return fmt.Errorf("webrtc.ice_servers: %w", err)
			}
		}
	}
	if c.WebRTC.ChannelLabel == "" {
		return fmt.Errorf("webrtc.channel_label must not be empty")
	}
	if c.WebRTC.GatheringTimeout <= 0 {
		return fmt.Errorf("webrtc.gathering_timeout must be > 0")
	}

	// Hardware
	if c.Hardware.Enabled && c.Hardware.PollInterval <= 0 {
		return fmt.Errorf("hardware.poll_interval must be > 0 when hardware.enabled=true")
	}

	// RTP-MIDI
	if c.RTPMIDI.Enabled {
		if c.RTPMIDI.Port <= 0 || c.RTPMIDI.Port >= 65535 {
			return fmt.Errorf("rtpmidi.port must be in 1..65534 when rtpmidi.enabled=true")
		}
		if c.RTPMIDI.LocalName == "" {
			return fmt.Errorf("rtpmidi.local_name must not be empty when rtpmidi.enabled=true")
		}
		if c.RTPMIDI.BindAttempts < 1 {
			return fmt.Errorf("rtpmidi.bind_attempts must be >= 1")
		}
		if c.RTPMIDI.BindBackoff < 0 {
			return fmt.Errorf("rtpmidi.bind_backoff must be >= 0")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if err := validation.ValidateURL(c.Tracing.JaegerURL); err != nil {
			return fmt.Errorf("tracing.jaeger_url: %w", err)
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0,1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent_requests must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_concurrent_connections must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.websocket.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.HTTP.Address = "127.0.0.1:8780"
	cfg.HTTP.ReadTimeout = 30 * time.Second
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.HTTP.ShutdownTimeout = 10 * time.Second
	cfg.HTTP.PingInterval = 30 * time.Second

	cfg.Session.HandshakeTimeout = 30 * time.Second
	cfg.Session.EventBuffer = 256
	cfg.Session.Codec = "json"

	// LAN only: no ICE servers unless configured.
	cfg.WebRTC.ChannelLabel = "midi"
	cfg.WebRTC.GatheringTimeout = 15 * time.Second

	cfg.Signaling.Compress = false

	cfg.Bridge = domain.DefaultBridgeConfig()

	cfg.Hardware.Enabled = true
	cfg.Hardware.PollInterval = 2 * time.Second

	cfg.RTPMIDI.Enabled = true
	cfg.RTPMIDI.LocalName = "midilink"
	cfg.RTPMIDI.ServiceName = "midilink"
	cfg.RTPMIDI.Port = 5004
	cfg.RTPMIDI.BindAttempts = 4
	cfg.RTPMIDI.BindBackoff = 250 * time.Millisecond

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 1000
	cfg.RateLimiting.WebSocket.Burst = 2000
	cfg.RateLimiting.WebSocket.MaxConcurrent = 0
	cfg.RateLimiting.WebSocket.MaxMessageSizeBytes = 1 << 20

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("MIDILINK_HTTP_ADDRESS"); addr != "" {
		c.HTTP.Address = addr
	}
	if level := os.Getenv("MIDILINK_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if port := os.Getenv("MIDILINK_RTPMIDI_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.RTPMIDI.Port = p
		}
	}
}
