package config

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
)

// ClientConfig configures the WebSocket client.
type ClientConfig struct {
	URL               string            `toml:"url"`
	Headers           map[string]string `toml:"headers"`
	ReadTimeout       time.Duration     `toml:"readTimeout"`
	WriteTimeout      time.Duration     `toml:"writeTimeout"`
	Compression       bool              `toml:"compression"`
	ReconnectAttempts int               `toml:"reconnectAttempts"`
	ReconnectDelay    time.Duration     `toml:"reconnectDelay"`
	MaxReconnectDelay time.Duration     `toml:"maxReconnectDelay"`
}

// HTTPHeader returns the handshake headers in net/http form.
func (c ClientConfig) HTTPHeader() http.Header {
	h := make(http.Header, len(c.Headers))
	for k, v := range c.Headers {
		h.Set(k, v)
	}
	return h
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level string `toml:"level"`
	Debug bool   `toml:"debug"`
}

// DevnodeConfig configures the development node.
type DevnodeConfig struct {
	Listen         string        `toml:"listen"`
	BlockInterval  time.Duration `toml:"blockInterval"`
	MaxConnections int           `toml:"maxConnections"`
	BufferSize     int           `toml:"bufferSize"`
	Compression    bool          `toml:"compression"`
}

type Config struct {
	Client  ClientConfig  `toml:"client"`
	Logging LoggingConfig `toml:"logging"`
	Devnode DevnodeConfig `toml:"devnode"`
}

func Default() *Config {
	return &Config{
		Client: ClientConfig{
			URL:               "ws://127.0.0.1:9944",
			WriteTimeout:      10 * time.Second,
			ReconnectDelay:    time.Second,
			MaxReconnectDelay: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Devnode: DevnodeConfig{
			Listen:         "127.0.0.1:9944",
			BlockInterval:  6 * time.Second,
			MaxConnections: 100,
			BufferSize:     1024,
		},
	}
}

// Load reads a TOML file from path on top of the defaults. An empty path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	u, err := url.Parse(cfg.Client.URL)
	if err != nil {
		return fmt.Errorf("client.url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("client.url must use ws:// or wss://, got %q", cfg.Client.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("client.url has no host")
	}
	if cfg.Client.ReadTimeout < 0 || cfg.Client.WriteTimeout < 0 {
		return fmt.Errorf("client timeouts must not be negative")
	}
	if cfg.Client.ReconnectDelay <= 0 {
		cfg.Client.ReconnectDelay = time.Second
	}
	if cfg.Client.MaxReconnectDelay < cfg.Client.ReconnectDelay {
		cfg.Client.MaxReconnectDelay = cfg.Client.ReconnectDelay
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	if cfg.Devnode.Listen == "" {
		return fmt.Errorf("devnode.listen required")
	}
	if cfg.Devnode.BlockInterval < 0 {
		return fmt.Errorf("devnode.blockInterval must not be negative")
	}
	if cfg.Devnode.BufferSize <= 0 {
		return fmt.Errorf("devnode.bufferSize must be positive")
	}
	return nil
}

// NewLogger builds the process logger. Level has already been validated by
// Load.
func (l LoggingConfig) NewLogger(w io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(l.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
