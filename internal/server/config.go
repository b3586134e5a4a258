// Package server provides configuration helpers that define runtime defaults,
// validation, and file/environment loading for the chat relay.
package server

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultHost           = "0.0.0.0"
	defaultPort           = 12345
	defaultReadBufferSize = 1024
	defaultWriteTimeout   = 10 * time.Second
	defaultMaxMessageSize = 4096
)

// Config holds the relay settings. Zero values are replaced with defaults by Sanitize.
type Config struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`

	// WebSocketAddr is the HTTP listen address of the WebSocket gateway.
	// An empty value disables the gateway.
	WebSocketAddr  string   `toml:"websocket_addr"`
	AllowedOrigins []string `toml:"allowed_origins"`

	// ReadBufferSize is the largest chunk a single read returns.
	ReadBufferSize int `toml:"read_buffer_size"`
	// WriteTimeout bounds one send attempt to one peer.
	WriteTimeout time.Duration `toml:"-"`
	// WriteTimeoutSeconds is the file/environment form of WriteTimeout.
	WriteTimeoutSeconds int   `toml:"write_timeout"`
	MaxMessageSize      int64 `toml:"max_message_size"`

	Debug bool `toml:"debug"`
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

func defaultConfig() Config {
	return Config{
		Host: defaultHost,
		Port: defaultPort,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		ReadBufferSize: defaultReadBufferSize,
		WriteTimeout:   defaultWriteTimeout,
		MaxMessageSize: defaultMaxMessageSize,
	}
}

// Sanitize fills unset or invalid fields with defaults and returns the result.
func (c Config) Sanitize() Config {
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.Port < 0 || c.Port > 65535 {
		c.Port = defaultPort
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = defaultReadBufferSize
	}
	if c.WriteTimeoutSeconds > 0 {
		c.WriteTimeout = time.Duration(c.WriteTimeoutSeconds) * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = defaultMaxMessageSize
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// Address returns the TCP listen address.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoadFromFile overlays settings from a TOML file.
func (c *Config) LoadFromFile(filename string) error {
	if _, err := os.Stat(filename); err != nil {
		return fmt.Errorf("config file '%s' is not found", filename)
	}
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return fmt.Errorf("decode config file '%s': %w", filename, err)
	}
	return nil
}

// LoadFromEnv overlays settings from environment variables.
// Unparsable values are ignored and the current value is kept.
func (c *Config) LoadFromEnv() {
	if host := os.Getenv("CHAT_HOST"); host != "" {
		c.Host = host
	}

	if port := os.Getenv("CHAT_PORT"); port != "" {
		c.Port = parseIntValue(port, c.Port)
	}

	if addr := os.Getenv("CHAT_WS_ADDR"); addr != "" {
		c.WebSocketAddr = addr
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}

	if size := os.Getenv("CHAT_READ_BUFFER"); size != "" {
		c.ReadBufferSize = parseIntValue(size, c.ReadBufferSize)
	}

	if timeout := os.Getenv("CHAT_WRITE_TIMEOUT"); timeout != "" {
		c.WriteTimeout = parseSeconds(timeout, c.WriteTimeout)
		c.WriteTimeoutSeconds = 0
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		c.MaxMessageSize = parseMaxMessageSize(maxSize, c.MaxMessageSize)
	}
}

// NewConfigFromEnv creates a Config from defaults overlaid with environment variables.
func NewConfigFromEnv() *Config {
	cfg := NewConfig()
	cfg.LoadFromEnv()
	return cfg
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
