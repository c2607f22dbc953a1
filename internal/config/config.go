// ABOUTME: Configuration loading and parsing for coven-chat
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete coven-chat configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" toml:"server"`
	Tailscale     TailscaleConfig     `yaml:"tailscale" toml:"tailscale"`
	Database      DatabaseConfig      `yaml:"database" toml:"database"`
	Auth          AuthConfig          `yaml:"auth" toml:"auth"`
	Bus           BusConfig           `yaml:"bus" toml:"bus"`
	Directory     DirectoryConfig     `yaml:"directory" toml:"directory"`
	Fanout        FanoutConfig        `yaml:"fanout" toml:"fanout"`
	Notifications NotificationsConfig `yaml:"notifications" toml:"notifications"`
	Presence      PresenceConfig      `yaml:"presence" toml:"presence"`
	WebSocket     WebSocketConfig     `yaml:"websocket" toml:"websocket"`
	Logging       LoggingConfig       `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // gRPC health endpoint; empty disables it
	NodeID   string `yaml:"node_id" toml:"node_id"`     // defaults to a random UUID at startup
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve HTTPS with Tailscale-provisioned certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret  string `yaml:"jwt_secret" toml:"jwt_secret"`
	CookieName string `yaml:"cookie_name" toml:"cookie_name"`
}

// BusConfig selects and tunes the cross-process pub/sub bus
type BusConfig struct {
	Driver        string `yaml:"driver" toml:"driver"` // redis or memory
	RedisAddr     string `yaml:"redis_addr" toml:"redis_addr"`
	RedisPassword string `yaml:"redis_password" toml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" toml:"redis_db"`
	ChannelPrefix string `yaml:"channel_prefix" toml:"channel_prefix"`
	DedupeSize    int    `yaml:"dedupe_size" toml:"dedupe_size"`

	ReconnectMin time.Duration `yaml:"-" toml:"-"`
	ReconnectMax time.Duration `yaml:"-" toml:"-"`
	DedupeTTL    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReconnectMinRaw string `yaml:"reconnect_min" toml:"reconnect_min"`
	ReconnectMaxRaw string `yaml:"reconnect_max" toml:"reconnect_max"`
	DedupeTTLRaw    string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// DirectoryConfig tunes the fleet-wide presence directory
type DirectoryConfig struct {
	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// FanoutConfig tunes delivery to local connections
type FanoutConfig struct {
	EchoPolicy string `yaml:"echo_policy" toml:"echo_policy"` // exclude_sender, exclude_origin, all
	SendBuffer int    `yaml:"send_buffer" toml:"send_buffer"` // frames queued per connection
}

// NotificationsConfig tunes the notification policy engine
type NotificationsConfig struct {
	PreviewLength int `yaml:"preview_length" toml:"preview_length"`

	Cooldown    time.Duration `yaml:"-" toml:"-"`
	CooldownRaw string        `yaml:"cooldown" toml:"cooldown"`
}

// PresenceConfig tunes presence broadcasting
type PresenceConfig struct {
	OfflineGrace    time.Duration `yaml:"-" toml:"-"`
	OfflineGraceRaw string        `yaml:"offline_grace" toml:"offline_grace"`
}

// WebSocketConfig holds client transport configuration
type WebSocketConfig struct {
	AllowedOrigins  []string `yaml:"allowed_origins" toml:"allowed_origins"`
	FramesPerSecond float64  `yaml:"frames_per_second" toml:"frames_per_second"`
	Burst           int      `yaml:"burst" toml:"burst"`
	MaxMessageBytes int64    `yaml:"max_message_bytes" toml:"max_message_bytes"`

	WriteTimeout time.Duration `yaml:"-" toml:"-"`
	PingInterval time.Duration `yaml:"-" toml:"-"`

	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultPath returns the config file location.
// Priority: COVEN_CHAT_CONFIG env var > XDG_CONFIG_HOME/coven/chat.yaml > ~/.config/coven/chat.yaml
func DefaultPath() string {
	if envPath := os.Getenv("COVEN_CHAT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven", "chat.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration bytes, then applies durations, defaults
// and validation the same way Load does.
func Parse(data []byte, isTOML bool) (*Config, error) {
	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// applyDefaults fills zero values. Durations left at zero are defaulted
// here except presence.offline_grace, where zero is meaningful.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = "localhost:8080"
	}
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = "coven_session"
	}

	if c.Bus.Driver == "" {
		c.Bus.Driver = "memory"
	}
	if c.Bus.ChannelPrefix == "" {
		c.Bus.ChannelPrefix = "coven:"
	}
	if c.Bus.ReconnectMin == 0 {
		c.Bus.ReconnectMin = 100 * time.Millisecond
	}
	if c.Bus.ReconnectMax == 0 {
		c.Bus.ReconnectMax = 30 * time.Second
	}
	if c.Bus.DedupeTTL == 0 {
		c.Bus.DedupeTTL = 5 * time.Minute
	}
	if c.Bus.DedupeSize == 0 {
		c.Bus.DedupeSize = 10000
	}

	if c.Directory.TTL == 0 {
		c.Directory.TTL = 90 * time.Second
	}

	if c.Fanout.EchoPolicy == "" {
		c.Fanout.EchoPolicy = "exclude_sender"
	}
	if c.Fanout.SendBuffer == 0 {
		c.Fanout.SendBuffer = 64
	}

	if c.Notifications.Cooldown == 0 {
		c.Notifications.Cooldown = 60 * time.Second
	}
	if c.Notifications.PreviewLength == 0 {
		c.Notifications.PreviewLength = 200
	}

	if c.WebSocket.FramesPerSecond == 0 {
		c.WebSocket.FramesPerSecond = 10
	}
	if c.WebSocket.Burst == 0 {
		c.WebSocket.Burst = 20
	}
	if c.WebSocket.MaxMessageBytes == 0 {
		c.WebSocket.MaxMessageBytes = 64 << 10
	}
	if c.WebSocket.WriteTimeout == 0 {
		c.WebSocket.WriteTimeout = 10 * time.Second
	}
	if c.WebSocket.PingInterval == 0 {
		c.WebSocket.PingInterval = 30 * time.Second
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// The HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.Bus.Driver {
	case "memory":
	case "redis":
		if c.Bus.RedisAddr == "" {
			return fmt.Errorf("bus.redis_addr is required when bus.driver is redis")
		}
	default:
		return fmt.Errorf("bus.driver must be redis or memory, got %q", c.Bus.Driver)
	}
	if c.Bus.ReconnectMax < c.Bus.ReconnectMin {
		return fmt.Errorf("bus.reconnect_max must not be below bus.reconnect_min")
	}

	switch c.Fanout.EchoPolicy {
	case "exclude_sender", "exclude_origin", "all":
	default:
		return fmt.Errorf("fanout.echo_policy must be exclude_sender, exclude_origin or all, got %q", c.Fanout.EchoPolicy)
	}
	if c.Fanout.SendBuffer < 1 {
		return fmt.Errorf("fanout.send_buffer must be positive")
	}

	if c.Notifications.Cooldown < 0 {
		return fmt.Errorf("notifications.cooldown must not be negative")
	}
	if c.Presence.OfflineGrace < 0 {
		return fmt.Errorf("presence.offline_grace must not be negative")
	}

	if c.WebSocket.FramesPerSecond < 0 || c.WebSocket.Burst < 1 {
		return fmt.Errorf("websocket.frames_per_second and websocket.burst must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"bus.reconnect_min", cfg.Bus.ReconnectMinRaw, &cfg.Bus.ReconnectMin},
		{"bus.reconnect_max", cfg.Bus.ReconnectMaxRaw, &cfg.Bus.ReconnectMax},
		{"bus.dedupe_ttl", cfg.Bus.DedupeTTLRaw, &cfg.Bus.DedupeTTL},
		{"directory.ttl", cfg.Directory.TTLRaw, &cfg.Directory.TTL},
		{"notifications.cooldown", cfg.Notifications.CooldownRaw, &cfg.Notifications.Cooldown},
		{"presence.offline_grace", cfg.Presence.OfflineGraceRaw, &cfg.Presence.OfflineGrace},
		{"websocket.write_timeout", cfg.WebSocket.WriteTimeoutRaw, &cfg.WebSocket.WriteTimeout},
		{"websocket.ping_interval", cfg.WebSocket.PingIntervalRaw, &cfg.WebSocket.PingInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
