// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, "chat.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"
  node_id: "chat-1"

database:
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"

bus:
  driver: "redis"
  redis_addr: "localhost:6379"
  reconnect_min: "250ms"
  reconnect_max: "10s"

fanout:
  echo_policy: "exclude_origin"

notifications:
  cooldown: "10s"

presence:
  offline_grace: "3s"

websocket:
  allowed_origins:
    - "chat.example.com"
  ping_interval: "15s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "0.0.0.0:50051", cfg.Server.GRPCAddr)
	assert.Equal(t, "chat-1", cfg.Server.NodeID)
	assert.Equal(t, "./test.db", cfg.Database.Path)
	assert.Equal(t, "redis", cfg.Bus.Driver)
	assert.Equal(t, 250*time.Millisecond, cfg.Bus.ReconnectMin)
	assert.Equal(t, 10*time.Second, cfg.Bus.ReconnectMax)
	assert.Equal(t, "exclude_origin", cfg.Fanout.EchoPolicy)
	assert.Equal(t, 10*time.Second, cfg.Notifications.Cooldown)
	assert.Equal(t, 3*time.Second, cfg.Presence.OfflineGrace)
	assert.Equal(t, []string{"chat.example.com"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "chat.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
path = "./chat.db"

[auth]
jwt_secret = "`+testSecret+`"

[notifications]
cooldown = "45s"
preview_length = 80

[websocket]
allowed_origins = ["a.example.com", "b.example.com"]
frames_per_second = 2.5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Server.HTTPAddr)
	assert.Equal(t, 45*time.Second, cfg.Notifications.Cooldown)
	assert.Equal(t, 80, cfg.Notifications.PreviewLength)
	assert.Equal(t, []string{"a.example.com", "b.example.com"}, cfg.WebSocket.AllowedOrigins)
	assert.InDelta(t, 2.5, cfg.WebSocket.FramesPerSecond, 0.0001)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "chat.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "coven_session", cfg.Auth.CookieName)
	assert.Equal(t, "memory", cfg.Bus.Driver)
	assert.Equal(t, "coven:", cfg.Bus.ChannelPrefix)
	assert.Equal(t, 5*time.Minute, cfg.Bus.DedupeTTL)
	assert.Equal(t, 90*time.Second, cfg.Directory.TTL)
	assert.Equal(t, "exclude_sender", cfg.Fanout.EchoPolicy)
	assert.Equal(t, 64, cfg.Fanout.SendBuffer)
	assert.Equal(t, 60*time.Second, cfg.Notifications.Cooldown)
	assert.Equal(t, 200, cfg.Notifications.PreviewLength)
	assert.Zero(t, cfg.Presence.OfflineGrace)
	assert.Equal(t, 30*time.Second, cfg.WebSocket.PingInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_CHAT_SECRET", testSecret)
	t.Setenv("TEST_CHAT_REDIS", "redis.internal:6379")

	path := writeConfig(t, "chat.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "${TEST_CHAT_SECRET}"
bus:
  driver: redis
  redis_addr: "${TEST_CHAT_REDIS}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, "redis.internal:6379", cfg.Bus.RedisAddr)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/chat.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "chat.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
notifications:
  cooldown: "soon"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notifications.cooldown")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"missing database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "jwt_secret"},
		{"unknown driver", func(c *Config) { c.Bus.Driver = "kafka" }, "bus.driver"},
		{"redis without addr", func(c *Config) { c.Bus.Driver = "redis" }, "bus.redis_addr"},
		{"inverted backoff", func(c *Config) { c.Bus.ReconnectMax = c.Bus.ReconnectMin / 2 }, "reconnect_max"},
		{"unknown echo policy", func(c *Config) { c.Fanout.EchoPolicy = "everyone" }, "echo_policy"},
		{"negative grace", func(c *Config) { c.Presence.OfflineGrace = -time.Second }, "offline_grace"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}

	base := []byte("database:\n  path: ./test.db\nauth:\n  jwt_secret: " + testSecret + "\n")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(base, false)
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should mention %q", err, tt.wantErr)
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Run("env override", func(t *testing.T) {
		t.Setenv("COVEN_CHAT_CONFIG", "/etc/coven/custom.toml")
		assert.Equal(t, "/etc/coven/custom.toml", DefaultPath())
	})

	t.Run("xdg", func(t *testing.T) {
		t.Setenv("COVEN_CHAT_CONFIG", "")
		t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
		assert.Equal(t, filepath.Join("/tmp/xdg", "coven", "chat.yaml"), DefaultPath())
	})
}
