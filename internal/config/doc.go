// Package config handles configuration loading for coven-chat.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion, duration parsing, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/chat.yaml
//  3. ~/.config/coven/chat.yaml
//
// The --config flag of coven-chat overrides all of them. Files ending in
// .toml are decoded as TOML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"     # WebSocket endpoint and health checks
//	  grpc_addr: "0.0.0.0:50051"    # gRPC health service (optional)
//	  node_id: "chat-1"             # defaults to a random UUID
//
//	database:
//	  path: "/var/lib/coven/chat.db"
//
//	auth:
//	  jwt_secret: "${COVEN_JWT_SECRET}"   # at least 32 bytes
//	  cookie_name: "coven_session"
//
//	bus:
//	  driver: "redis"               # redis or memory
//	  redis_addr: "localhost:6379"
//	  channel_prefix: "coven:"
//	  reconnect_min: "100ms"
//	  reconnect_max: "30s"
//	  dedupe_ttl: "5m"
//	  dedupe_size: 10000
//
//	directory:
//	  ttl: "90s"
//
//	fanout:
//	  echo_policy: "exclude_sender" # exclude_sender, exclude_origin, all
//	  send_buffer: 64
//
//	notifications:
//	  cooldown: "60s"
//	  preview_length: 200
//
//	presence:
//	  offline_grace: "0s"
//
//	websocket:
//	  allowed_origins: ["chat.example.com"]
//	  frames_per_second: 10
//	  burst: 20
//	  write_timeout: "10s"
//	  ping_interval: "30s"
//	  max_message_bytes: 65536
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Tailscale (optional tsnet listener instead of server.http_addr):
//
//	tailscale:
//	  enabled: false
//	  hostname: "coven-chat"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
package config
