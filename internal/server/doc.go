// Package server assembles a coven-chat process.
//
// New builds every component from a config.Config:
//
//	store      SQLite (modernc, no cgo)
//	bus        Redis pub/sub or the in-process memory bus
//	directory  Redis hashes when the bus is Redis, memory otherwise
//	fanout     the bus adapter and per-process listener
//	presence   online/offline/status broadcasts
//	hub        connection lifecycle
//	notify     unread badges, mentions, sounds and desktop alerts
//	chat       posting, reactions, avatars, status
//	ws         the /ws/chat endpoint
//
// # Endpoints
//
//	GET /ws/chat        WebSocket upgrade (JWT in header, ?token= or cookie)
//	GET /health         liveness, always 200
//	GET /health/ready   200 while the bus listener is subscribed, else 503
//
// When server.grpc_addr is set (or Tailscale is enabled) the standard
// grpc.health.v1 service is served too, reporting NOT_SERVING while the bus
// is down.
//
// # Tailscale
//
// With tailscale.enabled the process joins the tailnet through tsnet and
// listens there instead of on server.http_addr, optionally with HTTPS
// certificates or Funnel.
package server
