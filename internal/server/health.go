// ABOUTME: HTTP liveness/readiness endpoints and the gRPC health service
// ABOUTME: Readiness follows the fan-out listener's bus subscription

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// HealthService is the gRPC health service name reported alongside the
// overall ("") status.
const HealthService = "coven.chat"

// healthInterval is how often the gRPC health status is re-evaluated.
const healthInterval = time.Second

func newHealthServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// reportHealth mirrors the bus listener's state into the gRPC health
// service until ctx ends.
func (s *Server) reportHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	var last healthpb.HealthCheckResponse_ServingStatus = -1
	for {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if s.fanout.Healthy() {
			status = healthpb.HealthCheckResponse_SERVING
		}
		if status != last {
			s.health.SetServingStatus("", status)
			s.health.SetServingStatus(HealthService, status)
			s.logger.Info("health status changed", "status", status.String())
			last = status
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK while the bus listener is subscribed. Without
// it, messages still reach their senders but nobody else.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.fanout.Healthy() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("bus unavailable"))
		return
	}
	delivered, dropped := s.fanout.Stats()
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d connections, %d delivered, %d dropped)", s.registry.Len(), delivered, dropped)
}
