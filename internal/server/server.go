// ABOUTME: Server orchestrator that wires storage, bus, fan-out, presence and transport
// ABOUTME: Owns the HTTP, gRPC health and optional tsnet listeners and their lifecycle

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/tsnet"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/bus"
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/config"
	"github.com/2389/coven-chat/internal/fanout"
	"github.com/2389/coven-chat/internal/hub"
	"github.com/2389/coven-chat/internal/notify"
	"github.com/2389/coven-chat/internal/presence"
	"github.com/2389/coven-chat/internal/registry"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/typing"
	"github.com/2389/coven-chat/internal/ws"
)

// shutdownTimeout bounds graceful shutdown after Run's context ends.
const shutdownTimeout = 5 * time.Second

// Server is one coven-chat process.
type Server struct {
	config *config.Config
	nodeID string
	logger *slog.Logger

	store       *store.SQLiteStore
	bus         bus.Bus
	directory   presence.Directory
	registry    *registry.Registry
	fanout      *fanout.Adapter
	broadcaster *presence.Broadcaster
	hub         *hub.Hub
	chat        *chat.Service
	verifier    *auth.JWTVerifier

	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *health.Server
	tsnetServer *tsnet.Server

	background sync.WaitGroup
	stopBG     context.CancelFunc
}

// New creates a Server with the given configuration. Nothing listens until
// Run.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}
	logger = logger.With("node_id", nodeID)

	echo, err := fanout.ParseEchoPolicy(cfg.Fanout.EchoPolicy)
	if err != nil {
		return nil, err
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("creating JWT verifier: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	b, dir := newBackbone(cfg, logger)

	reg := registry.New(logger)
	adapter := fanout.New(b, reg, fanout.Options{
		EchoPolicy:   echo,
		ReconnectMin: cfg.Bus.ReconnectMin,
		ReconnectMax: cfg.Bus.ReconnectMax,
		DedupeTTL:    cfg.Bus.DedupeTTL,
		DedupeSize:   cfg.Bus.DedupeSize,
		SendTimeout:  cfg.WebSocket.WriteTimeout,
	}, logger)
	broadcaster := presence.NewBroadcaster(adapter, cfg.Presence.OfflineGrace, logger)
	h := hub.New(reg, dir, typing.NewTracker(adapter, logger), broadcaster, st, logger)
	adapter.OnSendFailure(h.HandleSendFailure)

	engine := notify.NewEngine(st, dir, adapter, notify.HTMLFormatter{}, notify.Options{
		Cooldown:      cfg.Notifications.Cooldown,
		PreviewLength: cfg.Notifications.PreviewLength,
	}, logger)
	svc := chat.New(st, adapter, engine, broadcaster, nil, logger)

	s := &Server{
		config:      cfg,
		nodeID:      nodeID,
		logger:      logger.With("component", "server"),
		store:       st,
		bus:         b,
		directory:   dir,
		registry:    reg,
		fanout:      adapter,
		broadcaster: broadcaster,
		hub:         h,
		chat:        svc,
		verifier:    verifier,
	}

	handler := ws.NewHandler(auth.NewAuthenticator(verifier, st, cfg.Auth.CookieName), h, svc, ws.Options{
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
		FramesPerSecond: cfg.WebSocket.FramesPerSecond,
		Burst:           cfg.WebSocket.Burst,
		SendQueue:       cfg.Fanout.SendBuffer,
		MaxMessageBytes: cfg.WebSocket.MaxMessageBytes,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		PingInterval:    cfg.WebSocket.PingInterval,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle(ws.Path, handler)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleReady)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Server.GRPCAddr != "" || cfg.Tailscale.Enabled {
		s.grpcServer, s.health = newHealthServer()
	}

	return s, nil
}

// newBackbone picks the bus and the matching fleet directory. A Redis bus
// shares its client with a Redis directory so every process sees the same
// presence.
func newBackbone(cfg *config.Config, logger *slog.Logger) (bus.Bus, presence.Directory) {
	if cfg.Bus.Driver != "redis" {
		return bus.NewMemoryBus(), presence.NewMemoryDirectory()
	}
	rb := bus.NewRedisBus(bus.RedisOptions{
		Addr:     cfg.Bus.RedisAddr,
		Password: cfg.Bus.RedisPassword,
		DB:       cfg.Bus.RedisDB,
		Prefix:   cfg.Bus.ChannelPrefix,
	}, logger)
	return rb, presence.NewRedisDirectory(rb.Client(), cfg.Bus.ChannelPrefix, cfg.Directory.TTL, logger)
}

// Handler returns the HTTP handler serving the WebSocket and health routes.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Verifier returns the JWT verifier, for issuing tokens.
func (s *Server) Verifier() *auth.JWTVerifier {
	return s.verifier
}

// Start runs the background tasks: the fan-out listener, the directory
// refresher and the health reporter. Run calls it; tests may call it alone.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopBG = cancel

	s.goBackground(func() {
		if err := s.fanout.Run(ctx); err != nil {
			s.logger.Error("fan-out listener stopped", "error", err)
		}
	})
	if rd, ok := s.directory.(*presence.RedisDirectory); ok {
		s.goBackground(func() { _ = rd.Run(ctx) })
	}
	if s.health != nil {
		s.goBackground(func() { s.reportHealth(ctx) })
	}
}

func (s *Server) goBackground(fn func()) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		fn()
	}()
}

// setupTCPListeners creates standard TCP listeners for HTTP and, if
// configured, gRPC.
func (s *Server) setupTCPListeners() (httpLn, grpcLn net.Listener, err error) {
	s.logger.Info("starting coven-chat",
		"http_addr", s.config.Server.HTTPAddr,
		"grpc_addr", s.config.Server.GRPCAddr,
		"bus", s.config.Bus.Driver,
	)

	httpLn, err = net.Listen("tcp", s.config.Server.HTTPAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	if s.grpcServer != nil {
		grpcLn, err = net.Listen("tcp", s.config.Server.GRPCAddr)
		if err != nil {
			_ = httpLn.Close()
			return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return httpLn, grpcLn, nil
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (s *Server) setupListeners(ctx context.Context) (httpLn, grpcLn net.Listener, err error) {
	if s.config.Tailscale.Enabled {
		if s.config.Server.GRPCAddr != "" || s.config.Server.HTTPAddr != "" {
			s.logger.Warn("server.http_addr and server.grpc_addr are ignored when tailscale is enabled",
				"http_addr", s.config.Server.HTTPAddr,
				"grpc_addr", s.config.Server.GRPCAddr,
			)
		}
		return s.setupTailscaleListeners(ctx)
	}
	return s.setupTCPListeners()
}

// startServers starts the HTTP and gRPC servers, returning their error channel.
func (s *Server) startServers(httpLn, grpcLn net.Listener) chan error {
	errCh := make(chan error, 2)

	go func() {
		s.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := s.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	if grpcLn != nil {
		go func() {
			s.logger.Info("gRPC health server listening", "addr", grpcLn.Addr().String())
			if err := s.grpcServer.Serve(grpcLn); err != nil {
				errCh <- fmt.Errorf("gRPC server: %w", err)
			}
		}()
	}

	return errCh
}

// Run starts the servers and blocks until ctx is canceled or a server
// fails, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpLn, grpcLn, err := s.setupListeners(ctx)
	if err != nil {
		return err
	}

	s.Start()
	errCh := s.startServers(httpLn, grpcLn)

	var serverErr error
	select {
	case <-ctx.Done():
		s.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		s.logger.Error("server error", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	shutdownErr := s.Shutdown(shutdownCtx)

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// closeConnections closes every live client and waits until their handlers
// have unregistered them or ctx ends. http.Server.Shutdown does not wait for
// hijacked connections.
func (s *Server) closeConnections(ctx context.Context) {
	for _, c := range s.registry.Local() {
		if hc, ok := c.(hub.Conn); ok {
			go func() { _ = hc.Close("server shutting down") }()
		}
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for s.registry.Len() > 0 {
		select {
		case <-ctx.Done():
			s.logger.Warn("connections still open at shutdown", "connections", s.registry.Len())
			return
		case <-ticker.C:
		}
	}
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (s *Server) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the servers and background tasks and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down", "connections", s.registry.Len())

	var errs []error
	if s.health != nil {
		s.health.Shutdown()
	}

	s.closeConnections(ctx)
	errs = appendCloseError(errs, "HTTP shutdown", s.httpServer.Shutdown(ctx))

	if s.grpcServer != nil {
		s.shutdownGRPCServer(ctx)
	}
	if s.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", s.tsnetServer.Close())
	}

	if s.stopBG != nil {
		s.stopBG()
	}
	s.background.Wait()

	s.broadcaster.Close()
	errs = appendCloseError(errs, "bus close", s.bus.Close())
	errs = appendCloseError(errs, "store close", s.store.Close())

	return errors.Join(errs...)
}
