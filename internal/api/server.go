package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sinricsync/sinric-bridge/internal/bridge"
	"github.com/sinricsync/sinric-bridge/internal/infrastructure/config"
	"github.com/sinricsync/sinric-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight
// requests before forcing the listener down.
const gracefulShutdownTimeout = 10 * time.Second

// Deps collects the server's dependencies.
type Deps struct {
	Config  *config.Config
	Logger  *logging.Logger
	Bridge  *bridge.Bridge
	Version string
}

// Server is the local HTTP API server.
type Server struct {
	cfg     *config.Config
	logger  *logging.Logger
	bridge  *bridge.Bridge
	version string

	hub        *Hub
	httpServer *http.Server

	// unsubscribe detaches the hub from the bridge change feed.
	unsubscribe func()
}

// New creates an API server. Call Start to begin listening.
func New(deps Deps) (*Server, error) {
	if deps.Config == nil || deps.Logger == nil {
		return nil, errors.New("api: config and logger are required")
	}
	if deps.Bridge == nil {
		return nil, errors.New("api: bridge is required")
	}
	if deps.Config.Security.JWT.Secret == "" {
		return nil, errors.New("api: jwt secret is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		bridge:  deps.Bridge,
		version: deps.Version,
	}, nil
}

// Start begins serving in a background goroutine and returns once the
// listener is bound. The WebSocket hub is attached to the bridge change
// feed before the first request can arrive.
func (s *Server) Start(ctx context.Context) error {
	s.hub = NewHub(s.cfg.API.WebSocket, s.logger)
	s.unsubscribe = s.bridge.Subscribe(s.hub.HandleChange)
	go s.hub.Run(ctx)

	addr := net.JoinHostPort(s.cfg.API.Host, strconv.Itoa(s.cfg.API.Port))
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.buildRouter(),
		ReadTimeout:  s.cfg.GetReadTimeout(),
		WriteTimeout: s.cfg.GetWriteTimeout(),
		IdleTimeout:  s.cfg.GetIdleTimeout(),
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api: binding %s: %w", addr, err)
	}

	go func() {
		s.logger.Info("api server listening", "addr", addr)
		if serveErr := s.httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("api server stopped", "error", serveErr)
		}
	}()

	return nil
}

// Close shuts the server down gracefully, then disconnects any remaining
// WebSocket clients.
func (s *Server) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	if s.httpServer == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	s.logger.Info("api server stopped")
	return nil
}
