package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/discovery/internal/discovery"
	"github.com/muurk/discovery/internal/logging"
	"github.com/muurk/discovery/internal/ssdp"
)

// DefaultShutdownTimeout bounds how long Shutdown waits for feed clients
const DefaultShutdownTimeout = 10 * time.Second

// Engine is the part of discovery.Engine the server drives
type Engine interface {
	Snapshot() []ssdp.ServiceRecord
	Len() int
	Session() string
	State() discovery.State
	Subscribe() *discovery.Subscription
	Broadcast() <-chan error
	Reset()
}

// Config holds the server configuration
type Config struct {
	Listen              string        // TCP listen address, e.g. ":8080"
	Advertise           bool          // Register the feed over mDNS
	Instance            string        // mDNS instance name (defaults to the hostname)
	RebroadcastInterval time.Duration // Periodic M-SEARCH (0 = off)
	ShutdownTimeout     time.Duration
}

// Server exposes an engine over HTTP: a JSON snapshot, control endpoints,
// a websocket event feed and Prometheus metrics.
type Server struct {
	config   Config
	engine   Engine
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
	advertiser *Advertiser

	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[string]*websocket.Conn
	closing     bool
}

// New creates a new Server for engine
func New(engine Engine, config Config) *Server {
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	s := &Server{
		config: config,
		engine: engine,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The feed is read-only and meant for LAN tools, not browsers
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		activeConns: make(map[string]*websocket.Conn),
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	logging.Info("Starting discovery feed server",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("advertise", s.config.Advertise),
		zap.Duration("rebroadcast_interval", s.config.RebroadcastInterval),
	)

	if s.config.Advertise {
		port := listener.Addr().(*net.TCPAddr).Port
		adv, err := Advertise(s.config.Instance, port)
		if err != nil {
			// The feed still works without the mDNS record
			logging.Warn("Failed to advertise feed over mDNS", zap.Error(err))
		} else {
			s.advertiser = adv
		}
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.httpServer.Serve(listener)
	}()

	if s.config.RebroadcastInterval > 0 {
		go s.rebroadcast(ctx, s.config.RebroadcastInterval)
	}

	select {
	case <-ctx.Done():
		logging.Info("Shutdown requested, stopping feed server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("feed server failed: %w", err)
	}
}

// Addr returns the listen address once Run has started, or nil
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) rebroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := <-s.engine.Broadcast(); err != nil {
				logging.Warn("Periodic broadcast failed", zap.Error(err))
			}
		}
	}
}

// track registers a websocket client; it returns false while shutting down
func (s *Server) track(remoteAddr string, conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing {
		return false
	}
	s.activeConns[remoteAddr] = conn
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(remoteAddr string) {
	s.mu.Lock()
	delete(s.activeConns, remoteAddr)
	s.mu.Unlock()
	s.wg.Done()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down feed server...")

	if s.advertiser != nil {
		s.advertiser.Shutdown()
	}

	// Hijacked websocket connections are not covered by http.Server.Shutdown
	s.mu.Lock()
	s.closing = true
	for addr, conn := range s.activeConns {
		logging.Info("Closing feed client", zap.String("remote_addr", addr))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	s.mu.Unlock()

	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All feed clients closed gracefully")
	case <-ctx.Done():
		logging.Warn("Shutdown timeout, forcing close")
	}

	logging.Sync()

	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	return nil
}

// GetActiveConnections returns the number of connected feed clients
func (s *Server) GetActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}
