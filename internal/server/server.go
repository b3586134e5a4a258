// Package server constructs and runs the chat relay: the TCP accept loop, the
// operator console loop, the optional WebSocket gateway, and graceful shutdown.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/tevino/abool"
)

// Server owns the registry and every goroutine serving it.
type Server struct {
	cfg      Config
	registry *Registry
	commands *Interpreter
	origins  *originPolicy
	upgrader websocket.Upgrader

	mu         sync.Mutex
	listeners  map[net.Listener]struct{}
	conns      map[*Conn]struct{}
	httpServer *http.Server
	wg         sync.WaitGroup
	closing    *abool.AtomicBool

	now func() time.Time
}

// New creates a Server for cfg. Console command output is written to console.
func New(cfg Config, console io.Writer) *Server {
	cfg = cfg.Sanitize()
	registry := NewRegistry()
	s := &Server{
		cfg:       cfg,
		registry:  registry,
		commands:  NewInterpreter(registry, console),
		origins:   newOriginPolicy(cfg.AllowedOrigins),
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*Conn]struct{}),
		closing:   abool.New(),
		now:       time.Now,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.ReadBufferSize,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Config returns the sanitized configuration in use.
func (s *Server) Config() Config {
	return s.cfg
}

// Registry returns the connection registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Interpreter returns the command interpreter shared by clients and the console.
func (s *Server) Interpreter() *Interpreter {
	return s.commands
}

// ListenAndServe binds the configured TCP address and runs the accept loop.
// A bind failure is returned wrapped; the loop otherwise runs until Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Address())
	if err != nil {
		return fmt.Errorf("error starting server: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln and handles each in its own goroutine.
// It closes ln on return and returns ErrServerClosed after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		_ = ln.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(ln)
	defer ln.Close()

	log.Infof("PyChat Server started on %s", ln.Addr())

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closing.IsSet() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			tempDelay = nextAcceptDelay(tempDelay)
			log.Warnf("Accept error: %v; retrying in %v", err, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		log.Infof("New connection: %s", conn.RemoteAddr())
		go s.ServeConn(conn)
	}
}

func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if limit := time.Second; d > limit {
		d = limit
	}
	return d
}

// RunConsole reads operator commands from in until EOF or Shutdown.
func (s *Server) RunConsole(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if s.closing.IsSet() {
			return nil
		}
		s.commands.ExecConsole(strings.TrimRight(scanner.Text(), "\r"))
	}
	return scanner.Err()
}

// ListenAndServeWebSocket runs the HTTP side (health, users, WebSocket gateway)
// on the configured address. It returns nil right away when the gateway is disabled.
func (s *Server) ListenAndServeWebSocket() error {
	if s.cfg.WebSocketAddr == "" {
		return nil
	}

	httpServer := CreateHTTPServer(s.cfg.WebSocketAddr, s.Routes())
	s.mu.Lock()
	if s.closing.IsSet() {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.httpServer = httpServer
	s.mu.Unlock()

	log.Infof("WebSocket gateway listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("websocket gateway: %w", err)
	}
	return ErrServerClosed
}

// CreateHTTPServer creates an HTTP server with the timeouts used for the gateway.
func CreateHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Shutdown stops accepting, closes every connection, and waits for the
// handlers to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	if !s.closing.SetToIf(false, true) {
		return nil
	}
	log.Info("Initiating chat server shutdown...")

	s.mu.Lock()
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !isExpectedCloseError(err) {
			log.Warnf("Error closing listener %s: %v", ln.Addr(), err)
		}
	}
	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	httpServer := s.httpServer
	s.mu.Unlock()

	var shutdownErr error
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Warnf("HTTP server shutdown error: %v", err)
			shutdownErr = err
		}
	}

	// registered peers are dropped silently; the rest are still negotiating
	registered := s.registry.CloseAll()
	for _, conn := range conns {
		if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
			conn.logger().Warnf("Error closing client connection: %v", err)
		}
	}
	log.Infof("Closed %d client connections (%d registered)", len(conns), registered)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("Chat server shutdown completed")
		return shutdownErr
	case <-ctx.Done():
		log.Warn("Shutdown timeout reached, some handlers may still be running")
		return ctx.Err()
	}
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.IsSet() {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

func (s *Server) trackConn(conn *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing.IsSet() {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackConn(conn *Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.wg.Done()
}
