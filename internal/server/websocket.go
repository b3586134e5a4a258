// Package server exposes the HTTP handlers of the gateway: WebSocket upgrades
// into chat connections, the health check, and the connected-user listing.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// WebSocketHandler upgrades the request and runs the chat connection handler
// over it until the peer leaves. Each text frame is one inbound chunk.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("WebSocket upgrade failed: %v", err)
		return
	}

	stream, err := newWSStream(conn, s.cfg.MaxMessageSize)
	if err != nil {
		log.Warnf("WebSocket setup failed for %s: %v", conn.RemoteAddr(), err)
		_ = conn.Close()
		return
	}

	log.Infof("New WebSocket connection: %s", conn.RemoteAddr())
	s.ServeConn(stream)
}

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "GoChat server is running!")
}

// UsersResponse is the body served by UsersHandler.
type UsersResponse struct {
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// UsersHandler lists the connected usernames as JSON.
func (s *Server) UsersHandler(w http.ResponseWriter, _ *http.Request) {
	users := s.registry.Usernames()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(UsersResponse{Count: len(users), Users: users}); err != nil {
		log.Warnf("Error encoding user list: %v", err)
	}
}

// wsStream adapts a WebSocket connection to Stream. Reads drain one frame at a
// time; every Write is sent as one text frame.
type wsStream struct {
	conn    *websocket.Conn
	pending []byte
}

func newWSStream(conn *websocket.Conn, maxMessageSize int64) (*wsStream, error) {
	conn.SetReadLimit(maxMessageSize)
	// the HTTP server deadlines are still armed on the hijacked connection
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear read deadline: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear write deadline: %w", err)
	}
	return &wsStream{conn: conn}, nil
}

func (s *wsStream) Read(p []byte) (int, error) {
	for len(s.pending) == 0 {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived) {
				return 0, io.EOF
			}
			return 0, err
		}
		s.pending = data
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close sends a close frame on a best-effort basis and closes the connection.
func (s *wsStream) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		if !isExpectedCloseError(err) {
			log.Debugf("Error writing close message to %s: %v", s.conn.RemoteAddr(), err)
		}
	}
	return s.conn.Close()
}

func (s *wsStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *wsStream) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}
