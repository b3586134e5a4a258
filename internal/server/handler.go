// Package server runs the per-connection control loop: username negotiation,
// relaying, and cleanup with a single departure notice.
package server

import (
	"fmt"
	"strings"
)

// ServeConn runs the connection handler for stream and returns when the peer
// is gone. The stream is closed on return.
func (s *Server) ServeConn(stream Stream) {
	conn := NewConn(stream, s.cfg.ReadBufferSize, s.cfg.WriteTimeout)
	if !s.trackConn(conn) {
		_ = conn.Close()
		return
	}
	defer s.untrackConn(conn)
	defer s.cleanup(conn)

	username, ok := s.negotiate(conn)
	if !ok {
		return
	}
	s.relay(conn, username)
}

// negotiate prompts for a username and registers conn under it.
func (s *Server) negotiate(conn *Conn) (string, bool) {
	if err := conn.Send(usernamePrompt); err != nil {
		logConnError(conn, err)
		return "", false
	}

	text, err := conn.Receive()
	if err != nil {
		logConnError(conn, err)
		return "", false
	}

	username := strings.TrimSpace(text)
	if username == "" {
		username = "User-" + conn.RemotePort()
	}
	s.registry.Register(conn, username)
	conn.logger().Infof("%s registered. Total clients: %d", username, s.registry.Len())

	if err := conn.Send(fmt.Sprintf(welcomeFormat, username)); err != nil {
		logConnError(conn, err)
		// never announced as joined, so leave without a departure notice
		s.registry.Remove(conn)
		return username, false
	}
	s.registry.Broadcast(fmt.Sprintf(joinFormat, username), conn)
	return username, true
}

// relay forwards chat lines and commands until the connection ends.
func (s *Server) relay(conn *Conn, username string) {
	for {
		text, err := conn.Receive()
		if err != nil {
			logConnError(conn, err)
			return
		}

		line := trimLineEnd(text)
		if line == "" {
			continue
		}

		if IsCommand(line) {
			if s.commands.ExecClient(conn, line) {
				return
			}
			continue
		}

		message := fmt.Sprintf(chatLineFormat, s.now().Format(timestampLayout), username, line)
		conn.logger().Info(message)
		s.registry.Broadcast(message, conn)
	}
}

// cleanup unregisters conn and announces the departure only if this call did
// the removal; kick, exit, and failed-send pruning announce on their own.
// A peer whose welcome could not be delivered is already gone by then.
func (s *Server) cleanup(conn *Conn) {
	username, removed := s.registry.Remove(conn)
	conn.logger().Infof("Connection closed: %s", conn.Addr())
	if removed {
		s.registry.Broadcast(fmt.Sprintf(leaveFormat, username), nil)
	}
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		conn.logger().Warnf("Error closing connection: %v", err)
	}
}

func logConnError(conn *Conn, err error) {
	if isExpectedCloseError(err) {
		conn.logger().Debugf("Client disconnected: %v", err)
		return
	}
	conn.logger().Warnf("Error handling client %s: %v", conn.Addr(), err)
}
