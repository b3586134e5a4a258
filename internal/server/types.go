// Package server defines the wire strings, sentinel errors, and small helpers
// shared by the registry, command interpreter, and connection handler.
package server

import (
	"errors"
	"io"
	"net"
	"strings"
)

// Wire text exchanged with clients.
const (
	usernamePrompt  = "Enter your username: "
	welcomeFormat   = "Welcome to PyChat, %s!"
	joinFormat      = "%s has joined the chat!"
	leaveFormat     = "%s has left the chat."
	kickedFormat    = "%s has been kicked from the server."
	chatLineFormat  = "[%s] %s: %s"
	serverMsgFormat = "Server: %s"
	timestampLayout = "15:04:05"

	// clearScreen resets the peer terminal (ESC c).
	clearScreen = "\033c"

	// UnknownUser is returned when unregistering a connection that is not registered.
	UnknownUser = "Unknown"
)

var (
	// ErrConnClosed is returned when sending on or reading from a closed connection.
	ErrConnClosed = errors.New("server: connection closed")

	// ErrInvalidUTF8 is returned when a received chunk is not valid UTF-8.
	ErrInvalidUTF8 = errors.New("server: received invalid UTF-8")

	// ErrServerClosed is returned by Serve and ListenAndServe after Shutdown.
	ErrServerClosed = errors.New("server: closed")
)

// Stream is the byte stream a chat connection runs over. *net.TCPConn and the
// WebSocket gateway adapter both satisfy it.
type Stream interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, ErrConnClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "connection reset by peer") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

// trimLineEnd drops the trailing CR/LF run that line-based tools append.
func trimLineEnd(s string) string {
	return strings.TrimRight(s, "\r\n")
}
