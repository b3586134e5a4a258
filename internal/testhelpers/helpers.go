// Package testhelpers provides common utilities for testing the chat relay.
//
// It starts servers on loopback ports, drives raw TCP and WebSocket peers, and
// waits for expected text with deadlines so tests do not depend on how the
// byte stream happens to be chunked.
package testhelpers

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/gochat/internal/server"
)

// DefaultTimeout bounds every wait in this package unless a caller passes its own.
const DefaultTimeout = 3 * time.Second

// StartServer starts a server for cfg on an ephemeral loopback port and
// returns it with its address. The server is shut down when the test ends.
func StartServer(t *testing.T, cfg server.Config, console io.Writer) (*server.Server, string) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	srv := server.New(cfg, console)
	go func() {
		_ = srv.Serve(ln)
	}()

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Logf("Server shutdown: %v", err)
		}
	})
	return srv, ln.Addr().String()
}

// WaitFor polls cond until it holds or the timeout expires.
func WaitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// Peer is a raw chat participant. Everything it receives is buffered so that
// expectations can be matched across chunk boundaries.
type Peer struct {
	t    *testing.T
	conn net.Conn

	mu     sync.Mutex
	buf    bytes.Buffer
	err    error
	notify chan struct{}
	done   chan struct{}
}

// Dial connects a Peer to a TCP chat server.
func Dial(t *testing.T, addr string) *Peer {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", addr, err)
	}
	return NewPeer(t, conn)
}

// NewPeer wraps an established connection. It is closed when the test ends.
func NewPeer(t *testing.T, conn net.Conn) *Peer {
	p := &Peer{
		t:      t,
		conn:   conn,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go p.readLoop()
	t.Cleanup(func() { _ = conn.Close() })
	return p
}

// LocalAddr returns the peer's side of the connection.
func (p *Peer) LocalAddr() net.Addr {
	return p.conn.LocalAddr()
}

func (p *Peer) readLoop() {
	defer close(p.done)
	chunk := make([]byte, 1024)
	for {
		n, err := p.conn.Read(chunk)
		p.mu.Lock()
		if n > 0 {
			p.buf.Write(chunk[:n])
		}
		if err != nil {
			p.err = err
		}
		p.mu.Unlock()
		p.signal()
		if err != nil {
			return
		}
	}
}

func (p *Peer) signal() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Send writes text as one chunk.
func (p *Peer) Send(text string) {
	p.t.Helper()
	if err := p.conn.SetWriteDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		p.t.Fatalf("Failed to set write deadline: %v", err)
	}
	if _, err := io.WriteString(p.conn, text); err != nil {
		p.t.Fatalf("Failed to send %q: %v", text, err)
	}
}

// Expect waits until the unread input matches pattern, consumes it through
// the end of the match, and returns the matched text.
func (p *Peer) Expect(pattern string) string {
	p.t.Helper()

	re := regexp.MustCompile(pattern)
	deadline := time.NewTimer(DefaultTimeout)
	defer deadline.Stop()

	for {
		p.mu.Lock()
		data := p.buf.String()
		if loc := re.FindStringIndex(data); loc != nil {
			p.buf.Next(loc[1])
			p.mu.Unlock()
			return data[loc[0]:loc[1]]
		}
		readErr := p.err
		p.mu.Unlock()

		if readErr != nil {
			p.t.Fatalf("Connection ended before %q arrived: %v (unread %q)", pattern, readErr, data)
		}

		select {
		case <-p.notify:
		case <-deadline.C:
			p.t.Fatalf("Timed out waiting for %q (unread %q)", pattern, data)
		}
	}
}

// ExpectNone waits for window and fails if the unread input matches pattern.
func (p *Peer) ExpectNone(pattern string, window time.Duration) {
	p.t.Helper()

	time.Sleep(window)
	p.mu.Lock()
	data := p.buf.String()
	p.mu.Unlock()

	if regexp.MustCompile(pattern).MatchString(data) {
		p.t.Errorf("Unexpected %q in %q", pattern, data)
	}
}

// Count returns how many times pattern occurs in the unread input.
func (p *Peer) Count(pattern string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(regexp.MustCompile(pattern).FindAllStringIndex(p.buf.String(), -1))
}

// Login answers the username prompt and waits for the welcome line.
func (p *Peer) Login(username string) {
	p.t.Helper()
	p.Expect(regexp.QuoteMeta("Enter your username: "))
	p.Send(username)
	p.Expect(`Welcome to PyChat, [^!]*!`)
}

// WaitClosed waits until the server closes the connection.
func (p *Peer) WaitClosed() {
	p.t.Helper()
	select {
	case <-p.done:
	case <-time.After(DefaultTimeout):
		p.t.Fatal("Timed out waiting for the server to close the connection")
	}
}

// Close closes the peer's connection.
func (p *Peer) Close() {
	_ = p.conn.Close()
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// ConnectWebSocket dials the gateway with the given Origin header.
func ConnectWebSocket(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// ReadText reads the next frame from a WebSocket peer within DefaultTimeout.
func ReadText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(DefaultTimeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	return string(data)
}

// ReadTextUntil reads frames until one matches pattern and returns it.
func ReadTextUntil(t *testing.T, conn *websocket.Conn, pattern string) string {
	t.Helper()
	re := regexp.MustCompile(pattern)
	for {
		if msg := ReadText(t, conn); re.MatchString(msg) {
			return msg
		}
	}
}
