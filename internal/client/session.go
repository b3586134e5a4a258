// Package client implements the terminal chat client: a Session that speaks
// the relay's raw-chunk protocol and a bubbletea interface on top of it.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

const (
	readBufferSize  = 1024
	usernamePrompt  = "Enter your username: "
	welcomePrefix   = "Welcome to PyChat, "
	clearScreen     = "\033c"
	timestampLayout = "15:04:05"
	exitCommand     = "!exit"
)

// ErrNotLoggedIn is returned by Send before Login.
var ErrNotLoggedIn = errors.New("not logged in")

// welcomePattern matches the welcome line at the start of a chunk, which may
// carry further messages after it.
var welcomePattern = regexp.MustCompile(`^` + regexp.QuoteMeta(welcomePrefix) + `(.*?)!`)

// Session is one connection to a chat server. It keeps the chat history the
// way the user sees it: everything received plus a local echo of own lines.
type Session struct {
	conn net.Conn
	now  func() time.Time

	mu       sync.Mutex
	username string
	history  []string
	loggedIn bool
	err      error

	updates   chan struct{}
	closeOnce sync.Once
}

// Dial connects to a chat server at addr.
func Dial(ctx context.Context, addr string) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	return NewSession(conn), nil
}

// NewSession wraps an established connection.
func NewSession(conn net.Conn) *Session {
	return &Session{
		conn:    conn,
		now:     time.Now,
		updates: make(chan struct{}, 1),
	}
}

// Login answers the username prompt and starts receiving. A blank username
// is sent as a single space so the server assigns its default name.
func (s *Session) Login(username string) error {
	username = strings.TrimSpace(username)
	answer := username
	if answer == "" {
		answer = " "
	}
	if _, err := io.WriteString(s.conn, answer); err != nil {
		return fmt.Errorf("send username: %w", err)
	}

	s.mu.Lock()
	s.username = username
	s.loggedIn = true
	s.mu.Unlock()

	go s.receive()
	return nil
}

// Send transmits text. Chat lines are echoed into the local history with a
// timestamp; commands are sent as they are.
func (s *Session) Send(text string) error {
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if !s.loggedIn {
		s.mu.Unlock()
		return ErrNotLoggedIn
	}
	if !strings.HasPrefix(text, "!") {
		s.history = append(s.history, fmt.Sprintf("[%s] %s: %s", s.now().Format(timestampLayout), s.username, text))
	}
	s.mu.Unlock()

	if _, err := io.WriteString(s.conn, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// History returns a copy of the chat history.
func (s *Session) History() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

// Username returns the name the server welcomed us with, or the requested one
// until the welcome arrives.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Updates signals history changes. It is closed when the connection ends.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// Err returns the error that ended the session, nil for an orderly close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close closes the connection.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

func (s *Session) receive() {
	defer close(s.updates)

	buf := make([]byte, readBufferSize)
	var pending []byte
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			cut := completeRunes(pending)
			s.handle(string(pending[:cut]))
			pending = append(pending[:0], pending[cut:]...)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
				log.Debugf("Error receiving message: %v", err)
			}
			return
		}
	}
}

func (s *Session) handle(text string) {
	text = strings.TrimPrefix(text, usernamePrompt)

	s.mu.Lock()
	if i := strings.LastIndex(text, clearScreen); i >= 0 {
		s.history = nil
		text = text[i+len(clearScreen):]
	}
	if text == "" {
		s.mu.Unlock()
		s.notify()
		return
	}
	if m := welcomePattern.FindStringSubmatch(text); m != nil {
		s.username = m[1]
	}
	s.history = append(s.history, text)
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// completeRunes returns the length of the longest prefix of b that does not
// end inside a multi-byte sequence.
func completeRunes(b []byte) int {
	for i := len(b) - 1; i >= 0 && i >= len(b)-utf8.UTFMax; i-- {
		if utf8.RuneStart(b[i]) {
			if utf8.FullRune(b[i:]) {
				return len(b)
			}
			return i
		}
	}
	return len(b)
}
