package client

import (
	"io"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"
)

const waitTimeout = 3 * time.Second

// fakeServer is the far end of a net.Pipe.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
}

func newPipeSession(t *testing.T) (*Session, *fakeServer) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	})
	s := NewSession(clientConn)
	s.now = func() time.Time { return time.Date(2024, 5, 1, 12, 30, 45, 0, time.UTC) }
	return s, &fakeServer{t: t, conn: serverConn}
}

// read returns the next chunk the client wrote.
func (f *fakeServer) read() string {
	f.t.Helper()
	if err := f.conn.SetReadDeadline(time.Now().Add(waitTimeout)); err != nil {
		f.t.Fatalf("Failed to set deadline: %v", err)
	}
	buf := make([]byte, 1024)
	n, err := f.conn.Read(buf)
	if err != nil {
		f.t.Fatalf("Server read failed: %v", err)
	}
	return string(buf[:n])
}

func (f *fakeServer) write(text string) {
	f.t.Helper()
	if err := f.conn.SetWriteDeadline(time.Now().Add(waitTimeout)); err != nil {
		f.t.Fatalf("Failed to set deadline: %v", err)
	}
	if _, err := io.WriteString(f.conn, text); err != nil {
		f.t.Fatalf("Server write failed: %v", err)
	}
}

// login runs the handshake and waits for the welcome line.
func login(t *testing.T, s *Session, f *fakeServer, username, welcomed string) {
	t.Helper()
	done := make(chan string, 1)
	go func() {
		buf := make([]byte, 1024)
		n, _ := f.conn.Read(buf)
		done <- string(buf[:n])
	}()
	if err := s.Login(username); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	select {
	case got := <-done:
		want := strings.TrimSpace(username)
		if want == "" {
			want = " "
		}
		if got != want {
			t.Fatalf("Server received username %q, want %q", got, want)
		}
	case <-time.After(waitTimeout):
		t.Fatal("Timed out waiting for the username")
	}
	f.write(usernamePrompt)
	f.write(welcomePrefix + welcomed + "!")
	waitHistory(t, s, func(h []string) bool { return len(h) == 1 })
}

func waitHistory(t *testing.T, s *Session, cond func([]string) bool) []string {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for {
		h := s.History()
		if cond(h) {
			return h
		}
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for history, have %q", h)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionLoginFiltersPrompt(t *testing.T) {
	s, f := newPipeSession(t)
	login(t, s, f, "alice", "alice")

	if got := s.History(); !reflect.DeepEqual(got, []string{"Welcome to PyChat, alice!"}) {
		t.Errorf("Unexpected history %q", got)
	}
}

func TestSessionBlankUsernameTakesServerName(t *testing.T) {
	s, f := newPipeSession(t)
	login(t, s, f, "  ", "User-50123")

	if s.Username() != "User-50123" {
		t.Errorf("Expected the welcomed name, got %q", s.Username())
	}
}

func TestSessionWelcomeSharedWithBroadcast(t *testing.T) {
	s, f := newPipeSession(t)
	login(t, s, f, "", "User-50123!carol has joined the chat")

	if s.Username() != "User-50123" {
		t.Errorf("Expected the welcomed name, got %q", s.Username())
	}
}

func TestSessionSendEchoesChatLines(t *testing.T) {
	s, f := newPipeSession(t)
	login(t, s, f, "alice", "alice")

	go func() { _ = s.Send("hello there") }()
	if got := f.read(); got != "hello there" {
		t.Errorf("Server received %q", got)
	}

	h := waitHistory(t, s, func(h []string) bool { return len(h) == 2 })
	if h[1] != "[12:30:45] alice: hello there" {
		t.Errorf("Unexpected echo %q", h[1])
	}
}

func TestSessionSendCommandsWithoutEcho(t *testing.T) {
	s, f := newPipeSession(t)
	login(t, s, f, "alice", "alice")

	go func() { _ = s.Send("!listpeople") }()
	if got := f.read(); got != "!listpeople" {
		t.Errorf("Server received %q", got)
	}
	if len(s.History()) != 1 {
		t.Errorf("Command was echoed: %q", s.History())
	}
}

func TestSessionSendBeforeLogin(t *testing.T) {
	s, _ := newPipeSession(t)
	if err := s.Send("hi"); err != ErrNotLoggedIn {
		t.Errorf("Expected ErrNotLoggedIn, got %v", err)
	}
}

func TestSessionClearScreen(t *testing.T) {
	s, f := newPipeSession(t)
	login(t, s, f, "alice", "alice")

	f.write("bob has joined the chat!")
	waitHistory(t, s, func(h []string) bool { return len(h) == 2 })

	f.write(clearScreen)
	waitHistory(t, s, func(h []string) bool { return len(h) == 0 })
}

func TestSessionJoinsSplitRune(t *testing.T) {
	s, f := newPipeSession(t)
	login(t, s, f, "alice", "alice")

	clover := "⌘"
	f.write(clover[:1])
	f.write(clover[1:] + " from bob")

	h := waitHistory(t, s, func(h []string) bool { return len(h) == 2 })
	if h[1] != "⌘ from bob" {
		t.Errorf("Unexpected line %q", h[1])
	}
}

func TestSessionUpdatesClosedOnDisconnect(t *testing.T) {
	s, f := newPipeSession(t)
	login(t, s, f, "alice", "alice")

	_ = f.conn.Close()

	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-s.Updates():
			if !ok {
				if s.Err() != nil {
					t.Errorf("Expected an orderly close, got %v", s.Err())
				}
				return
			}
		case <-deadline:
			t.Fatal("Updates was not closed")
		}
	}
}

func TestCompleteRunes(t *testing.T) {
	clover := []byte("⌘")
	tests := []struct {
		data []byte
		want int
	}{
		{[]byte("abc"), 3},
		{clover, 3},
		{clover[:2], 0},
		{append([]byte("ab"), clover[:1]...), 2},
		{[]byte{}, 0},
	}
	for _, tt := range tests {
		if got := completeRunes(tt.data); got != tt.want {
			t.Errorf("completeRunes(%v) = %d, want %d", tt.data, got, tt.want)
		}
	}
}
