package server

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
)

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("Timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func newHandlerServer(t *testing.T) *Server {
	t.Helper()
	srv := New(Config{WriteTimeout: time.Second}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Logf("Server shutdown: %v", err)
		}
	})
	return srv
}

func activeHandlers(srv *Server) int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.conns)
}

// join runs a connection handler over a fake stream and logs in as username.
func join(t *testing.T, srv *Server, username string, port int) *fakeStream {
	t.Helper()
	stream := newFakeStream(fmt.Sprintf("10.0.0.1:%d", port))
	want := srv.Registry().Len() + 1
	go srv.ServeConn(stream)
	stream.feed([]byte(username))
	waitUntil(t, username+" to register", func() bool {
		return srv.Registry().Len() == want
	})
	return stream
}

// TestServeConnAnnouncesPrunedPeer verifies a peer dropped after a failed send
// is announced to the room exactly once while its handler winds down.
func TestServeConnAnnouncesPrunedPeer(t *testing.T) {
	srv := newHandlerServer(t)
	alice := join(t, srv, "alice", 40001)
	bob := join(t, srv, "bob", 40002)
	carol := join(t, srv, "carol", 40003)

	carol.setFailWrites(true)
	alice.feed([]byte("hello"))

	waitUntil(t, "bob to hear carol left", func() bool {
		return strings.Contains(bob.written(), "carol has left the chat.")
	})
	waitUntil(t, "carol's handler to finish", func() bool {
		return activeHandlers(srv) == 2
	})

	if !carol.isClosed() {
		t.Error("carol's stream was not closed")
	}
	if users := srv.Registry().Usernames(); len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Errorf("Unexpected registry contents %v", users)
	}
	for name, stream := range map[string]*fakeStream{"alice": alice, "bob": bob} {
		if n := strings.Count(stream.written(), "carol has left the chat."); n != 1 {
			t.Errorf("%s saw %d departure notices, want 1", name, n)
		}
	}
	if !strings.Contains(bob.written(), "alice: hello") {
		t.Errorf("bob missed the chat line: %q", bob.written())
	}
}

// TestServeConnWelcomeFailureIsSilent verifies a peer whose welcome cannot be
// delivered is neither left registered nor announced as leaving.
func TestServeConnWelcomeFailureIsSilent(t *testing.T) {
	srv := newHandlerServer(t)
	alice := join(t, srv, "alice", 40001)

	ghost := newFakeStream("10.0.0.2:40002")
	go srv.ServeConn(ghost)
	waitUntil(t, "the username prompt", func() bool {
		return ghost.written() == usernamePrompt
	})
	ghost.setFailWrites(true)
	ghost.feed([]byte("ghost"))

	waitUntil(t, "ghost's handler to finish", func() bool {
		return activeHandlers(srv) == 1
	})

	if got := alice.written(); strings.Contains(got, "ghost") {
		t.Errorf("alice was told about ghost: %q", got)
	}
	if srv.Registry().Len() != 1 {
		t.Errorf("Unexpected registry contents %v", srv.Registry().Usernames())
	}
	if !ghost.isClosed() {
		t.Error("ghost's stream was not closed")
	}
}
