package server

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"time"
)

type fakeAddr string

func (a fakeAddr) Network() string { return "tcp" }
func (a fakeAddr) String() string  { return string(a) }

// fakeStream is an in-memory Stream. Reads are fed through feed; writes are
// recorded and can be made to fail.
type fakeStream struct {
	addr net.Addr

	in      chan []byte
	pending []byte

	mu         sync.Mutex
	out        bytes.Buffer
	failWrites bool
	closeCount int

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream(addr string) *fakeStream {
	return &fakeStream{
		addr:   fakeAddr(addr),
		in:     make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (f *fakeStream) feed(data []byte) {
	f.in <- data
}

func (f *fakeStream) Read(p []byte) (int, error) {
	if len(f.pending) == 0 {
		select {
		case data, ok := <-f.in:
			if !ok {
				return 0, io.EOF
			}
			f.pending = data
		case <-f.closed:
			return 0, net.ErrClosed
		}
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeStream) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.closed:
		return 0, net.ErrClosed
	default:
	}
	if f.failWrites {
		return 0, errors.New("write: connection refused")
	}
	return f.out.Write(p)
}

func (f *fakeStream) SetWriteDeadline(time.Time) error {
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	f.closeCount++
	f.mu.Unlock()
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) RemoteAddr() net.Addr {
	return f.addr
}

func (f *fakeStream) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.String()
}

func (f *fakeStream) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCount
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func (f *fakeStream) setFailWrites(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = fail
}

// newTestConn returns a Conn over a fakeStream at addr.
func newTestConn(addr string) (*Conn, *fakeStream) {
	stream := newFakeStream(addr)
	return NewConn(stream, defaultReadBufferSize, time.Second), stream
}
