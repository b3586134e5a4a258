// Package server manages individual chat connections: chunked UTF-8 reads,
// serialized writes with a per-send deadline, and close-once lifecycle control.
package server

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tevino/abool"
)

// Conn represents one connected peer. Its identity is the pointer itself;
// usernames live in the Registry.
type Conn struct {
	id           string
	stream       Stream
	addr         net.Addr
	writeTimeout time.Duration

	// read side, owned by the connection handler goroutine
	buf     []byte
	pending []byte

	writeMu sync.Mutex
	closed  *abool.AtomicBool
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// NewConn wraps stream. Each Receive returns at most bufSize bytes of text.
func NewConn(stream Stream, bufSize int, writeTimeout time.Duration) *Conn {
	if bufSize <= 0 {
		bufSize = defaultReadBufferSize
	}
	return &Conn{
		id:           uuid.New().String(),
		stream:       stream,
		addr:         stream.RemoteAddr(),
		writeTimeout: writeTimeout,
		buf:          make([]byte, bufSize),
		closed:       abool.New(),
	}
}

// ID returns a unique identifier used in logs.
func (c *Conn) ID() string {
	return c.id
}

// Addr returns the remote address as text.
func (c *Conn) Addr() string {
	if c.addr == nil {
		return ""
	}
	return c.addr.String()
}

// RemoteIP returns the host part of the remote address.
func (c *Conn) RemoteIP() string {
	if c.addr == nil {
		return ""
	}
	if tcp, ok := c.addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(c.addr.String())
	if err != nil {
		return c.addr.String()
	}
	return host
}

// RemotePort returns the port part of the remote address, or "" if it has none.
func (c *Conn) RemotePort() string {
	if c.addr == nil {
		return ""
	}
	if tcp, ok := c.addr.(*net.TCPAddr); ok {
		return fmt.Sprint(tcp.Port)
	}
	_, port, err := net.SplitHostPort(c.addr.String())
	if err != nil {
		return ""
	}
	return port
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.IsSet()
}

// Send writes text to the peer. Concurrent calls are serialized.
func (c *Conn) Send(text string) error {
	if c.closed.IsSet() {
		return ErrConnClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if d, ok := c.stream.(writeDeadliner); ok && c.writeTimeout > 0 {
		if err := d.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline for %s: %w", c.Addr(), err)
		}
	}
	if _, err := io.WriteString(c.stream, text); err != nil {
		return fmt.Errorf("send to %s: %w", c.Addr(), err)
	}
	return nil
}

// Receive blocks for the next chunk of text. A multi-byte rune split across
// reads is held back until it is complete; an invalid sequence yields ErrInvalidUTF8.
// Only the connection handler may call Receive.
func (c *Conn) Receive() (string, error) {
	for {
		if c.closed.IsSet() {
			return "", ErrConnClosed
		}

		n, err := c.stream.Read(c.buf)
		if n > 0 {
			data := append(c.pending, c.buf[:n]...)
			text, rest, splitErr := splitUTF8(data)
			if splitErr != nil {
				return "", splitErr
			}
			c.pending = append([]byte(nil), rest...)
			if len(text) > 0 {
				return string(text), nil
			}
		}
		if err != nil {
			if c.closed.IsSet() {
				return "", ErrConnClosed
			}
			return "", err
		}
	}
}

// Close closes the underlying stream exactly once. Later calls return nil.
func (c *Conn) Close() error {
	if !c.closed.SetToIf(false, true) {
		return nil
	}
	return c.stream.Close()
}

func (c *Conn) logger() *log.Entry {
	return log.WithFields(log.Fields{"conn": c.id, "addr": c.Addr()})
}

// splitUTF8 separates data into a valid prefix and an incomplete trailing
// rune. Bytes that can never become valid UTF-8 yield ErrInvalidUTF8.
func splitUTF8(data []byte) (valid, rest []byte, err error) {
	cut := len(data)
	for i := len(data) - 1; i >= 0 && i >= len(data)-utf8.UTFMax; i-- {
		if utf8.RuneStart(data[i]) {
			if !utf8.FullRune(data[i:]) {
				cut = i
			}
			break
		}
	}
	if !utf8.Valid(data[:cut]) {
		return nil, nil, ErrInvalidUTF8
	}
	return data[:cut], data[cut:], nil
}
