package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrConnClosed is returned when delivering to a connection that has been closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when a connection's outbound buffer is full.
	ErrSlowConsumer = errors.New("outbound buffer full")
)

// ConnState is the lifecycle state of a connection.
type ConnState int32

const (
	StateOpen ConnState = iota
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one registered peer. Events reach the peer through a bounded
// outbound channel that the transport drains in order.
type Conn struct {
	id        string
	remote    string
	createdAt time.Time

	mu     sync.RWMutex
	closed bool
	send   chan Event
}

func newConn(remote string, buffer int) *Conn {
	if buffer < 1 {
		buffer = 1
	}
	return &Conn{
		id:        uuid.NewString(),
		remote:    remote,
		createdAt: time.Now(),
		send:      make(chan Event, buffer),
	}
}

// ID returns the opaque connection identifier.
func (c *Conn) ID() string { return c.id }

// Remote returns the peer label given at connect time.
func (c *Conn) Remote() string { return c.remote }

// CreatedAt returns when the connection was accepted.
func (c *Conn) CreatedAt() time.Time { return c.createdAt }

// State reports whether the connection is still open.
func (c *Conn) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return StateClosed
	}
	return StateOpen
}

// Outbound is drained by the transport writer. It is closed by Close.
func (c *Conn) Outbound() <-chan Event { return c.send }

// Send enqueues ev without blocking.
func (c *Conn) Send(ev Event) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- ev:
		return nil
	default:
		return ErrSlowConsumer
	}
}

// Close marks the connection closed and closes the outbound channel. Safe to call more than once.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
