package realtime

import (
	"sync"
	"time"

	"pulse/cmd/internal/apps"
	v1 "pulse/shared/contracts/pusher/v1"

	"golang.org/x/time/rate"
)

const defaultSendQueueSize = 64

// Conn is one admitted client connection.
//
// Design notes:
//   - Send is never closed by the engine so concurrent fan-out cannot panic.
//   - done is closed exactly once; fan-out skips connections that are shutting down.
//   - App is the snapshot taken at admission; it is never mutated.
type Conn struct {
	SocketID string
	App      apps.App
	Send     chan v1.Frame

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeMsg  string

	mu       sync.Mutex
	released bool
	channels map[string]struct{}

	// nil when the app does not cap client events.
	events *rate.Limiter
}

// NewConn constructs a Conn with a bounded send queue.
func NewConn(socketID string, app apps.App, sendQueueSize int) *Conn {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	c := &Conn{
		SocketID: socketID,
		App:      app,
		Send:     make(chan v1.Frame, sendQueueSize),
		done:     make(chan struct{}),
		channels: make(map[string]struct{}),
	}
	if n := app.MaxClientEventsPerSecond; n > 0 {
		c.events = rate.NewLimiter(rate.Limit(n), n)
	}
	return c
}

// Done returns a channel that is closed when the connection is shutting down.
func (c *Conn) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals shutdown with a normal status (idempotent).
func (c *Conn) Close() {
	c.CloseWith(0, "")
}

// CloseWith signals shutdown and records the close status for the transport.
// Only the first call wins. It does NOT close Send.
func (c *Conn) CloseWith(code int, reason string) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeMsg = reason
		close(c.done)
	})
}

// CloseStatus returns the status recorded by CloseWith. Valid after Done is closed.
func (c *Conn) CloseStatus() (int, string) {
	select {
	case <-c.done:
		return c.closeCode, c.closeMsg
	default:
		return 0, ""
	}
}

// IsSubscribed reports whether the connection currently belongs to channel.
func (c *Conn) IsSubscribed(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.channels[channel]
	return ok
}

// Channels returns the channels the connection is subscribed to.
func (c *Conn) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.channels))
	for name := range c.channels {
		out = append(out, name)
	}
	return out
}

// deliver enqueues f without blocking.
// It returns false only when the queue is full; closed connections are skipped silently.
func (c *Conn) deliver(f v1.Frame) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.Send <- f:
		return true
	default:
		return false
	}
}

// attach records channel membership unless the connection was released.
func (c *Conn) attach(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	c.channels[channel] = struct{}{}
	return true
}

func (c *Conn) detach(channel string) {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
}

// markReleased flips the connection into the released state and returns the
// channels it still belongs to. ok is false when it was already released.
func (c *Conn) markReleased() (channels []string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, false
	}
	c.released = true
	channels = make([]string, 0, len(c.channels))
	for name := range c.channels {
		channels = append(channels, name)
	}
	return channels, true
}

func (c *Conn) allowClientEvent(now time.Time) bool {
	if c.events == nil {
		return true
	}
	return c.events.AllowN(now, 1)
}
