// Package fanout pushes full state snapshots to every connected client.
//
// Each subscriber owns a one-slot mailbox. A newer message replaces an older
// undelivered one, so a slow reader sees the latest state and never holds up
// the broadcaster or the other readers.
package fanout

import (
	"log/slog"
	"sync"

	"github.com/roach88/napper/internal/snapshot"
)

// Message is one broadcast: the state after the write that produced seq.
// Origin is the client id of the writer, empty for server-side writes.
type Message struct {
	Seq    int64             `json:"seq"`
	Origin string            `json:"origin"`
	State  snapshot.Snapshot `json:"state"`
}

// Hub tracks the open channels.
//
// Thread-safety: All methods are safe for concurrent use.
type Hub struct {
	mu       sync.RWMutex
	channels map[*Channel]struct{}
}

// NewHub creates a hub with no subscribers.
func NewHub() *Hub {
	return &Hub{channels: make(map[*Channel]struct{})}
}

// Subscribe opens a channel for clientID. The caller must Close it.
func (h *Hub) Subscribe(clientID string) *Channel {
	c := &Channel{
		hub:      h,
		clientID: clientID,
		box:      make(chan Message, 1),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.channels[c] = struct{}{}
	n := len(h.channels)
	h.mu.Unlock()

	slog.Debug("stream subscribed", "client", clientID, "channels", n)
	return c
}

// Broadcast offers m to every open channel. It never blocks on a reader.
func (h *Hub) Broadcast(m Message) {
	h.mu.RLock()
	targets := make([]*Channel, 0, len(h.channels))
	for c := range h.channels {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.Offer(m)
	}
}

// Len returns the number of open channels.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

func (h *Hub) remove(c *Channel) {
	h.mu.Lock()
	delete(h.channels, c)
	n := len(h.channels)
	h.mu.Unlock()

	slog.Debug("stream closed", "client", c.clientID, "channels", n)
}

// Channel is one subscriber's mailbox.
type Channel struct {
	hub      *Hub
	clientID string

	mu     sync.Mutex
	closed bool
	box    chan Message // buffered, size 1
	done   chan struct{}
}

// ClientID is the id given to Subscribe.
func (c *Channel) ClientID() string { return c.clientID }

// Offer puts m in the mailbox, replacing any message not yet received.
// Offers after Close are dropped.
func (c *Channel) Offer(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	// Only Offer sends, and it holds mu, so after draining the send below
	// cannot block.
	select {
	case <-c.box:
	default:
	}
	c.box <- m
}

// C delivers messages. It is never closed; select on Done as well.
func (c *Channel) C() <-chan Message { return c.box }

// Done is closed once the channel is closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close detaches the channel from its hub. Safe to call more than once and
// concurrently with Broadcast.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	c.hub.remove(c)
}
