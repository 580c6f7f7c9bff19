package hub

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mossy-p/sessionlink/internal/models"
)

var (
	// ErrBackpressure means the connection's send buffer is full.
	ErrBackpressure = errors.New("send buffer full")
	// ErrClosed means the connection has been unregistered.
	ErrClosed = errors.New("connection closed")
)

// Client is one live connection bound to one authenticated party. The transport
// drains Send and writes each message to the wire.
type Client struct {
	ID    string
	Party string
	Role  models.Role
	Name  string

	send chan []byte

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// NewClient creates a connection for party with a fresh connection id.
func NewClient(party models.Party, buffer int) *Client {
	if buffer <= 0 {
		buffer = 256
	}
	return &Client{
		ID:    uuid.New().String(),
		Party: party.ID,
		Role:  party.Role,
		Name:  party.Name,
		send:  make(chan []byte, buffer),
		rooms: make(map[string]struct{}),
	}
}

// Send is closed when the hub unregisters the client.
func (c *Client) Send() <-chan []byte {
	return c.send
}

// TrySend queues msg without blocking.
func (c *Client) TrySend(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) InRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[roomID]
	return ok
}

// Rooms returns the joined room ids in sorted order.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (c *Client) addRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) removeRoom(roomID string) {
	c.mu.Lock()
	delete(c.rooms, roomID)
	c.mu.Unlock()
}

// close marks the client gone and closes Send. Only the first call returns true.
func (c *Client) close() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}
