package hub

import (
	"context"
	"sort"
	"sync"
)

// Broker carries frames between nodes. A node subscribes each channel at most once
// and fans deliveries out to its own connections.
type Broker interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) error
	Unsubscribe(ctx context.Context, channel string) error
	Close() error
}

// Roster is the cluster-wide view of which connections are in a room.
type Roster interface {
	Add(ctx context.Context, roomID, connID string) error
	Remove(ctx context.Context, roomID, connID string) error
	Members(ctx context.Context, roomID string) ([]string, error)
}

// Channel names.
func UserChannel(party string) string  { return "user:" + party }
func RoomChannel(roomID string) string { return "room:" + roomID }
func ConnChannel(connID string) string { return "conn:" + connID }

// MemoryBroker delivers synchronously inside Publish. Single node only.
type MemoryBroker struct {
	mu       sync.RWMutex
	handlers map[string]func([]byte)
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{handlers: make(map[string]func([]byte))}
}

func (b *MemoryBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	handler := b.handlers[channel]
	b.mu.RUnlock()

	if handler != nil {
		handler(payload)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(_ context.Context, channel string, handler func([]byte)) error {
	b.mu.Lock()
	b.handlers[channel] = handler
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) Unsubscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	delete(b.handlers, channel)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.handlers = make(map[string]func([]byte))
	b.mu.Unlock()
	return nil
}

// MemoryRoster keeps room membership in process.
type MemoryRoster struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

func NewMemoryRoster() *MemoryRoster {
	return &MemoryRoster{rooms: make(map[string]map[string]struct{})}
}

func (r *MemoryRoster) Add(_ context.Context, roomID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[connID] = struct{}{}
	return nil
}

func (r *MemoryRoster) Remove(_ context.Context, roomID, connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := r.rooms[roomID]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, roomID)
	}
	return nil
}

func (r *MemoryRoster) Members(_ context.Context, roomID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.rooms[roomID]))
	for id := range r.rooms[roomID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
