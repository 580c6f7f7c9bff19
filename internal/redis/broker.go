package redis

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mossy-p/sessionlink/internal/hub"
)

// Broker is a hub.Broker over Redis pub/sub. All subscriptions share one PubSub
// connection, so messages published by one node arrive in publish order.
type Broker struct {
	client *redis.Client
	prefix string
	ps     *redis.PubSub

	mu       sync.RWMutex
	handlers map[string]func([]byte)

	done chan struct{}
}

var _ hub.Broker = (*Broker)(nil)

// NewBroker starts the receive loop. prefix namespaces every channel.
func NewBroker(ctx context.Context, client *redis.Client, prefix string) *Broker {
	b := &Broker{
		client:   client,
		prefix:   prefix,
		ps:       client.Subscribe(ctx),
		handlers: make(map[string]func([]byte)),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.done)
	for msg := range b.ps.Channel() {
		b.mu.RLock()
		handler := b.handlers[msg.Channel]
		b.mu.RUnlock()

		if handler == nil {
			continue
		}
		handler([]byte(msg.Payload))
	}
	log.Debug().Str("module", "redis").Msg("pubsub receive loop stopped")
}

func (b *Broker) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.client.Publish(ctx, b.prefix+channel, payload).Err()
}

func (b *Broker) Subscribe(ctx context.Context, channel string, handler func([]byte)) error {
	b.mu.Lock()
	b.handlers[b.prefix+channel] = handler
	b.mu.Unlock()

	if err := b.ps.Subscribe(ctx, b.prefix+channel); err != nil {
		b.mu.Lock()
		delete(b.handlers, b.prefix+channel)
		b.mu.Unlock()
		return err
	}
	return nil
}

func (b *Broker) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	delete(b.handlers, b.prefix+channel)
	b.mu.Unlock()

	return b.ps.Unsubscribe(ctx, b.prefix+channel)
}

// Close stops the receive loop and waits for it to exit.
func (b *Broker) Close() error {
	err := b.ps.Close()
	<-b.done
	return err
}
