package notify

import (
	"context"

	"github.com/go-redis/redis/v8"
)

// RedisBus shares wake-ups across a fleet of worker processes, following
// the same "Config with a required Client" shape the pack's other
// Redis-backed stores use. Channel names are namespaced under a single
// key prefix to avoid colliding with unrelated pub/sub traffic on a
// shared Redis instance.
type RedisBus struct {
	client *redis.Client
	prefix string
}

// RedisBusConfig configures a RedisBus. Client is required.
type RedisBusConfig struct {
	Client *redis.Client
	// Prefix namespaces every channel this bus publishes or subscribes to.
	// Defaults to "dbos:notify:".
	Prefix string
}

// NewRedisBus returns a RedisBus backed by cfg.Client.
func NewRedisBus(cfg RedisBusConfig) *RedisBus {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "dbos:notify:"
	}
	return &RedisBus{client: cfg.Client, prefix: prefix}
}

func (b *RedisBus) key(channel string) string {
	return b.prefix + channel
}

func (b *RedisBus) Publish(ctx context.Context, channel string) error {
	return b.client.Publish(ctx, b.key(channel), "1").Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, channel string) (<-chan struct{}, func(), error) {
	pubsub := b.client.Subscribe(ctx, b.key(channel))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, err
	}

	out := make(chan struct{}, 1)
	msgCh := pubsub.Channel()
	done := make(chan struct{})

	go func() {
		for {
			select {
			case _, ok := <-msgCh:
				if !ok {
					return
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case <-done:
				return
			}
		}
	}()

	cancel := func() {
		close(done)
		_ = pubsub.Close()
	}
	return out, cancel, nil
}
