package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/vaultswap/internal/domain"
)

// ViewBus fans refreshed views out to every process subscribed to the same
// Redis Pub/Sub channel, so any serve instance can stream views produced by a
// watcher elsewhere.
type ViewBus struct {
	c       *Client
	channel string
}

// NewViewBus creates a ViewBus publishing on the prefixed "views" channel.
func NewViewBus(c *Client) *ViewBus {
	return &ViewBus{c: c, channel: c.Key("views")}
}

// Publish broadcasts v.
func (b *ViewBus) Publish(ctx context.Context, v *domain.View) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal view: %w", err)
	}
	if err := b.c.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", b.channel, err)
	}
	return nil
}

// Subscribe returns a channel of views that closes when ctx ends. Malformed
// payloads are skipped.
func (b *ViewBus) Subscribe(ctx context.Context) (<-chan *domain.View, error) {
	pubsub := b.c.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", b.channel, err)
	}

	out := make(chan *domain.View, 64)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var v domain.View
				if err := json.Unmarshal([]byte(msg.Payload), &v); err != nil {
					continue
				}
				select {
				case out <- &v:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
