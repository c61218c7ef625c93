package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/go-redis/redis/v8"
)

type RedisBroadcaster struct {
	client *redis.Client
}

func NewRedisBroadcaster(addr, password string) *RedisBroadcaster {
	return &RedisBroadcaster{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       0,
		}),
	}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, channel string, event Event) error {
	if channel == "" {
		return fmt.Errorf("broadcast publish: channel required")
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("broadcast publish: marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, channel, string(payload)).Err(); err != nil {
		return fmt.Errorf("broadcast publish: redis publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe opens one pattern subscription covering all requested patterns
// and decodes incoming payloads onto the returned channel. The channel is
// closed when ctx is cancelled or the subscription drops.
func (b *RedisBroadcaster) Subscribe(ctx context.Context, patterns ...string) (<-chan Event, error) {
	if len(patterns) == 0 {
		return nil, fmt.Errorf("broadcast subscribe: at least one pattern required")
	}

	sub := b.client.PSubscribe(ctx, patterns...)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("broadcast subscribe: %w", err)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					log.Printf("broadcast: drop undecodable payload on %s: %v", msg.Channel, err)
					continue
				}
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}
