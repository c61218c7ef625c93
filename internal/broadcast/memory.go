package broadcast

import (
	"context"
	"path"
	"sync"
)

// MemoryBroadcaster is a process-local Broadcaster used in tests and
// single-instance deployments. It mirrors the redis semantics: glob pattern
// matching and best-effort delivery that drops events when a subscriber's
// buffer is full.
type MemoryBroadcaster struct {
	mu     sync.Mutex
	subs   []*memorySubscriber
	closed bool
}

type memorySubscriber struct {
	patterns []string
	ch       chan Event
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{}
}

func (b *MemoryBroadcaster) Publish(ctx context.Context, channel string, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	for _, sub := range b.subs {
		if !sub.matches(channel) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber is not keeping up; at-most-once allows the drop.
		}
	}
	return nil
}

func (b *MemoryBroadcaster) Subscribe(ctx context.Context, patterns ...string) (<-chan Event, error) {
	sub := &memorySubscriber{
		patterns: patterns,
		ch:       make(chan Event, 64),
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		for i, s := range b.subs {
			if s == sub {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

func (b *MemoryBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (s *memorySubscriber) matches(channel string) bool {
	for _, pattern := range s.patterns {
		if ok, err := path.Match(pattern, channel); err == nil && ok {
			return true
		}
	}
	return false
}
