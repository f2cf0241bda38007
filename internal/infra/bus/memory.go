package bus

import (
	"context"
	"log/slog"
	"sync"
)

const memoryBuffer = 4096

// MemoryBus is an in-process Bus for tests and single-process mode.
// Delivery mirrors pub/sub: only live subscribers receive a message.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySub]struct{}
	log  *slog.Logger
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[*memorySub]struct{}),
		log:  slog.Default().With("component", "memory-bus"),
	}
}

type memorySub struct {
	bus      *MemoryBus
	channels []string
	ch       chan Message
	once     sync.Once
	done     chan struct{}
}

func (s *memorySub) Messages() <-chan Message { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		for _, c := range s.channels {
			delete(s.bus.subs[c], s)
		}
		s.bus.mu.Unlock()
		close(s.done)
	})
	return nil
}

// Publish delivers m to every subscriber of its channel.
func (b *MemoryBus) Publish(ctx context.Context, m Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs[m.Channel()] {
		select {
		case s.ch <- m:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		default:
			b.log.Warn("Subscriber buffer full, dropping message", "channel", m.Channel())
		}
	}
	return nil
}

// Subscribe registers a subscriber on channels.
func (b *MemoryBus) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	s := &memorySub{
		bus:      b,
		channels: channels,
		ch:       make(chan Message, memoryBuffer),
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	for _, c := range channels {
		if b.subs[c] == nil {
			b.subs[c] = make(map[*memorySub]struct{})
		}
		b.subs[c][s] = struct{}{}
	}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}
