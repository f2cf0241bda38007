package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/erawatcher/internal/infra/bus"
)

// Bus implements bus.Bus on Redis Pub/Sub.
type Bus struct {
	client *Client
	log    *slog.Logger
}

// NewBus creates a Pub/Sub bus on top of client.
func NewBus(client *Client) *Bus {
	return &Bus{
		client: client,
		log:    slog.Default().With("component", "redis-bus"),
	}
}

// Publish encodes m and publishes it on its channel.
func (b *Bus) Publish(ctx context.Context, m bus.Message) error {
	payload, err := bus.Encode(m)
	if err != nil {
		return err
	}
	if err := b.client.rdb.Publish(ctx, b.client.key(m.Channel()), payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", m.Channel(), err)
	}
	return nil
}

// Subscribe opens a Pub/Sub subscription on channels.
func (b *Bus) Subscribe(ctx context.Context, channels ...string) (bus.Subscription, error) {
	names := make([]string, len(channels))
	for i, c := range channels {
		names[i] = b.client.key(c)
	}

	ps := b.client.rdb.Subscribe(ctx, names...)
	// Wait for the subscription confirmation so no message published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", strings.Join(channels, ","), err)
	}

	s := &subscription{
		ps:  ps,
		out: make(chan bus.Message, 1024),
		log: b.log,
	}
	go s.pump(ctx)
	return s, nil
}

type subscription struct {
	ps   *redis.PubSub
	out  chan bus.Message
	log  *slog.Logger
	once sync.Once
}

func (s *subscription) Messages() <-chan bus.Message { return s.out }

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		err = s.ps.Close()
	})
	return err
}

func (s *subscription) pump(ctx context.Context) {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = s.Close()
			return
		case raw, ok := <-in:
			if !ok {
				return
			}
			m, err := bus.Decode([]byte(raw.Payload))
			if err != nil {
				s.log.Warn("Dropping undecodable message", "channel", raw.Channel, "error", err)
				continue
			}
			select {
			case s.out <- m:
			case <-ctx.Done():
				_ = s.Close()
				return
			}
		}
	}
}
