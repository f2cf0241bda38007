package bus

import (
	"context"
)

// Bus publishes messages and opens subscriptions on channels.
type Bus interface {
	// Publish sends m on m.Channel().
	Publish(ctx context.Context, m Message) error

	// Subscribe starts receiving messages sent on any of the channels.
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)
}

// Subscription delivers messages until it is closed or its context ends.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Handler holds one callback per message variant. Nil callbacks ignore the variant.
type Handler struct {
	OnRegister func(ctx context.Context, m Register)
	OnAssign   func(ctx context.Context, m Assign)
	OnControl  func(ctx context.Context, m Control)
	OnAck      func(ctx context.Context, m Ack)
}

// Dispatch routes m to the matching callback.
func (h Handler) Dispatch(ctx context.Context, m Message) {
	switch v := m.(type) {
	case Register:
		if h.OnRegister != nil {
			h.OnRegister(ctx, v)
		}
	case Assign:
		if h.OnAssign != nil {
			h.OnAssign(ctx, v)
		}
	case Control:
		if h.OnControl != nil {
			h.OnControl(ctx, v)
		}
	case Ack:
		if h.OnAck != nil {
			h.OnAck(ctx, v)
		}
	}
}

// Listen dispatches every message of sub until ctx ends or the subscription closes.
func Listen(ctx context.Context, sub Subscription, h Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-sub.Messages():
			if !ok {
				return
			}
			h.Dispatch(ctx, m)
		}
	}
}
