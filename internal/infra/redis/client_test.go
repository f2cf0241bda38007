package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/erawatcher/internal/core/progress"
	"github.com/vietddude/erawatcher/internal/infra/bus"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(Config{URL: "redis://" + mr.Addr(), Prefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestClient_KV(t *testing.T) {
	ctx := context.Background()
	c, mr := newTestClient(t)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "crawled:1", "true", 0))
	val, ok, err := c.Get(ctx, "crawled:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "true", val)
	assert.True(t, mr.Exists("test:crawled:1"), "keys are prefixed")

	require.NoError(t, c.Set(ctx, "calculating", "true", time.Minute))
	mr.FastForward(2 * time.Minute)
	_, ok, err = c.Get(ctx, "calculating")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Delete(ctx, "crawled:1"))
	_, ok, err = c.Get(ctx, "crawled:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_AsProgressStore(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	tr := progress.NewTracker(c)

	require.NoError(t, tr.SetLastCalculatedHeight(ctx, 99))
	h, err := tr.LastCalculatedHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(99), h)
}

func TestNewClient_BadURL(t *testing.T) {
	_, err := NewClient(Config{URL: "::bad"})
	assert.Error(t, err)
}

func TestBus_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, _ := newTestClient(t)
	b := NewBus(c)

	sub, err := b.Subscribe(ctx, bus.ChannelRegister, bus.AssignChannel("w1"))
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, b.Publish(ctx, bus.Register{WorkerID: "w1"}))
	require.NoError(t, b.Publish(ctx, bus.Assign{WorkerID: "w2", Height: 8}))
	require.NoError(t, b.Publish(ctx, bus.Assign{WorkerID: "w1", Height: 7}))

	var got []bus.Message
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case m := <-sub.Messages():
			got = append(got, m)
		case <-timeout:
			t.Fatalf("received %d of 2 messages", len(got))
		}
	}
	assert.Equal(t, bus.Register{WorkerID: "w1"}, got[0])
	assert.Equal(t, bus.Assign{WorkerID: "w1", Height: 7}, got[1])
}
