package nodepool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/erawatcher/internal/core/config"
	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/core/progress"
	"github.com/vietddude/erawatcher/internal/infra/casper"
)

// ===== Stub node =====

type stubNode struct {
	name   string
	height uint64
	err    error
	delay  time.Duration
	peers  []casper.Peer
	status casper.Status

	calls  atomic.Int32
	closed atomic.Bool
}

func (n *stubNode) Name() string { return n.name }

func (n *stubNode) Close() error {
	n.closed.Store(true)
	return nil
}

func (n *stubNode) Status() casper.Status { return n.status }

func (n *stubNode) GetLatestBlock(ctx context.Context) (*casper.Block, error) {
	n.calls.Add(1)
	if n.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(n.delay):
		}
	}
	if n.err != nil {
		return nil, n.err
	}
	return &casper.Block{Header: casper.BlockHeader{Height: n.height}}, nil
}

func (n *stubNode) GetBlock(ctx context.Context, height uint64) (*casper.Block, error) {
	n.calls.Add(1)
	if n.err != nil {
		return nil, n.err
	}
	return &casper.Block{Hash: n.name, Header: casper.BlockHeader{Height: height}}, nil
}

func (n *stubNode) GetDeploy(ctx context.Context, hash string) (*casper.DeployInfo, error) {
	return &casper.DeployInfo{}, n.err
}

func (n *stubNode) GetBlockState(ctx context.Context, root, key string, path []string) (*casper.StoredValue, error) {
	return &casper.StoredValue{}, n.err
}

func (n *stubNode) GetEraSwitchInfo(ctx context.Context, hash string) (*casper.EraSummary, error) {
	if n.delay > 0 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, n.err
}

func (n *stubNode) GetPeers(ctx context.Context) ([]casper.Peer, error) {
	if n.err != nil {
		return nil, n.err
	}
	return n.peers, nil
}

func testConfig(seeds ...string) config.NodesConfig {
	return config.NodesConfig{
		Seeds:            seeds,
		ProbeTimeout:     100 * time.Millisecond,
		ProbeConcurrency: 4,
		CallTimeout:      100 * time.Millisecond,
		MinQuorum:        1,
		ProbeRetry: config.RetryConfig{
			MaxAttempts:     3,
			InitialDelay:    time.Millisecond,
			MaxDelay:        5 * time.Millisecond,
			BackoffMultiple: 2,
		},
		BanPolicy: "none",
	}
}

func newTestPool(cfg config.NodesConfig, nodes ...*stubNode) *Pool {
	byName := make(map[string]*stubNode, len(nodes))
	for _, n := range nodes {
		byName[n.name] = n
	}
	p := New(cfg, progress.NewTracker(progress.NewMemoryStore()), func(ip string) Node {
		if n, ok := byName[ip]; ok {
			return n
		}
		return &stubNode{name: ip, err: errors.New("unreachable")}
	})

	var mu sync.Mutex
	clock := time.Unix(1_700_000_000, 0)
	p.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	return p
}

// ===== Tests =====

func TestProbe_RetainsOnlyNodesAtMaxHeight(t *testing.T) {
	a := &stubNode{name: "a", height: 100}
	b := &stubNode{name: "b", height: 102}
	c := &stubNode{name: "c", height: 102}
	d := &stubNode{name: "d", err: errors.New("connection refused")}
	slow := &stubNode{name: "slow", height: 500, delay: time.Second}

	p := newTestPool(testConfig("a", "b", "c", "d", "slow"), a, b, c, d, slow)

	height, err := p.Probe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(102), height)
	assert.ElementsMatch(t, []string{"b", "c"}, p.Retained())
	assert.Equal(t, uint64(102), p.Height())
}

func TestProbe_InsufficientQuorum(t *testing.T) {
	cfg := testConfig("a", "b", "c")
	cfg.MinQuorum = 2
	p := newTestPool(cfg,
		&stubNode{name: "a", height: 100},
		&stubNode{name: "b", height: 101},
		&stubNode{name: "c", err: errors.New("down")},
	)

	_, err := p.Probe(context.Background())
	assert.ErrorIs(t, err, domain.ErrInsufficientQuorum)
	assert.Empty(t, p.Retained())
}

func TestProbe_NoNodeAnswers(t *testing.T) {
	p := newTestPool(testConfig("x"))

	_, err := p.Probe(context.Background())
	assert.ErrorIs(t, err, domain.ErrInsufficientQuorum)
}

func TestProbeWithRetry_BacksOffThenGivesUp(t *testing.T) {
	cfg := testConfig("a")
	cfg.MinQuorum = 2
	a := &stubNode{name: "a", height: 10}
	p := newTestPool(cfg, a)

	var delays []time.Duration
	p.after = func(d time.Duration) <-chan time.Time {
		delays = append(delays, d)
		ch := make(chan time.Time, 1)
		ch <- time.Time{}
		return ch
	}

	_, err := p.ProbeWithRetry(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInsufficientQuorum)
	assert.Equal(t, int32(3), a.calls.Load())
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
}

func TestCalculateBackoff_CapsAtMaxDelay(t *testing.T) {
	cfg := config.RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, BackoffMultiple: 2}
	assert.Equal(t, time.Second, calculateBackoff(0, cfg))
	assert.Equal(t, 4*time.Second, calculateBackoff(2, cfg))
	assert.Equal(t, 5*time.Second, calculateBackoff(3, cfg))
}

func TestSelect_LeastRecentlyUsed(t *testing.T) {
	a := &stubNode{name: "a", height: 5}
	b := &stubNode{name: "b", height: 5}
	c := &stubNode{name: "c", height: 5}
	p := newTestPool(testConfig("a", "b", "c"), a, b, c)
	_, err := p.Probe(context.Background())
	require.NoError(t, err)

	ctx := context.Background()
	var picked []string
	for range 6 {
		n, err := p.Select(ctx)
		require.NoError(t, err)
		picked = append(picked, n.Name())
	}

	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, picked)
}

func TestSelect_SkipsThrottledNodes(t *testing.T) {
	a := &stubNode{name: "a", height: 5, status: casper.StatusThrottled}
	b := &stubNode{name: "b", height: 5}
	p := newTestPool(testConfig("a", "b"), a, b)
	_, err := p.Probe(context.Background())
	require.NoError(t, err)

	for range 3 {
		n, err := p.Select(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "b", n.Name())
	}
}

func TestSelect_EmptyPool(t *testing.T) {
	p := newTestPool(testConfig("a"), &stubNode{name: "a"})

	_, err := p.Select(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoHealthyNodes)
}

func TestCall_FailureBansNode(t *testing.T) {
	a := &stubNode{name: "a", height: 5}
	p := newTestPool(testConfig("a"), a)
	_, err := p.Probe(context.Background())
	require.NoError(t, err)

	a.err = errors.New("connection reset")
	_, err = p.GetBlock(context.Background(), 3)
	assert.ErrorIs(t, err, domain.ErrNodeUnavailable)
	assert.Equal(t, 1, p.Bans("a"))
	// default policy keeps the node selectable
	assert.Equal(t, []string{"a"}, p.Retained())
}

func TestCall_TimeoutBansNode(t *testing.T) {
	a := &stubNode{name: "a", height: 5}
	p := newTestPool(testConfig("a"), a)
	_, err := p.Probe(context.Background())
	require.NoError(t, err)

	a.delay = time.Hour
	_, err = p.GetEraSwitchInfo(context.Background(), "h")
	assert.ErrorIs(t, err, domain.ErrNodeUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, p.Bans("a"))
}

func TestCall_ExcludePolicyDropsNode(t *testing.T) {
	cfg := testConfig("a", "b")
	cfg.BanPolicy = string(BanExclude)
	a := &stubNode{name: "a", height: 5}
	b := &stubNode{name: "b", height: 5}
	p := newTestPool(cfg, a, b)
	_, err := p.Probe(context.Background())
	require.NoError(t, err)

	a.err = errors.New("boom")
	_, err = p.GetBlock(context.Background(), 1) // selects a first
	require.Error(t, err)
	assert.Equal(t, []string{"b"}, p.Retained())

	block, err := p.GetBlock(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "b", block.Hash)
}

func TestCall_RequestErrorDoesNotBan(t *testing.T) {
	a := &stubNode{name: "a", height: 5}
	p := newTestPool(testConfig("a"), a)
	_, err := p.Probe(context.Background())
	require.NoError(t, err)

	a.err = &casper.RPCError{Code: -32602, Message: "invalid params"}
	_, err = p.GetBlock(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNodeUnavailable)
	assert.Zero(t, p.Bans("a"))
}

func TestCall_MalformedResultDoesNotBan(t *testing.T) {
	a := &stubNode{name: "a", height: 5}
	p := newTestPool(testConfig("a"), a)
	_, err := p.Probe(context.Background())
	require.NoError(t, err)

	a.err = fmt.Errorf("decode chain_get_block result: %w", domain.ErrMalformedExecutionResult)
	_, err = p.GetBlock(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrMalformedExecutionResult)
	assert.NotErrorIs(t, err, domain.ErrNodeUnavailable)
	assert.Zero(t, p.Bans("a"))
	assert.Equal(t, []string{"a"}, p.Retained())
}

func TestRefreshPeers_AddsNewCandidates(t *testing.T) {
	a := &stubNode{name: "a", height: 5, peers: []casper.Peer{
		{Address: "10.0.0.2:35000"},
		{Address: "a:35000"},
	}}
	p := newTestPool(testConfig("a"), a)

	added, err := p.RefreshPeers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, []string{"a", "10.0.0.2"}, p.Candidates())
}

func TestRefreshPeers_AllFail(t *testing.T) {
	p := newTestPool(testConfig("a"), &stubNode{name: "a", err: errors.New("down")})

	_, err := p.RefreshPeers(context.Background())
	assert.Error(t, err)
}

func TestClose_ReleasesDialedNodes(t *testing.T) {
	a := &stubNode{name: "a", height: 5}
	b := &stubNode{name: "b", height: 5}
	p := newTestPool(testConfig("a", "b"), a, b)
	_, err := p.Probe(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())

	// a later call dials again
	_, err = p.GetBlock(context.Background(), 1)
	require.NoError(t, err)
}
