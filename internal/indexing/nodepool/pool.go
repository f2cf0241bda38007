// Package nodepool selects healthy RPC nodes from an untrusted candidate list.
//
// A probe asks every candidate for its latest block and retains only the
// nodes at the highest reported height. Calls are then spread over the
// retained set, least recently used first, using the lastQueried markers of
// the progress store so several processes share the same view.
package nodepool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/erawatcher/internal/core/config"
	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/core/progress"
	"github.com/vietddude/erawatcher/internal/indexing/metrics"
	"github.com/vietddude/erawatcher/internal/infra/casper"
)

// lastQueriedTTL bounds how long a node's last-used marker lives in the store.
const lastQueriedTTL = time.Hour

// BanPolicy decides what a ban does.
type BanPolicy string

const (
	// BanNone only counts bans; the node stays selectable.
	BanNone BanPolicy = "none"
	// BanExclude removes the node from the retained set until the next probe.
	BanExclude BanPolicy = "exclude"
)

// Node is the RPC surface of one chain node.
type Node interface {
	Name() string
	GetBlock(ctx context.Context, height uint64) (*casper.Block, error)
	GetLatestBlock(ctx context.Context) (*casper.Block, error)
	GetDeploy(ctx context.Context, hash string) (*casper.DeployInfo, error)
	GetBlockState(ctx context.Context, stateRootHash, key string, path []string) (*casper.StoredValue, error)
	GetEraSwitchInfo(ctx context.Context, blockHash string) (*casper.EraSummary, error)
	GetPeers(ctx context.Context) ([]casper.Peer, error)
}

// statusReporter is implemented by nodes that track their own throttling.
type statusReporter interface {
	Status() casper.Status
}

// Dialer creates the Node for a candidate address.
type Dialer func(ip string) Node

// CasperDialer dials nodes over JSON-RPC at http://<ip>:<port><path>.
func CasperDialer(port int, path string, rps int) Dialer {
	return func(ip string) Node {
		endpoint := fmt.Sprintf("http://%s:%d%s", ip, port, path)
		return casper.NewClient(ip, endpoint, casper.WithRateLimit(rps))
	}
}

// Stats is a snapshot of the pool.
type Stats struct {
	Candidates int
	Retained   []string
	Height     uint64
	Bans       int
}

// Pool is the node pool manager.
type Pool struct {
	cfg     config.NodesConfig
	policy  BanPolicy
	tracker *progress.Tracker
	dial    Dialer
	logger  *slog.Logger

	mu         sync.RWMutex
	candidates []string
	known      map[string]struct{}
	nodes      map[string]Node
	retained   []string
	height     uint64
	bans       map[string]int

	// selectMu serializes the read-then-touch of lastQueried within a process.
	selectMu sync.Mutex

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a pool seeded with cfg.Seeds.
func New(cfg config.NodesConfig, tracker *progress.Tracker, dial Dialer) *Pool {
	p := &Pool{
		cfg:     cfg,
		policy:  BanPolicy(cfg.BanPolicy),
		tracker: tracker,
		dial:    dial,
		logger:  slog.Default().With("component", "nodepool"),
		known:   make(map[string]struct{}),
		nodes:   make(map[string]Node),
		bans:    make(map[string]int),
		now:     time.Now,
		after:   time.After,
	}
	if p.policy == "" {
		p.policy = BanNone
	}
	p.AddCandidates(cfg.Seeds...)
	return p
}

// AddCandidates adds unseen addresses and returns how many were new.
func (p *Pool) AddCandidates(ips ...string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	added := 0
	for _, ip := range ips {
		if ip == "" {
			continue
		}
		if _, ok := p.known[ip]; ok {
			continue
		}
		p.known[ip] = struct{}{}
		p.candidates = append(p.candidates, ip)
		added++
	}
	return added
}

// Candidates returns every known address.
func (p *Pool) Candidates() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.candidates)
}

// Retained returns the nodes kept by the last probe.
func (p *Pool) Retained() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Clone(p.retained)
}

// Height returns the chain height agreed on by the last probe.
func (p *Pool) Height() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.height
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	total := 0
	for _, n := range p.bans {
		total += n
	}
	return Stats{
		Candidates: len(p.candidates),
		Retained:   slices.Clone(p.retained),
		Height:     p.height,
		Bans:       total,
	}
}

func (p *Pool) node(ip string) Node {
	p.mu.Lock()
	defer p.mu.Unlock()

	n, ok := p.nodes[ip]
	if !ok {
		n = p.dial(ip)
		p.nodes[ip] = n
	}
	return n
}

// Close releases the connections of every dialed node.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for ip, n := range p.nodes {
		if c, ok := n.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", ip, err))
			}
		}
		delete(p.nodes, ip)
	}
	return errors.Join(errs...)
}

// Probe queries every candidate concurrently and retains the nodes at the
// maximum observed height. It fails with domain.ErrInsufficientQuorum when
// fewer than MinQuorum nodes are retained; the previous retained set is kept.
func (p *Pool) Probe(ctx context.Context) (uint64, error) {
	candidates := p.Candidates()
	heights := make([]uint64, len(candidates))
	healthy := make([]bool, len(candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(p.cfg.ProbeConcurrency, 1))
	for i, ip := range candidates {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, p.cfg.ProbeTimeout)
			defer cancel()

			block, err := p.node(ip).GetLatestBlock(pctx)
			if err != nil {
				metrics.ProbeResults.WithLabelValues("error").Inc()
				p.logger.Debug("Probe failed", "node", ip, "error", err)
				return nil
			}
			metrics.ProbeResults.WithLabelValues("ok").Inc()
			heights[i] = block.Header.Height
			healthy[i] = true
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var top uint64
	answered := 0
	for i := range candidates {
		if healthy[i] {
			answered++
			top = max(top, heights[i])
		}
	}

	var retained []string
	for i, ip := range candidates {
		if healthy[i] && heights[i] == top {
			retained = append(retained, ip)
		}
	}

	if answered == 0 || len(retained) < p.cfg.MinQuorum {
		return 0, fmt.Errorf("%w: %d of %d candidates at height %d, need %d",
			domain.ErrInsufficientQuorum, len(retained), len(candidates), top, p.cfg.MinQuorum)
	}

	p.mu.Lock()
	p.retained = retained
	p.height = top
	p.mu.Unlock()

	metrics.HealthyNodes.Set(float64(len(retained)))
	metrics.ChainLatestBlock.Set(float64(top))
	p.logger.Info("Probe complete",
		"height", top,
		"retained", len(retained),
		"answered", answered,
		"candidates", len(candidates),
	)
	return top, nil
}

// Select returns the retained node that was queried least recently and marks
// it as queried now. Throttled or blocked nodes are skipped.
func (p *Pool) Select(ctx context.Context) (Node, error) {
	p.selectMu.Lock()
	defer p.selectMu.Unlock()

	var (
		best   string
		bestAt time.Time
	)
	for _, ip := range p.Retained() {
		if r, ok := p.node(ip).(statusReporter); ok && r.Status() >= casper.StatusThrottled {
			continue
		}
		at, err := p.tracker.LastQueried(ctx, ip)
		if err != nil {
			return nil, err
		}
		if best == "" || at.Before(bestAt) {
			best, bestAt = ip, at
		}
	}
	if best == "" {
		return nil, domain.ErrNoHealthyNodes
	}

	if err := p.tracker.TouchQueried(ctx, best, p.now(), lastQueriedTTL); err != nil {
		return nil, err
	}
	return p.node(best), nil
}

// Ban reports a failed call against a node.
func (p *Pool) Ban(ip string, reason error) {
	p.mu.Lock()
	p.bans[ip]++
	if p.policy == BanExclude {
		p.retained = slices.DeleteFunc(p.retained, func(s string) bool { return s == ip })
	}
	retained := len(p.retained)
	p.mu.Unlock()

	metrics.NodeBans.Inc()
	metrics.HealthyNodes.Set(float64(retained))
	p.logger.Debug("Node banned", "node", ip, "policy", p.policy, "error", reason)
}

// Bans returns how often ip was banned.
func (p *Pool) Bans(ip string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.bans[ip]
}

// RefreshPeers extends the candidate list with the peers of a retained node,
// falling back to the other candidates when none answers.
func (p *Pool) RefreshPeers(ctx context.Context) (int, error) {
	targets := p.Retained()
	if len(targets) == 0 {
		targets = p.Candidates()
	}

	var lastErr error
	for _, ip := range targets {
		cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		peers, err := p.node(ip).GetPeers(cctx)
		cancel()
		if err != nil {
			lastErr = err
			continue
		}

		hosts := make([]string, 0, len(peers))
		for _, peer := range peers {
			hosts = append(hosts, peer.Host())
		}
		added := p.AddCandidates(hosts...)
		p.logger.Info("Peers refreshed", "source", ip, "peers", len(peers), "added", added)
		return added, nil
	}

	if lastErr == nil {
		return 0, domain.ErrNoHealthyNodes
	}
	return 0, fmt.Errorf("refresh peers: %w", lastErr)
}

// GetBlock fetches a block by height from a selected node.
func (p *Pool) GetBlock(ctx context.Context, height uint64) (*casper.Block, error) {
	return call(ctx, p, casper.MethodGetBlock, func(ctx context.Context, n Node) (*casper.Block, error) {
		return n.GetBlock(ctx, height)
	})
}

// GetDeploy fetches a deploy from a selected node.
func (p *Pool) GetDeploy(ctx context.Context, hash string) (*casper.DeployInfo, error) {
	return call(ctx, p, casper.MethodGetDeploy, func(ctx context.Context, n Node) (*casper.DeployInfo, error) {
		return n.GetDeploy(ctx, hash)
	})
}

// GetBlockState reads global state from a selected node.
func (p *Pool) GetBlockState(ctx context.Context, stateRootHash, key string, path []string) (*casper.StoredValue, error) {
	return call(ctx, p, casper.MethodGetItem, func(ctx context.Context, n Node) (*casper.StoredValue, error) {
		return n.GetBlockState(ctx, stateRootHash, key, path)
	})
}

// GetEraSwitchInfo fetches a switch block's era summary from a selected node.
func (p *Pool) GetEraSwitchInfo(ctx context.Context, blockHash string) (*casper.EraSummary, error) {
	return call(ctx, p, casper.MethodGetEraInfo, func(ctx context.Context, n Node) (*casper.EraSummary, error) {
		return n.GetEraSwitchInfo(ctx, blockHash)
	})
}

// call runs fn against a selected node under the call timeout. A transport
// failure bans the node and is reported as domain.ErrNodeUnavailable; request
// errors and undecodable results are returned as is. Nothing is retried.
func call[T any](ctx context.Context, p *Pool, method string, fn func(context.Context, Node) (T, error)) (T, error) {
	var zero T

	node, err := p.Select(ctx)
	if err != nil {
		return zero, err
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	v, err := fn(cctx, node)
	if err == nil {
		return v, nil
	}
	if ctx.Err() != nil {
		return zero, ctx.Err()
	}
	if casper.IsRequestError(err) || errors.Is(err, domain.ErrMalformedExecutionResult) {
		return zero, fmt.Errorf("%s on %s: %w", method, node.Name(), err)
	}

	p.Ban(node.Name(), err)
	return zero, fmt.Errorf("%s on %s: %w: %w", method, node.Name(), domain.ErrNodeUnavailable, err)
}
