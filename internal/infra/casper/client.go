package casper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/ratelimit"

	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/indexing/metrics"
)

// JSON-RPC method names.
const (
	MethodGetBlock          = "chain_get_block"
	MethodGetDeploy         = "info_get_deploy"
	MethodGetItem           = "state_get_item"
	MethodGetEraInfo        = "chain_get_era_info_by_switch_block"
	MethodGetPeers          = "info_get_peers"
	jsonRPCVersion          = "2.0"
	defaultRequestTimeout   = 30 * time.Second
	maxIdleConnsPerEndpoint = 10
)

// ErrThrottled is returned without sending a request while the node is throttling us.
var ErrThrottled = errors.New("node throttled")

// RPCError is an error object returned by the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsRequestError reports whether the node rejected the request itself
// (parse error, invalid request, unknown method, invalid params). Such errors
// are not the node's fault.
func IsRequestError(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return rpcErr.Code <= -32600 && rpcErr.Code >= -32700
}

// Client is a JSON-RPC client for a single node.
type Client struct {
	name       string
	endpoint   string
	httpClient *http.Client
	limiter    ratelimit.Limiter
	nextID     atomic.Uint64

	Monitor *Monitor
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit paces requests to rps per second. Zero disables pacing.
func WithRateLimit(rps int) Option {
	return func(c *Client) {
		if rps > 0 {
			c.limiter = ratelimit.New(rps)
		}
	}
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a client for the node at endpoint.
func NewClient(name, endpoint string, opts ...Option) *Client {
	c := &Client{
		name:     name,
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: maxIdleConnsPerEndpoint,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: ratelimit.NewUnlimited(),
		Monitor: NewMonitor(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the node name, usually its IP.
func (c *Client) Name() string {
	return c.name
}

// Status returns the monitor's view of the node.
func (c *Client) Status() Status {
	return c.Monitor.Status()
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// GetBlock fetches the block at height.
func (c *Client) GetBlock(ctx context.Context, height uint64) (*Block, error) {
	params := map[string]any{"block_identifier": BlockIdentifier{Height: &height}}
	var res getBlockResult
	if err := c.call(ctx, MethodGetBlock, params, &res); err != nil {
		return nil, err
	}
	if res.Block == nil {
		return nil, fmt.Errorf("block %d: empty result", height)
	}
	return res.Block, nil
}

// GetLatestBlock fetches the highest block known to the node.
func (c *Client) GetLatestBlock(ctx context.Context) (*Block, error) {
	var res getBlockResult
	if err := c.call(ctx, MethodGetBlock, nil, &res); err != nil {
		return nil, err
	}
	if res.Block == nil {
		return nil, errors.New("latest block: empty result")
	}
	return res.Block, nil
}

// GetDeploy fetches a deploy and its execution results.
func (c *Client) GetDeploy(ctx context.Context, hash string) (*DeployInfo, error) {
	var res DeployInfo
	if err := c.call(ctx, MethodGetDeploy, map[string]any{"deploy_hash": hash}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetBlockState reads key (and optional path) from global state at stateRootHash.
func (c *Client) GetBlockState(ctx context.Context, stateRootHash, key string, path []string) (*StoredValue, error) {
	if path == nil {
		path = []string{}
	}
	params := map[string]any{
		"state_root_hash": stateRootHash,
		"key":             key,
		"path":            path,
	}
	var res getItemResult
	if err := c.call(ctx, MethodGetItem, params, &res); err != nil {
		return nil, err
	}
	return &res.StoredValue, nil
}

// GetEraSwitchInfo fetches the era summary of a switch block. It returns nil
// when the block is not a switch block.
func (c *Client) GetEraSwitchInfo(ctx context.Context, blockHash string) (*EraSummary, error) {
	params := map[string]any{"block_identifier": BlockIdentifier{Hash: blockHash}}
	var res eraInfoResult
	if err := c.call(ctx, MethodGetEraInfo, params, &res); err != nil {
		return nil, err
	}
	return res.EraSummary, nil
}

// GetPeers lists the node's connected peers.
func (c *Client) GetPeers(ctx context.Context) ([]Peer, error) {
	var res getPeersResult
	if err := c.call(ctx, MethodGetPeers, nil, &res); err != nil {
		return nil, err
	}
	return res.Peers, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call makes a single JSON-RPC call and decodes its result into out.
func (c *Client) call(ctx context.Context, method string, params any, out any) (err error) {
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			c.Monitor.RecordFailure()
		}
		metrics.RPCCallsTotal.WithLabelValues(method, status).Inc()
		metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	}()

	// Pre-call checks
	if st := c.Monitor.Status(); st == StatusThrottled || st == StatusBlocked {
		return fmt.Errorf("%w: %s, retry after %v", ErrThrottled, c.name, c.Monitor.RetryAfter())
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.limiter.Take()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	latency := time.Since(start)

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := resp.Header.Get("Retry-After")
		c.Monitor.RecordThrottle(resp.StatusCode, retryAfter)
		return fmt.Errorf("rate limited (429), retry after: %s", retryAfter)
	}

	// IP blocked detection
	if resp.StatusCode == http.StatusForbidden {
		c.Monitor.RecordThrottle(resp.StatusCode, "")
		return errors.New("ip blocked (403)")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if c.Monitor.DetectThrottlePattern(string(raw)) {
			c.Monitor.RecordThrottle(http.StatusTooManyRequests, "")
			return fmt.Errorf("throttle detected in response: %s", string(raw))
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		if c.Monitor.DetectThrottlePattern(rpcResp.Error.Message) {
			c.Monitor.RecordThrottle(http.StatusTooManyRequests, "")
		}
		return fmt.Errorf("%s: %w", method, rpcResp.Error)
	}

	if out != nil {
		if err := json.Unmarshal(rpcResp.Result, out); err != nil {
			return fmt.Errorf("decode %s result: %w: %w", method, domain.ErrMalformedExecutionResult, err)
		}
	}

	c.Monitor.RecordRequest(latency)
	return nil
}
