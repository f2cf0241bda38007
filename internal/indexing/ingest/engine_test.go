package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/core/progress"
	"github.com/vietddude/erawatcher/internal/infra/casper"
	"github.com/vietddude/erawatcher/internal/infra/storage"
	"github.com/vietddude/erawatcher/internal/infra/storage/memory"
)

// ===== Mocks =====

type MockChain struct {
	mock.Mock
}

func (m *MockChain) GetBlock(ctx context.Context, height uint64) (*casper.Block, error) {
	args := m.Called(ctx, height)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*casper.Block), args.Error(1)
}

func (m *MockChain) GetDeploy(ctx context.Context, hash string) (*casper.DeployInfo, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*casper.DeployInfo), args.Error(1)
}

func (m *MockChain) GetBlockState(ctx context.Context, root, key string, path []string) (*casper.StoredValue, error) {
	args := m.Called(ctx, root, key, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*casper.StoredValue), args.Error(1)
}

func (m *MockChain) GetEraSwitchInfo(ctx context.Context, hash string) (*casper.EraSummary, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*casper.EraSummary), args.Error(1)
}

// ===== Fixtures =====

const (
	supplyKey  = "uref-total-supply"
	senderKey  = "01" + "a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f90"
	blockTime  = "2021-04-09T12:00:00Z"
	oneToken   = "1000000000"
	tenTokens  = "10000000000"
	genesisCap = "10000000000000000000"
)

func clString(s string) casper.CLValue {
	return casper.CLValue{CLType: json.RawMessage(`"U512"`), Parsed: json.RawMessage(`"` + s + `"`)}
}

func supplyValue(motes string) *casper.StoredValue {
	v := clString(motes)
	return &casper.StoredValue{CLValue: &v}
}

func session(entryPoint string, args ...casper.NamedArg) map[string]json.RawMessage {
	raw, _ := json.Marshal(map[string]any{"entry_point": entryPoint, "args": args})
	return map[string]json.RawMessage{"StoredContractByHash": raw}
}

func arg(name, parsed string) casper.NamedArg {
	return casper.NamedArg{Name: name, Value: clString(parsed)}
}

func successResult(blockHash string) []casper.ExecutionResult {
	return []casper.ExecutionResult{{BlockHash: blockHash, Result: casper.ExecutionOutcome{Success: &casper.ExecutionEffect{}}}}
}

func stakeDeploy(hash, entryPoint string, args ...casper.NamedArg) *casper.DeployInfo {
	return &casper.DeployInfo{
		Deploy:           casper.Deploy{Hash: hash, Session: session(entryPoint, args...)},
		ExecutionResults: successResult("blk"),
	}
}

func transferDeploy(t *testing.T, hash, from, to, amount string) *casper.DeployInfo {
	t.Helper()
	wt, err := json.Marshal(map[string]any{"WriteTransfer": map[string]any{
		"deploy_hash": hash, "from": from, "to": to, "source": "uref-s", "target": "uref-t", "amount": amount, "gas": "0",
	}})
	require.NoError(t, err)

	key := "transfer-" + strings.ToUpper(hash)
	return &casper.DeployInfo{
		Deploy: casper.Deploy{
			Hash:    hash,
			Header:  casper.DeployHeader{Account: senderKey},
			Session: map[string]json.RawMessage{"Transfer": json.RawMessage(`{"args":[]}`)},
		},
		ExecutionResults: []casper.ExecutionResult{{
			BlockHash: "blk",
			Result: casper.ExecutionOutcome{Success: &casper.ExecutionEffect{
				Effect: casper.Effect{Transforms: []casper.TransformEntry{
					{Key: "balance-1", Transform: json.RawMessage(`"Identity"`)},
					{Key: key, Transform: wt},
				}},
				Transfers: []string{strings.ToLower(key)},
			}},
		}},
	}
}

func rawBlock(height uint64, deploys, transfers []string) *casper.Block {
	ts, _ := time.Parse(time.RFC3339, blockTime)
	return &casper.Block{
		Hash: "blk",
		Header: casper.BlockHeader{
			Height:        height,
			EraID:         4,
			Timestamp:     ts,
			StateRootHash: "root",
		},
		Body: casper.BlockBody{DeployHashes: deploys, TransferHashes: transfers},
	}
}

type fixture struct {
	chain   *MockChain
	store   *storage.Store
	tracker *progress.Tracker
	engine  *Engine
}

func newFixture() *fixture {
	chain := new(MockChain)
	store, _ := memory.NewStore()
	tracker := progress.NewTracker(progress.NewMemoryStore())
	return &fixture{
		chain:   chain,
		store:   store,
		tracker: tracker,
		engine:  NewEngine(chain, store, tracker, Config{TotalSupplyKey: supplyKey}),
	}
}

// ===== Tests =====

func TestIngest_StakingAndTransfers(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	from, err := domain.AccountHashFromPublicKey(senderKey)
	require.NoError(t, err)

	f.chain.On("GetBlock", mock.Anything, uint64(7)).Return(rawBlock(7, []string{"d1", "d2", "d3", "d4"}, []string{"t1"}), nil)
	f.chain.On("GetBlockState", mock.Anything, "root", supplyKey, []string(nil)).Return(supplyValue(genesisCap), nil)
	f.chain.On("GetDeploy", mock.Anything, "d1").Return(stakeDeploy("d1", "delegate",
		arg("delegator", "01aa"), arg("validator", "01bb"), arg("amount", tenTokens)), nil)
	f.chain.On("GetDeploy", mock.Anything, "d2").Return(stakeDeploy("d2", "add_bid",
		arg("public_key", "01bb"), arg("amount", tenTokens), arg("delegation_rate", "10")), nil)
	f.chain.On("GetDeploy", mock.Anything, "d3").Return(stakeDeploy("d3", "undelegate",
		arg("validator", "01bb"), arg("amount", oneToken), arg("delegator", "01aa")), nil)
	f.chain.On("GetDeploy", mock.Anything, "d4").Return(stakeDeploy("d4", "transfer_tokens",
		arg("recipient", "01cc"), arg("amount", oneToken)), nil)
	f.chain.On("GetDeploy", mock.Anything, "t1").Return(transferDeploy(t, "t1", from, "account-hash-22", "2500000000"), nil)

	require.NoError(t, f.engine.Ingest(ctx, 7))

	block, err := f.store.Blocks.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, block)
	assert.Equal(t, uint64(4), block.EraID)
	assert.Equal(t, int64(10_000_000_000), block.TotalSupply)
	assert.Equal(t, int64(20), block.Staked)
	assert.Equal(t, int64(1), block.Unstaked)
	assert.Equal(t, 4, block.DeploysCount)
	assert.Equal(t, 1, block.TransfersCount)
	assert.False(t, block.IsSwitchBlock)

	transfers, err := f.store.Transfers.ListByHeight(ctx, 7)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	tr := transfers[0]
	assert.Equal(t, "transfer-t1", tr.Hash)
	assert.Equal(t, from, tr.FromHash)
	assert.Equal(t, senderKey, tr.FromHex)
	assert.Equal(t, "account-hash-22", tr.ToHash)
	assert.True(t, decimal.RequireFromString("2500000000").Equal(tr.Amount))
	assert.Equal(t, domain.DepthUnclassified, tr.Depth)

	known, err := f.store.Accounts.Get(ctx, from)
	require.NoError(t, err)
	require.NotNil(t, known)
	assert.Equal(t, senderKey, known.PublicKey)

	crawled, err := f.tracker.IsCrawled(ctx, 7)
	require.NoError(t, err)
	assert.True(t, crawled)
}

func TestIngest_AlreadyCrawled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.tracker.MarkCrawled(ctx, 3))

	err := f.engine.Ingest(ctx, 3)
	assert.ErrorIs(t, err, domain.ErrAlreadyCrawled)
	f.chain.AssertNotCalled(t, "GetBlock", mock.Anything, mock.Anything)
}

func TestIngest_IsIdempotentOnRetry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.chain.On("GetBlock", mock.Anything, uint64(9)).Return(rawBlock(9, nil, []string{"t1"}), nil)
	f.chain.On("GetBlockState", mock.Anything, "root", supplyKey, []string(nil)).Return(supplyValue(genesisCap), nil)
	f.chain.On("GetDeploy", mock.Anything, "t1").Return(transferDeploy(t, "t1", "account-hash-11", "account-hash-22", oneToken), nil)

	require.NoError(t, f.engine.Ingest(ctx, 9))
	first, err := f.store.Blocks.Get(ctx, 9)
	require.NoError(t, err)

	// Simulate a re-crawl request.
	require.NoError(t, f.tracker.ClearCrawled(ctx, 9))
	require.NoError(t, f.engine.Ingest(ctx, 9))

	second, err := f.store.Blocks.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	transfers, err := f.store.Transfers.ListByHeight(ctx, 9)
	require.NoError(t, err)
	assert.Len(t, transfers, 1)
}

func TestIngest_NodeFailureLeavesHeightUncrawled(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.chain.On("GetBlock", mock.Anything, uint64(5)).Return(rawBlock(5, []string{"d1"}, nil), nil)
	f.chain.On("GetBlockState", mock.Anything, "root", supplyKey, []string(nil)).Return(supplyValue(genesisCap), nil)
	f.chain.On("GetDeploy", mock.Anything, "d1").Return(nil, fmt.Errorf("get deploy: %w", domain.ErrNodeUnavailable))

	err := f.engine.Ingest(ctx, 5)
	assert.ErrorIs(t, err, domain.ErrNodeUnavailable)

	block, err := f.store.Blocks.Get(ctx, 5)
	require.NoError(t, err)
	assert.Nil(t, block)

	crawled, err := f.tracker.IsCrawled(ctx, 5)
	require.NoError(t, err)
	assert.False(t, crawled)
}

func TestIngest_SkipsMalformedDeploy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	bad := stakeDeploy("d1", "delegate", arg("delegator", "01aa"), arg("validator", "01bb"), arg("amount", "-5"))
	f.chain.On("GetBlock", mock.Anything, uint64(6)).Return(rawBlock(6, []string{"d1", "d2"}, nil), nil)
	f.chain.On("GetBlockState", mock.Anything, "root", supplyKey, []string(nil)).Return(supplyValue(genesisCap), nil)
	f.chain.On("GetDeploy", mock.Anything, "d1").Return(bad, nil)
	f.chain.On("GetDeploy", mock.Anything, "d2").Return(stakeDeploy("d2", "delegate",
		arg("delegator", "01aa"), arg("validator", "01bb"), arg("amount", tenTokens)), nil)

	require.NoError(t, f.engine.Ingest(ctx, 6))

	block, err := f.store.Blocks.Get(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(10), block.Staked)
}

func TestIngest_FailedStakeDeployMovesNothing(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	failed := stakeDeploy("d1", "delegate", arg("delegator", "01aa"), arg("validator", "01bb"), arg("amount", tenTokens))
	failed.ExecutionResults = []casper.ExecutionResult{{Result: casper.ExecutionOutcome{Failure: &casper.ExecutionEffect{ErrorMessage: "out of gas"}}}}

	f.chain.On("GetBlock", mock.Anything, uint64(8)).Return(rawBlock(8, []string{"d1"}, nil), nil)
	f.chain.On("GetBlockState", mock.Anything, "root", supplyKey, []string(nil)).Return(supplyValue(genesisCap), nil)
	f.chain.On("GetDeploy", mock.Anything, "d1").Return(failed, nil)

	require.NoError(t, f.engine.Ingest(ctx, 8))
	block, err := f.store.Blocks.Get(ctx, 8)
	require.NoError(t, err)
	assert.Zero(t, block.Staked)
}

func TestIngest_SwitchBlock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	raw := rawBlock(1000, nil, nil)
	raw.Header.EraEnd = &casper.EraEnd{NextEraValidatorWeights: []casper.ValidatorWeight{
		{Validator: "01aa", Weight: "5000000000"},
	}}

	f.chain.On("GetBlock", mock.Anything, uint64(1000)).Return(raw, nil)
	f.chain.On("GetBlockState", mock.Anything, "root", supplyKey, []string(nil)).Return(supplyValue(genesisCap), nil)
	f.chain.On("GetEraSwitchInfo", mock.Anything, "blk").Return(&casper.EraSummary{
		StoredValue: casper.StoredValue{EraInfo: &casper.EraInfo{SeigniorageAllocations: []casper.SeigniorageAllocation{
			{Validator: &casper.ValidatorAllocation{ValidatorPublicKey: "01aa", Amount: "3000000000"}},
			{Validator: &casper.ValidatorAllocation{ValidatorPublicKey: "01bb", Amount: "2000000000"}},
			{Delegator: &casper.DelegatorAllocation{DelegatorPublicKey: "01cc", ValidatorPublicKey: "01aa", Amount: "1500000000"}},
		}}},
	}, nil)

	require.NoError(t, f.engine.Ingest(ctx, 1000))

	block, err := f.store.Blocks.Get(ctx, 1000)
	require.NoError(t, err)
	assert.True(t, block.IsSwitchBlock)
	assert.Equal(t, int64(5), block.NextEraValidatorsWeights)
	assert.Equal(t, int64(5), block.ValidatorRewards)
	assert.Equal(t, int64(1), block.DelegatorRewards)
	assert.Equal(t, 2, block.ValidatorsCount)
	assert.Equal(t, 1, block.DelegatorsCount)
	f.chain.AssertExpectations(t)
}

func TestIngest_SwitchBlockWithoutEraInfoFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	raw := rawBlock(1000, nil, nil)
	raw.Header.EraEnd = &casper.EraEnd{}
	f.chain.On("GetBlock", mock.Anything, uint64(1000)).Return(raw, nil)
	f.chain.On("GetBlockState", mock.Anything, "root", supplyKey, []string(nil)).Return(supplyValue(genesisCap), nil)
	f.chain.On("GetEraSwitchInfo", mock.Anything, "blk").Return(nil, nil)

	err := f.engine.Ingest(ctx, 1000)
	assert.ErrorIs(t, err, domain.ErrMalformedExecutionResult)
	crawled, _ := f.tracker.IsCrawled(ctx, 1000)
	assert.False(t, crawled)
}

func TestIngest_TotalSupplyNotCLValue(t *testing.T) {
	f := newFixture()
	f.chain.On("GetBlock", mock.Anything, uint64(1)).Return(rawBlock(1, nil, nil), nil)
	f.chain.On("GetBlockState", mock.Anything, "root", supplyKey, []string(nil)).Return(&casper.StoredValue{}, nil)

	err := f.engine.Ingest(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrMalformedExecutionResult)
}

func TestIngest_UnknownSenderKeepsHexEmpty(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.chain.On("GetBlock", mock.Anything, uint64(2)).Return(rawBlock(2, nil, []string{"t1"}), nil)
	f.chain.On("GetBlockState", mock.Anything, "root", supplyKey, []string(nil)).Return(supplyValue(genesisCap), nil)
	// The deploy account does not own account-hash-11.
	f.chain.On("GetDeploy", mock.Anything, "t1").Return(transferDeploy(t, "t1", "account-hash-11", "account-hash-22", oneToken), nil)
	require.NoError(t, f.store.Accounts.Upsert(ctx, &domain.KnownAccount{Hash: "account-hash-22", PublicKey: "01dd"}))

	require.NoError(t, f.engine.Ingest(ctx, 2))

	transfers, err := f.store.Transfers.ListByHeight(ctx, 2)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Empty(t, transfers[0].FromHex)
	assert.Equal(t, "01dd", transfers[0].ToHex)

	known, err := f.store.Accounts.Get(ctx, "account-hash-11")
	require.NoError(t, err)
	assert.Nil(t, known)
}

func TestFailureReason(t *testing.T) {
	assert.Equal(t, "node_unavailable", failureReason(fmt.Errorf("x: %w", domain.ErrNodeUnavailable)))
	assert.Equal(t, "canceled", failureReason(context.Canceled))
	assert.Equal(t, "other", failureReason(errors.New("disk full")))
}
