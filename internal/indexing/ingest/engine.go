// Package ingest turns one block fetched over RPC into stored Block and
// Transfer rows.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/core/progress"
	"github.com/vietddude/erawatcher/internal/indexing/metrics"
	"github.com/vietddude/erawatcher/internal/infra/casper"
	"github.com/vietddude/erawatcher/internal/infra/storage"
)

// Chain is the node API the engine needs. It is served by the node pool.
type Chain interface {
	GetBlock(ctx context.Context, height uint64) (*casper.Block, error)
	GetDeploy(ctx context.Context, hash string) (*casper.DeployInfo, error)
	GetBlockState(ctx context.Context, stateRootHash, key string, path []string) (*casper.StoredValue, error)
	GetEraSwitchInfo(ctx context.Context, blockHash string) (*casper.EraSummary, error)
}

// Config locates the total supply in global state.
type Config struct {
	TotalSupplyKey  string
	TotalSupplyPath []string
}

// Engine is the block ingestion engine.
type Engine struct {
	chain   Chain
	store   *storage.Store
	tracker *progress.Tracker
	cfg     Config
	logger  *slog.Logger
}

// NewEngine creates an ingestion engine.
func NewEngine(chain Chain, store *storage.Store, tracker *progress.Tracker, cfg Config) *Engine {
	return &Engine{
		chain:   chain,
		store:   store,
		tracker: tracker,
		cfg:     cfg,
		logger:  slog.Default().With("component", "ingest"),
	}
}

// Ingest fetches the block at height, stores it with its transfers and marks
// the height crawled. It returns domain.ErrAlreadyCrawled when the height is
// already marked. Any node or storage failure aborts before the block row is
// written, so the call can be retried from scratch.
func (e *Engine) Ingest(ctx context.Context, height uint64) error {
	crawled, err := e.tracker.IsCrawled(ctx, height)
	if err != nil {
		return err
	}
	if crawled {
		return domain.ErrAlreadyCrawled
	}

	if err := e.ingest(ctx, height); err != nil {
		metrics.BlocksFailed.WithLabelValues(failureReason(err)).Inc()
		return fmt.Errorf("ingest block %d: %w", height, err)
	}

	if err := e.tracker.MarkCrawled(ctx, height); err != nil {
		return err
	}
	metrics.BlocksIngested.Inc()
	return nil
}

func (e *Engine) ingest(ctx context.Context, height uint64) error {
	// Transfers of an earlier partial attempt.
	if err := e.store.Transfers.DeleteByHeight(ctx, height); err != nil {
		return err
	}

	raw, err := e.chain.GetBlock(ctx, height)
	if err != nil {
		return err
	}

	block := &domain.Block{
		Height:         raw.Header.Height,
		EraID:          raw.Header.EraID,
		Hash:           raw.Hash,
		Timestamp:      raw.Header.Timestamp.UTC(),
		StateRootHash:  raw.Header.StateRootHash,
		IsSwitchBlock:  raw.Header.IsSwitchBlock(),
		DeploysCount:   len(raw.Body.DeployHashes),
		TransfersCount: len(raw.Body.TransferHashes),
	}

	supply, err := e.totalSupply(ctx, block.StateRootHash)
	if err != nil {
		return err
	}
	block.TotalSupply = domain.Denominate(supply)

	if err := e.applyStaking(ctx, block, raw.Body.DeployHashes); err != nil {
		return err
	}

	for _, hash := range raw.Body.TransferHashes {
		if err := e.ingestTransfers(ctx, block, hash); err != nil {
			return err
		}
	}

	if block.IsSwitchBlock {
		if err := e.applyEraEnd(ctx, block, raw.Header.EraEnd); err != nil {
			return err
		}
	}

	return e.store.Blocks.Replace(ctx, block)
}

func (e *Engine) totalSupply(ctx context.Context, stateRootHash string) (decimal.Decimal, error) {
	value, err := e.chain.GetBlockState(ctx, stateRootHash, e.cfg.TotalSupplyKey, e.cfg.TotalSupplyPath)
	if err != nil {
		return decimal.Zero, err
	}
	if value == nil || value.CLValue == nil {
		return decimal.Zero, fmt.Errorf("%w: total supply is not a CLValue", domain.ErrMalformedExecutionResult)
	}
	s, err := value.CLValue.ParsedString()
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: total supply: %v", domain.ErrMalformedExecutionResult, err)
	}
	supply, err := domain.ParseMotes(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: total supply: %v", domain.ErrMalformedExecutionResult, err)
	}
	return supply, nil
}

// applyStaking classifies every deploy of the block and accumulates the
// staking flow. Malformed deploys are skipped.
func (e *Engine) applyStaking(ctx context.Context, block *domain.Block, hashes []string) error {
	staked, unstaked := decimal.Zero, decimal.Zero

	for _, hash := range hashes {
		info, err := e.chain.GetDeploy(ctx, hash)
		if err != nil {
			return err
		}

		kind, amount, err := stakeDelta(info)
		if errors.Is(err, domain.ErrMalformedExecutionResult) {
			metrics.MalformedResults.WithLabelValues("deploy").Inc()
			e.logger.Warn("Skipping malformed deploy", "height", block.Height, "deploy", hash, "error", err)
			continue
		}
		if err != nil {
			return err
		}
		if kind == StakeNone {
			continue
		}

		metrics.DeploysClassified.WithLabelValues(string(kind)).Inc()
		if kind.Increases() {
			staked = staked.Add(amount)
		} else {
			unstaked = unstaked.Add(amount)
		}
	}

	block.Staked = domain.Denominate(staked)
	block.Unstaked = domain.Denominate(unstaked)
	return nil
}

// stakeDelta classifies a deploy. Deploys that failed to execute move nothing.
func stakeDelta(info *casper.DeployInfo) (StakeKind, decimal.Decimal, error) {
	call, err := info.Deploy.SessionCall()
	if err != nil {
		return StakeNone, decimal.Zero, fmt.Errorf("%w: %v", domain.ErrMalformedExecutionResult, err)
	}

	kind := Classify(call)
	if kind == StakeNone || !executed(info) {
		return StakeNone, decimal.Zero, nil
	}

	amount, err := StakeAmount(call)
	if err != nil {
		return StakeNone, decimal.Zero, err
	}
	return kind, amount, nil
}

func executed(info *casper.DeployInfo) bool {
	for _, r := range info.ExecutionResults {
		if r.Result.Success != nil {
			return true
		}
	}
	return false
}

// ingestTransfers stores the write-transfer effects of one transfer deploy.
func (e *Engine) ingestTransfers(ctx context.Context, block *domain.Block, deployHash string) error {
	info, err := e.chain.GetDeploy(ctx, deployHash)
	if err != nil {
		return err
	}

	transfers, err := e.extractTransfers(block, info)
	if errors.Is(err, domain.ErrMalformedExecutionResult) {
		metrics.MalformedResults.WithLabelValues("transfer").Inc()
		e.logger.Warn("Skipping malformed transfer", "height", block.Height, "deploy", deployHash, "error", err)
		return nil
	}
	if err != nil {
		return err
	}

	for _, t := range transfers {
		if err := e.resolveAccounts(ctx, t, info.Deploy.Header.Account); err != nil {
			return err
		}
		if err := e.store.Transfers.Create(ctx, t); err != nil {
			return err
		}
		metrics.TransfersIngested.Inc()
	}
	return nil
}

// extractTransfers matches the WriteTransfer transforms of the successful
// execution against its transfer list.
func (e *Engine) extractTransfers(block *domain.Block, info *casper.DeployInfo) ([]*domain.Transfer, error) {
	var success *casper.ExecutionEffect
	for _, r := range info.ExecutionResults {
		if r.BlockHash != "" && !strings.EqualFold(r.BlockHash, block.Hash) {
			continue
		}
		success = r.Result.Success
		if success == nil && r.Result.Failure == nil {
			return nil, fmt.Errorf("%w: execution result has neither success nor failure", domain.ErrMalformedExecutionResult)
		}
		break
	}
	if success == nil {
		// Failed or not executed in this block.
		return nil, nil
	}

	var out []*domain.Transfer
	for _, entry := range success.Effect.Transforms {
		wt, ok := entry.WriteTransfer()
		if !ok || !listed(entry.Key, success.Transfers) {
			continue
		}

		amount, err := domain.ParseMotes(wt.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: transfer %s: %v", domain.ErrMalformedExecutionResult, entry.Key, err)
		}
		if wt.From == "" {
			return nil, fmt.Errorf("%w: transfer %s has no sender", domain.ErrMalformedExecutionResult, entry.Key)
		}

		deployHash := wt.DeployHash
		if deployHash == "" {
			deployHash = info.Deploy.Hash
		}
		to := ""
		if wt.To != nil {
			to = domain.NormalizeAccountHash(*wt.To)
		}

		out = append(out, &domain.Transfer{
			Hash:        strings.ToLower(entry.Key),
			DeployHash:  deployHash,
			BlockHeight: block.Height,
			EraID:       block.EraID,
			Timestamp:   block.Timestamp,
			FromHash:    domain.NormalizeAccountHash(wt.From),
			ToHash:      to,
			Amount:      amount,
			Depth:       domain.DepthUnclassified,
		})
	}
	return out, nil
}

func listed(key string, transfers []string) bool {
	for _, t := range transfers {
		if casper.MatchesKey(key, t) {
			return true
		}
	}
	return false
}

// resolveAccounts fills the known public keys of a transfer. The deploy's
// sender key is recorded for the from account only when it hashes to it.
func (e *Engine) resolveAccounts(ctx context.Context, t *domain.Transfer, senderKey string) error {
	if senderKey != "" {
		hash, err := domain.AccountHashFromPublicKey(senderKey)
		if err == nil && hash == t.FromHash {
			t.FromHex = strings.ToLower(senderKey)
			if err := e.store.Accounts.Upsert(ctx, &domain.KnownAccount{Hash: hash, PublicKey: t.FromHex}); err != nil {
				return err
			}
		}
	}

	if t.FromHex == "" {
		known, err := e.store.Accounts.Get(ctx, t.FromHash)
		if err != nil {
			return err
		}
		if known != nil {
			t.FromHex = known.PublicKey
		}
	}

	if t.ToHash != "" {
		known, err := e.store.Accounts.Get(ctx, t.ToHash)
		if err != nil {
			return err
		}
		if known != nil {
			t.ToHex = known.PublicKey
		}
	}
	return nil
}

// applyEraEnd sums the next era's weights and splits the era's rewards.
func (e *Engine) applyEraEnd(ctx context.Context, block *domain.Block, eraEnd *casper.EraEnd) error {
	weights := decimal.Zero
	for _, w := range eraEnd.NextEraValidatorWeights {
		weight, err := domain.ParseMotes(w.Weight)
		if err != nil {
			return fmt.Errorf("%w: validator weight %s: %v", domain.ErrMalformedExecutionResult, w.Validator, err)
		}
		weights = weights.Add(weight)
	}
	block.NextEraValidatorsWeights = domain.Denominate(weights)

	summary, err := e.chain.GetEraSwitchInfo(ctx, block.Hash)
	if err != nil {
		return err
	}
	if summary == nil || summary.StoredValue.EraInfo == nil {
		return fmt.Errorf("%w: no era info for switch block %s", domain.ErrMalformedExecutionResult, block.Hash)
	}

	validatorRewards, delegatorRewards := decimal.Zero, decimal.Zero
	validators := make(map[string]struct{})
	delegators := make(map[string]struct{})
	for _, alloc := range summary.StoredValue.EraInfo.SeigniorageAllocations {
		switch {
		case alloc.Validator != nil:
			amount, err := domain.ParseMotes(alloc.Validator.Amount)
			if err != nil {
				return fmt.Errorf("%w: validator reward: %v", domain.ErrMalformedExecutionResult, err)
			}
			validatorRewards = validatorRewards.Add(amount)
			validators[alloc.Validator.ValidatorPublicKey] = struct{}{}
		case alloc.Delegator != nil:
			amount, err := domain.ParseMotes(alloc.Delegator.Amount)
			if err != nil {
				return fmt.Errorf("%w: delegator reward: %v", domain.ErrMalformedExecutionResult, err)
			}
			delegatorRewards = delegatorRewards.Add(amount)
			delegators[alloc.Delegator.DelegatorPublicKey] = struct{}{}
		}
	}

	block.ValidatorRewards = domain.Denominate(validatorRewards)
	block.DelegatorRewards = domain.Denominate(delegatorRewards)
	block.ValidatorsCount = len(validators)
	block.DelegatorsCount = len(delegators)
	return nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNodeUnavailable):
		return "node_unavailable"
	case errors.Is(err, domain.ErrNoHealthyNodes):
		return "no_healthy_nodes"
	case errors.Is(err, domain.ErrMalformedExecutionResult):
		return "malformed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
