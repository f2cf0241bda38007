// Package aggregate folds ingested blocks into eras in ascending height order.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/core/progress"
	"github.com/vietddude/erawatcher/internal/indexing/metrics"
	"github.com/vietddude/erawatcher/internal/infra/storage"
)

// SupplyRecomputer recomputes the circulating supply of a closed era.
type SupplyRecomputer interface {
	Recompute(ctx context.Context, eraID uint64) (int64, error)
}

// Config holds aggregation settings.
type Config struct {
	MaxBlocks int
	CacheSize int
	// LockedWallets are account hashes whose outgoing transfers have depth 1.
	LockedWallets []string
	// GenesisValidatorsWeights seeds era 0, denominated.
	GenesisValidatorsWeights int64
	// Eras up to and including BootstrapEra never trigger a supply recompute.
	BootstrapEra uint64
}

// Engine is the aggregation engine.
type Engine struct {
	store   *storage.Store
	tracker *progress.Tracker
	supply  SupplyRecomputer
	cfg     Config
	locked  map[string]struct{}
	blocks  *lru.Cache[uint64, *domain.Block]
	logger  *slog.Logger
}

// NewEngine creates an aggregation engine.
func NewEngine(store *storage.Store, tracker *progress.Tracker, supply SupplyRecomputer, cfg Config) (*Engine, error) {
	if cfg.MaxBlocks <= 0 {
		return nil, fmt.Errorf("max blocks must be positive, got %d", cfg.MaxBlocks)
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[uint64, *domain.Block](size)
	if err != nil {
		return nil, fmt.Errorf("create block cache: %w", err)
	}

	locked := make(map[string]struct{}, len(cfg.LockedWallets))
	for _, w := range cfg.LockedWallets {
		locked[domain.NormalizeAccountHash(w)] = struct{}{}
	}

	return &Engine{
		store:   store,
		tracker: tracker,
		supply:  supply,
		cfg:     cfg,
		locked:  locked,
		blocks:  cache,
		logger:  slog.Default().With("component", "aggregate"),
	}, nil
}

// Run aggregates batches until no contiguous backlog is left above
// lastCalculatedHeight. It returns the number of blocks aggregated.
func (e *Engine) Run(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := e.runBatch(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < e.cfg.MaxBlocks {
			return total, nil
		}
	}
}

// runBatch aggregates up to MaxBlocks contiguous heights. Progress is only
// persisted when the whole batch succeeds.
func (e *Engine) runBatch(ctx context.Context) (int, error) {
	start := time.Now()

	last, err := e.tracker.LastCalculatedHeight(ctx)
	if err != nil {
		return 0, err
	}
	from := uint64(last + 1)

	blocks, err := e.store.Blocks.ListFrom(ctx, from, e.cfg.MaxBlocks)
	if err != nil {
		return 0, err
	}
	blocks = contiguous(blocks, from)
	if len(blocks) == 0 {
		return 0, nil
	}

	for _, b := range blocks {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := e.process(ctx, b); err != nil {
			return 0, fmt.Errorf("aggregate block %d: %w", b.Height, err)
		}
		e.blocks.Add(b.Height, b)
	}

	top := blocks[len(blocks)-1].Height
	if err := e.tracker.SetLastCalculatedHeight(ctx, int64(top)); err != nil {
		return 0, err
	}

	metrics.AggregationBatchDuration.Observe(time.Since(start).Seconds())
	metrics.LastCalculatedHeight.Set(float64(top))
	e.logger.Info("Batch aggregated",
		"from", from,
		"to", top,
		"blocks", len(blocks),
		"duration", time.Since(start),
	)
	return len(blocks), nil
}

// contiguous returns the prefix of ascending blocks that starts at from
// without gaps.
func contiguous(blocks []*domain.Block, from uint64) []*domain.Block {
	next := from
	for i, b := range blocks {
		if b.Height != next {
			return blocks[:i]
		}
		next++
	}
	return blocks
}

func (e *Engine) process(ctx context.Context, b *domain.Block) error {
	if err := e.classifyTransfers(ctx, b.Height); err != nil {
		return err
	}

	if b.Height == 0 {
		if err := e.ensureGenesisEra(ctx, b); err != nil {
			return err
		}
	} else {
		prev, err := e.previous(ctx, b.Height)
		if err != nil {
			return err
		}
		if prev.IsSwitchBlock {
			if err := e.rollover(ctx, prev, b); err != nil {
				return err
			}
		}
	}

	era, err := e.store.Eras.Get(ctx, b.EraID)
	if err != nil {
		return err
	}
	if era == nil {
		return fmt.Errorf("%w: era %d of block %d does not exist", domain.ErrAggregationInconsistency, b.EraID, b.Height)
	}
	if era.TotalSupply != b.TotalSupply {
		era.TotalSupply = b.TotalSupply
		return e.store.Eras.Update(ctx, era)
	}
	return nil
}

// classifyTransfers back-fills the depth of every transfer of a block.
func (e *Engine) classifyTransfers(ctx context.Context, height uint64) error {
	transfers, err := e.store.Transfers.ListByHeight(ctx, height)
	if err != nil {
		return err
	}

	for _, t := range transfers {
		depth := domain.DepthUnclassified
		if _, ok := e.locked[t.FromHash]; ok {
			depth = domain.DepthLocked
		} else {
			up, err := e.store.Transfers.FindUpstream(ctx, t.FromHash, t.Hash)
			if err != nil {
				return err
			}
			if up != nil {
				depth = up.Depth + 1
			}
		}

		fromHex, toHex := t.FromHex, t.ToHex
		if fromHex == "" {
			if fromHex, err = e.knownKey(ctx, t.FromHash); err != nil {
				return err
			}
		}
		if toHex == "" && t.ToHash != "" {
			if toHex, err = e.knownKey(ctx, t.ToHash); err != nil {
				return err
			}
		}

		if depth == t.Depth && fromHex == t.FromHex && toHex == t.ToHex {
			continue
		}
		t.Depth, t.FromHex, t.ToHex = depth, fromHex, toHex
		if err := e.store.Transfers.UpdateClassification(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) knownKey(ctx context.Context, hash string) (string, error) {
	known, err := e.store.Accounts.Get(ctx, hash)
	if err != nil || known == nil {
		return "", err
	}
	return known.PublicKey, nil
}

func (e *Engine) ensureGenesisEra(ctx context.Context, b *domain.Block) error {
	era, err := e.store.Eras.Get(ctx, domain.GenesisEraID)
	if err != nil || era != nil {
		return err
	}
	e.logger.Info("Creating genesis era", "validators_weights", e.cfg.GenesisValidatorsWeights)
	return e.store.Eras.Create(ctx, &domain.Era{
		ID:                domain.GenesisEraID,
		StartBlock:        b.Height,
		Start:             b.Timestamp,
		TotalSupply:       b.TotalSupply,
		ValidatorsWeights: e.cfg.GenesisValidatorsWeights,
	})
}

func (e *Engine) previous(ctx context.Context, height uint64) (*domain.Block, error) {
	if b, ok := e.blocks.Get(height - 1); ok {
		return b, nil
	}
	b, err := e.store.Blocks.Get(ctx, height-1)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("%w: block %d is missing", domain.ErrAggregationInconsistency, height-1)
	}
	e.blocks.Add(b.Height, b)
	return b, nil
}

// rollover opens the era starting at b and closes the era ended by prev.
func (e *Engine) rollover(ctx context.Context, prev, b *domain.Block) error {
	next, err := e.store.Eras.Get(ctx, b.EraID)
	if err != nil {
		return err
	}
	if next == nil {
		next = &domain.Era{
			ID:                b.EraID,
			StartBlock:        b.Height,
			Start:             b.Timestamp,
			TotalSupply:       b.TotalSupply,
			ValidatorsWeights: prev.NextEraValidatorsWeights,
		}
		if err := e.store.Eras.Create(ctx, next); err != nil {
			return err
		}
		e.logger.Info("Era opened", "era_id", next.ID, "start_block", next.StartBlock)
	}

	closed, err := e.store.Eras.Get(ctx, prev.EraID)
	if err != nil {
		return err
	}
	if closed == nil {
		return fmt.Errorf("%w: era %d closed by switch block %d does not exist",
			domain.ErrAggregationInconsistency, prev.EraID, prev.Height)
	}

	members, err := e.store.Blocks.ListByEra(ctx, closed.ID)
	if err != nil {
		return err
	}
	closed.ResetTotals()
	for _, m := range members {
		closed.AddBlock(m)
	}
	if len(members) > 0 {
		closed.TotalSupply = members[len(members)-1].TotalSupply
	}
	closed.Close(prev.Height, next.Start)
	if err := e.store.Eras.Update(ctx, closed); err != nil {
		return err
	}
	e.logger.Info("Era closed", "era_id", closed.ID, "end_block", prev.Height, "blocks", len(members))

	if closed.ID > e.cfg.BootstrapEra && e.supply != nil {
		if _, err := e.supply.Recompute(ctx, closed.ID); err != nil {
			return fmt.Errorf("recompute supply of era %d: %w", closed.ID, err)
		}
	}
	return nil
}
