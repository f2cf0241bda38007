// Package supply computes the circulating supply of eras.
package supply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/indexing/metrics"
	"github.com/vietddude/erawatcher/internal/infra/storage"
)

// Config holds the network constants of the release model.
type Config struct {
	// GenesisTotalSupply is denominated.
	GenesisTotalSupply int64
	// OpenEraWindow is added to the start of the open era to get its cutoff.
	OpenEraWindow time.Duration
}

// Calculator is the circulating supply calculator.
type Calculator struct {
	store  *storage.Store
	cfg    Config
	logger *slog.Logger
}

// NewCalculator creates a calculator.
func NewCalculator(store *storage.Store, cfg Config) *Calculator {
	return &Calculator{
		store:  store,
		cfg:    cfg,
		logger: slog.Default().With("component", "supply"),
	}
}

// Cutoff returns the instant up to which unlocks count for era.
func (c *Calculator) Cutoff(era *domain.Era) time.Time {
	if era.End != nil {
		return *era.End
	}
	return era.Start.Add(c.cfg.OpenEraWindow)
}

// Recompute sets the circulating supply of one era and of its switch block.
//
// Released supply is the approved transfers up to the era plus the unlock
// schedule up to the cutoff. Inflation since genesis is released in the same
// proportion:
//
//	circulating = released + (totalSupply - genesis) * released / genesis
func (c *Calculator) Recompute(ctx context.Context, eraID uint64) (int64, error) {
	era, err := c.store.Eras.Get(ctx, eraID)
	if err != nil {
		return 0, err
	}
	if era == nil {
		return 0, fmt.Errorf("era %d: %w", eraID, domain.ErrNotFound)
	}

	cutoff := c.Cutoff(era)

	approved, err := c.store.Transfers.SumApproved(ctx, eraID)
	if err != nil {
		return 0, err
	}
	unlocked, err := c.store.Unlocks.SumUnlocked(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	value := Circulating(approved.Add(unlocked), era.TotalSupply, c.cfg.GenesisTotalSupply)

	era.CirculatingSupply = value
	if err := c.store.Eras.Update(ctx, era); err != nil {
		return 0, err
	}

	if era.EndBlock != nil {
		err := c.store.Blocks.SetCirculatingSupply(ctx, *era.EndBlock, value)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return 0, err
		}
	}

	metrics.CirculatingSupply.WithLabelValues(strconv.FormatUint(eraID, 10)).Set(float64(value))
	c.logger.Debug("Circulating supply recomputed",
		"era_id", eraID,
		"cutoff", cutoff,
		"circulating_supply", value,
	)
	return value, nil
}

// RecomputeAll recomputes every era in ascending id order.
func (c *Calculator) RecomputeAll(ctx context.Context) error {
	eras, err := c.store.Eras.List(ctx)
	if err != nil {
		return err
	}
	for _, era := range eras {
		if _, err := c.Recompute(ctx, era.ID); err != nil {
			return fmt.Errorf("recompute era %d: %w", era.ID, err)
		}
	}
	c.logger.Info("Circulating supply recomputed for all eras", "eras", len(eras))
	return nil
}

// Approve flips the approval of a transfer and recomputes every era, since
// approved transfers count towards every later era.
func (c *Calculator) Approve(ctx context.Context, hash string, approved bool) error {
	if err := c.store.Transfers.SetApproved(ctx, hash, approved); err != nil {
		return fmt.Errorf("set approved %s: %w", hash, err)
	}
	c.logger.Info("Transfer approval changed", "hash", hash, "approved", approved)
	return c.RecomputeAll(ctx)
}

// Circulating applies the proportional release model. releasedMotes is in
// motes, totalSupply and genesis are denominated.
func Circulating(releasedMotes decimal.Decimal, totalSupply, genesis int64) int64 {
	circ := releasedMotes.Shift(-domain.MotesExponent)
	if genesis <= 0 {
		return circ.Round(0).IntPart()
	}
	g := decimal.NewFromInt(genesis)
	rewards := decimal.NewFromInt(totalSupply).Sub(g).Mul(circ).Div(g)
	return circ.Add(rewards).Round(0).IntPart()
}
