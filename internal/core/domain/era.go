package domain

import "time"

// GenesisEraID is the id of the first era.
const GenesisEraID uint64 = 0

// Era aggregates the blocks of one validation period.
type Era struct {
	ID         uint64
	StartBlock uint64
	Start      time.Time
	// EndBlock and End stay nil while the era is open.
	EndBlock *uint64
	End      *time.Time

	TotalSupply       int64
	ValidatorsWeights int64

	Staked           int64
	Unstaked         int64
	ValidatorRewards int64
	DelegatorRewards int64
	ValidatorsCount  int
	DelegatorsCount  int

	CirculatingSupply int64
}

// IsOpen reports whether the era has no successor yet.
func (e *Era) IsOpen() bool {
	return e.End == nil
}

// Close sets the end of the era to one millisecond before next starts.
func (e *Era) Close(lastBlock uint64, nextStart time.Time) {
	end := nextStart.Add(-time.Millisecond)
	e.EndBlock = &lastBlock
	e.End = &end
}

// ResetTotals zeroes the summed fields before they are recomputed from blocks.
func (e *Era) ResetTotals() {
	e.Staked = 0
	e.Unstaked = 0
	e.ValidatorRewards = 0
	e.DelegatorRewards = 0
	e.ValidatorsCount = 0
	e.DelegatorsCount = 0
}

// AddBlock folds the per-block figures of b into the era totals.
func (e *Era) AddBlock(b *Block) {
	e.Staked += b.Staked
	e.Unstaked += b.Unstaked
	e.ValidatorRewards += b.ValidatorRewards
	e.DelegatorRewards += b.DelegatorRewards
	e.ValidatorsCount += b.ValidatorsCount
	e.DelegatorsCount += b.DelegatorsCount
}
