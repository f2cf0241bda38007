package domain

import "time"

// Block is one ingested block together with the economic figures derived from
// its deploys. Amounts are denominated (whole tokens) unless stated otherwise.
type Block struct {
	Height        uint64
	EraID         uint64
	Hash          string
	Timestamp     time.Time
	StateRootHash string
	TotalSupply   int64

	// Staking flow inside this block: delegate + add_bid, undelegate + withdraw_bid.
	Staked   int64
	Unstaked int64

	// Reward split, only set on switch blocks.
	ValidatorRewards int64
	DelegatorRewards int64
	ValidatorsCount  int
	DelegatorsCount  int

	IsSwitchBlock            bool
	NextEraValidatorsWeights int64

	DeploysCount   int
	TransfersCount int

	// CirculatingSupply is denormalized from the era once the era is closed.
	CirculatingSupply int64
}
