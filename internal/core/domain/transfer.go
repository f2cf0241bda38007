package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transfer depth values.
const (
	DepthUnclassified = 0
	DepthLocked       = 1
	MaxDepth          = 3
)

// Transfer is a single write-transfer effect of an executed deploy.
type Transfer struct {
	// Hash is the transfer key, e.g. "transfer-<hex>".
	Hash        string
	DeployHash  string
	BlockHeight uint64
	EraID       uint64
	Timestamp   time.Time

	FromHash string
	ToHash   string
	// FromHex and ToHex hold the public key when it is known, else "".
	FromHex string
	ToHex   string

	// Amount is in motes.
	Amount decimal.Decimal

	Depth    int
	Approved bool
}

// CanSeedDepth reports whether a transfer at this depth may be the upstream of another one.
func CanSeedDepth(depth int) bool {
	return depth > DepthUnclassified && depth < MaxDepth
}
