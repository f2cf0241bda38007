package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/erawatcher/internal/core/domain"
)

// BlockRepository handles block storage operations
type BlockRepository interface {
	// Create inserts a block. The height must not exist yet.
	Create(ctx context.Context, block *domain.Block) error

	// Get retrieves a block by height, nil when absent
	Get(ctx context.Context, height uint64) (*domain.Block, error)

	// Replace deletes any block at the same height and inserts block atomically
	Replace(ctx context.Context, block *domain.Block) error

	// DeleteByHeight removes the block at height (re-crawl)
	DeleteByHeight(ctx context.Context, height uint64) error

	// ListFrom returns up to limit blocks with height >= from, ascending
	ListFrom(ctx context.Context, from uint64, limit int) ([]*domain.Block, error)

	// ListByEra returns all blocks of an era, ascending
	ListByEra(ctx context.Context, eraID uint64) ([]*domain.Block, error)

	// Latest returns the highest stored block, nil when empty
	Latest(ctx context.Context) (*domain.Block, error)

	// SetCirculatingSupply patches the denormalized circulating supply
	SetCirculatingSupply(ctx context.Context, height uint64, supply int64) error
}

// EraRepository handles era storage operations
type EraRepository interface {
	// Get retrieves an era by id, nil when absent
	Get(ctx context.Context, id uint64) (*domain.Era, error)

	// Create inserts an era
	Create(ctx context.Context, era *domain.Era) error

	// Update overwrites all fields of an existing era
	Update(ctx context.Context, era *domain.Era) error

	// List returns every era in ascending id order
	List(ctx context.Context) ([]*domain.Era, error)

	// Latest returns the era with the highest id, nil when empty
	Latest(ctx context.Context) (*domain.Era, error)
}

// TransferRepository handles transfer storage operations
type TransferRepository interface {
	// Create inserts a transfer
	Create(ctx context.Context, t *domain.Transfer) error

	// DeleteByHeight removes every transfer of a block (re-crawl)
	DeleteByHeight(ctx context.Context, height uint64) error

	// ListByHeight returns the transfers of a block
	ListByHeight(ctx context.Context, height uint64) ([]*domain.Transfer, error)

	// Get retrieves a transfer by its hash, nil when absent
	Get(ctx context.Context, hash string) (*domain.Transfer, error)

	// FindUpstream returns the transfer into account with the smallest depth in
	// (0, MaxDepth), excluding the transfer identified by exclude. Nil when none.
	FindUpstream(ctx context.Context, account string, exclude string) (*domain.Transfer, error)

	// UpdateClassification persists depth and resolved public keys
	UpdateClassification(ctx context.Context, t *domain.Transfer) error

	// SetApproved flips the manual approval flag
	SetApproved(ctx context.Context, hash string, approved bool) error

	// SumApproved sums motes of approved transfers with era id <= maxEra
	SumApproved(ctx context.Context, maxEra uint64) (decimal.Decimal, error)
}

// KnownAccountRepository handles account hash -> public key mappings
type KnownAccountRepository interface {
	// Upsert stores a mapping, replacing an existing one
	Upsert(ctx context.Context, account *domain.KnownAccount) error

	// Get retrieves the mapping for hash, nil when unknown
	Get(ctx context.Context, hash string) (*domain.KnownAccount, error)
}

// UnlockRepository handles the validator unlock schedule
type UnlockRepository interface {
	// SaveBatch upserts schedule rows keyed by (public key, day)
	SaveBatch(ctx context.Context, entries []*domain.UnlockEntry) error

	// SumUnlocked sums motes of rows with day >= 0 and timestamp <= cutoff
	SumUnlocked(ctx context.Context, cutoff time.Time) (decimal.Decimal, error)
}

// Store bundles the repositories used by the indexing components.
type Store struct {
	Blocks    BlockRepository
	Eras      EraRepository
	Transfers TransferRepository
	Accounts  KnownAccountRepository
	Unlocks   UnlockRepository
}
