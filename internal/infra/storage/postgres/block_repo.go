package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/erawatcher/internal/core/domain"
)

// BlockRepo implements storage.BlockRepository using PostgreSQL.
type BlockRepo struct {
	db *DB
}

// NewBlockRepo creates a new PostgreSQL block repository.
func NewBlockRepo(db *DB) *BlockRepo {
	return &BlockRepo{db: db}
}

const blockColumns = `height, era_id, hash, block_timestamp, state_root_hash, total_supply,
	staked, unstaked, validator_rewards, delegator_rewards, validators_count, delegators_count,
	is_switch_block, next_era_validators_weights, deploys_count, transfers_count, circulating_supply`

const insertBlockQuery = `
	INSERT INTO blocks (` + blockColumns + `)
	VALUES (:height, :era_id, :hash, :block_timestamp, :state_root_hash, :total_supply,
		:staked, :unstaked, :validator_rewards, :delegator_rewards, :validators_count, :delegators_count,
		:is_switch_block, :next_era_validators_weights, :deploys_count, :transfers_count, :circulating_supply)
`

type blockRow struct {
	Height                   int64     `db:"height"`
	EraID                    int64     `db:"era_id"`
	Hash                     string    `db:"hash"`
	Timestamp                time.Time `db:"block_timestamp"`
	StateRootHash            string    `db:"state_root_hash"`
	TotalSupply              int64     `db:"total_supply"`
	Staked                   int64     `db:"staked"`
	Unstaked                 int64     `db:"unstaked"`
	ValidatorRewards         int64     `db:"validator_rewards"`
	DelegatorRewards         int64     `db:"delegator_rewards"`
	ValidatorsCount          int       `db:"validators_count"`
	DelegatorsCount          int       `db:"delegators_count"`
	IsSwitchBlock            bool      `db:"is_switch_block"`
	NextEraValidatorsWeights int64     `db:"next_era_validators_weights"`
	DeploysCount             int       `db:"deploys_count"`
	TransfersCount           int       `db:"transfers_count"`
	CirculatingSupply        int64     `db:"circulating_supply"`
}

func newBlockRow(b *domain.Block) *blockRow {
	return &blockRow{
		Height:                   int64(b.Height),
		EraID:                    int64(b.EraID),
		Hash:                     b.Hash,
		Timestamp:                b.Timestamp.UTC(),
		StateRootHash:            b.StateRootHash,
		TotalSupply:              b.TotalSupply,
		Staked:                   b.Staked,
		Unstaked:                 b.Unstaked,
		ValidatorRewards:         b.ValidatorRewards,
		DelegatorRewards:         b.DelegatorRewards,
		ValidatorsCount:          b.ValidatorsCount,
		DelegatorsCount:          b.DelegatorsCount,
		IsSwitchBlock:            b.IsSwitchBlock,
		NextEraValidatorsWeights: b.NextEraValidatorsWeights,
		DeploysCount:             b.DeploysCount,
		TransfersCount:           b.TransfersCount,
		CirculatingSupply:        b.CirculatingSupply,
	}
}

func (b *blockRow) toDomain() *domain.Block {
	return &domain.Block{
		Height:                   uint64(b.Height),
		EraID:                    uint64(b.EraID),
		Hash:                     b.Hash,
		Timestamp:                b.Timestamp.UTC(),
		StateRootHash:            b.StateRootHash,
		TotalSupply:              b.TotalSupply,
		Staked:                   b.Staked,
		Unstaked:                 b.Unstaked,
		ValidatorRewards:         b.ValidatorRewards,
		DelegatorRewards:         b.DelegatorRewards,
		ValidatorsCount:          b.ValidatorsCount,
		DelegatorsCount:          b.DelegatorsCount,
		IsSwitchBlock:            b.IsSwitchBlock,
		NextEraValidatorsWeights: b.NextEraValidatorsWeights,
		DeploysCount:             b.DeploysCount,
		TransfersCount:           b.TransfersCount,
		CirculatingSupply:        b.CirculatingSupply,
	}
}

// Create inserts a block.
func (r *BlockRepo) Create(ctx context.Context, block *domain.Block) error {
	if _, err := r.db.NamedExecContext(ctx, insertBlockQuery, newBlockRow(block)); err != nil {
		return fmt.Errorf("failed to create block: %w", err)
	}
	return nil
}

// Replace deletes the block at the same height and inserts block in one transaction.
func (r *BlockRepo) Replace(ctx context.Context, block *domain.Block) error {
	return r.db.InTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE height = $1`, int64(block.Height)); err != nil {
			return fmt.Errorf("failed to delete block: %w", err)
		}
		if _, err := tx.NamedExecContext(ctx, insertBlockQuery, newBlockRow(block)); err != nil {
			return fmt.Errorf("failed to create block: %w", err)
		}
		return nil
	})
}

// Get retrieves a block by height.
func (r *BlockRepo) Get(ctx context.Context, height uint64) (*domain.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks WHERE height = $1`

	var row blockRow
	err := r.db.GetContext(ctx, &row, query, int64(height))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	return row.toDomain(), nil
}

// DeleteByHeight deletes the block at height.
func (r *BlockRepo) DeleteByHeight(ctx context.Context, height uint64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM blocks WHERE height = $1`, int64(height)); err != nil {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	return nil
}

// ListFrom returns up to limit blocks from height on, ascending.
func (r *BlockRepo) ListFrom(ctx context.Context, from uint64, limit int) ([]*domain.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks WHERE height >= $1 ORDER BY height ASC LIMIT $2`
	return r.list(ctx, query, int64(from), limit)
}

// ListByEra returns all blocks of an era, ascending.
func (r *BlockRepo) ListByEra(ctx context.Context, eraID uint64) ([]*domain.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks WHERE era_id = $1 ORDER BY height ASC`
	return r.list(ctx, query, int64(eraID))
}

// Latest retrieves the highest stored block.
func (r *BlockRepo) Latest(ctx context.Context) (*domain.Block, error) {
	query := `SELECT ` + blockColumns + ` FROM blocks ORDER BY height DESC LIMIT 1`

	var row blockRow
	err := r.db.GetContext(ctx, &row, query)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}
	return row.toDomain(), nil
}

// SetCirculatingSupply patches the denormalized circulating supply.
func (r *BlockRepo) SetCirculatingSupply(ctx context.Context, height uint64, supply int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE blocks SET circulating_supply = $1 WHERE height = $2`, supply, int64(height))
	if err != nil {
		return fmt.Errorf("failed to update block circulating supply: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("block %d: %w", height, domain.ErrNotFound)
	}
	return nil
}

func (r *BlockRepo) list(ctx context.Context, query string, args ...any) ([]*domain.Block, error) {
	var rows []blockRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list blocks: %w", err)
	}
	out := make([]*domain.Block, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}
