package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/erawatcher/internal/core/domain"
)

// EraRepo implements storage.EraRepository using PostgreSQL.
type EraRepo struct {
	db *DB
}

// NewEraRepo creates a new PostgreSQL era repository.
func NewEraRepo(db *DB) *EraRepo {
	return &EraRepo{db: db}
}

const eraColumns = `id, start_block, start_time, end_block, end_time, total_supply, validators_weights,
	staked, unstaked, validator_rewards, delegator_rewards, validators_count, delegators_count, circulating_supply`

type eraRow struct {
	ID                int64         `db:"id"`
	StartBlock        int64         `db:"start_block"`
	Start             time.Time     `db:"start_time"`
	EndBlock          sql.NullInt64 `db:"end_block"`
	End               sql.NullTime  `db:"end_time"`
	TotalSupply       int64         `db:"total_supply"`
	ValidatorsWeights int64         `db:"validators_weights"`
	Staked            int64         `db:"staked"`
	Unstaked          int64         `db:"unstaked"`
	ValidatorRewards  int64         `db:"validator_rewards"`
	DelegatorRewards  int64         `db:"delegator_rewards"`
	ValidatorsCount   int           `db:"validators_count"`
	DelegatorsCount   int           `db:"delegators_count"`
	CirculatingSupply int64         `db:"circulating_supply"`
}

func newEraRow(e *domain.Era) *eraRow {
	row := &eraRow{
		ID:                int64(e.ID),
		StartBlock:        int64(e.StartBlock),
		Start:             e.Start.UTC(),
		TotalSupply:       e.TotalSupply,
		ValidatorsWeights: e.ValidatorsWeights,
		Staked:            e.Staked,
		Unstaked:          e.Unstaked,
		ValidatorRewards:  e.ValidatorRewards,
		DelegatorRewards:  e.DelegatorRewards,
		ValidatorsCount:   e.ValidatorsCount,
		DelegatorsCount:   e.DelegatorsCount,
		CirculatingSupply: e.CirculatingSupply,
	}
	if e.EndBlock != nil {
		row.EndBlock = sql.NullInt64{Int64: int64(*e.EndBlock), Valid: true}
	}
	if e.End != nil {
		row.End = sql.NullTime{Time: e.End.UTC(), Valid: true}
	}
	return row
}

func (r *eraRow) toDomain() *domain.Era {
	e := &domain.Era{
		ID:                uint64(r.ID),
		StartBlock:        uint64(r.StartBlock),
		Start:             r.Start.UTC(),
		TotalSupply:       r.TotalSupply,
		ValidatorsWeights: r.ValidatorsWeights,
		Staked:            r.Staked,
		Unstaked:          r.Unstaked,
		ValidatorRewards:  r.ValidatorRewards,
		DelegatorRewards:  r.DelegatorRewards,
		ValidatorsCount:   r.ValidatorsCount,
		DelegatorsCount:   r.DelegatorsCount,
		CirculatingSupply: r.CirculatingSupply,
	}
	if r.EndBlock.Valid {
		v := uint64(r.EndBlock.Int64)
		e.EndBlock = &v
	}
	if r.End.Valid {
		v := r.End.Time.UTC()
		e.End = &v
	}
	return e
}

// Get retrieves an era by id.
func (r *EraRepo) Get(ctx context.Context, id uint64) (*domain.Era, error) {
	var row eraRow
	err := r.db.GetContext(ctx, &row, `SELECT `+eraColumns+` FROM eras WHERE id = $1`, int64(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get era: %w", err)
	}
	return row.toDomain(), nil
}

// Create inserts an era.
func (r *EraRepo) Create(ctx context.Context, era *domain.Era) error {
	query := `
		INSERT INTO eras (` + eraColumns + `)
		VALUES (:id, :start_block, :start_time, :end_block, :end_time, :total_supply, :validators_weights,
			:staked, :unstaked, :validator_rewards, :delegator_rewards, :validators_count, :delegators_count,
			:circulating_supply)
	`
	if _, err := r.db.NamedExecContext(ctx, query, newEraRow(era)); err != nil {
		return fmt.Errorf("failed to create era: %w", err)
	}
	return nil
}

// Update overwrites an existing era.
func (r *EraRepo) Update(ctx context.Context, era *domain.Era) error {
	query := `
		UPDATE eras SET
			start_block = :start_block,
			start_time = :start_time,
			end_block = :end_block,
			end_time = :end_time,
			total_supply = :total_supply,
			validators_weights = :validators_weights,
			staked = :staked,
			unstaked = :unstaked,
			validator_rewards = :validator_rewards,
			delegator_rewards = :delegator_rewards,
			validators_count = :validators_count,
			delegators_count = :delegators_count,
			circulating_supply = :circulating_supply
		WHERE id = :id
	`
	res, err := r.db.NamedExecContext(ctx, query, newEraRow(era))
	if err != nil {
		return fmt.Errorf("failed to update era: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("era %d: %w", era.ID, domain.ErrNotFound)
	}
	return nil
}

// List returns every era ascending.
func (r *EraRepo) List(ctx context.Context) ([]*domain.Era, error) {
	var rows []eraRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+eraColumns+` FROM eras ORDER BY id ASC`); err != nil {
		return nil, fmt.Errorf("failed to list eras: %w", err)
	}
	out := make([]*domain.Era, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// Latest returns the era with the highest id.
func (r *EraRepo) Latest(ctx context.Context) (*domain.Era, error) {
	var row eraRow
	err := r.db.GetContext(ctx, &row, `SELECT `+eraColumns+` FROM eras ORDER BY id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest era: %w", err)
	}
	return row.toDomain(), nil
}
