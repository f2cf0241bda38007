package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vietddude/erawatcher/internal/core/domain"
)

// TransferRepo implements storage.TransferRepository using PostgreSQL.
type TransferRepo struct {
	db *DB
}

// NewTransferRepo creates a new PostgreSQL transfer repository.
func NewTransferRepo(db *DB) *TransferRepo {
	return &TransferRepo{db: db}
}

const transferColumns = `hash, deploy_hash, block_height, era_id, transfer_timestamp,
	from_hash, to_hash, from_hex, to_hex, amount, depth, approved`

type transferRow struct {
	Hash        string          `db:"hash"`
	DeployHash  string          `db:"deploy_hash"`
	BlockHeight int64           `db:"block_height"`
	EraID       int64           `db:"era_id"`
	Timestamp   time.Time       `db:"transfer_timestamp"`
	FromHash    string          `db:"from_hash"`
	ToHash      string          `db:"to_hash"`
	FromHex     string          `db:"from_hex"`
	ToHex       string          `db:"to_hex"`
	Amount      decimal.Decimal `db:"amount"`
	Depth       int             `db:"depth"`
	Approved    bool            `db:"approved"`
}

func (t *transferRow) toDomain() *domain.Transfer {
	return &domain.Transfer{
		Hash:        t.Hash,
		DeployHash:  t.DeployHash,
		BlockHeight: uint64(t.BlockHeight),
		EraID:       uint64(t.EraID),
		Timestamp:   t.Timestamp.UTC(),
		FromHash:    t.FromHash,
		ToHash:      t.ToHash,
		FromHex:     t.FromHex,
		ToHex:       t.ToHex,
		Amount:      t.Amount,
		Depth:       t.Depth,
		Approved:    t.Approved,
	}
}

// Create inserts a transfer.
func (r *TransferRepo) Create(ctx context.Context, t *domain.Transfer) error {
	query := `
		INSERT INTO transfers (` + transferColumns + `)
		VALUES (:hash, :deploy_hash, :block_height, :era_id, :transfer_timestamp,
			:from_hash, :to_hash, :from_hex, :to_hex, :amount, :depth, :approved)
	`
	row := transferRow{
		Hash:        t.Hash,
		DeployHash:  t.DeployHash,
		BlockHeight: int64(t.BlockHeight),
		EraID:       int64(t.EraID),
		Timestamp:   t.Timestamp.UTC(),
		FromHash:    t.FromHash,
		ToHash:      t.ToHash,
		FromHex:     t.FromHex,
		ToHex:       t.ToHex,
		Amount:      t.Amount,
		Depth:       t.Depth,
		Approved:    t.Approved,
	}
	if _, err := r.db.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("failed to create transfer: %w", err)
	}
	return nil
}

// DeleteByHeight deletes all transfers of a block.
func (r *TransferRepo) DeleteByHeight(ctx context.Context, height uint64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM transfers WHERE block_height = $1`, int64(height)); err != nil {
		return fmt.Errorf("failed to delete transfers: %w", err)
	}
	return nil
}

// ListByHeight returns the transfers of a block.
func (r *TransferRepo) ListByHeight(ctx context.Context, height uint64) ([]*domain.Transfer, error) {
	var rows []transferRow
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE block_height = $1 ORDER BY hash`
	if err := r.db.SelectContext(ctx, &rows, query, int64(height)); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	out := make([]*domain.Transfer, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// Get retrieves a transfer by hash.
func (r *TransferRepo) Get(ctx context.Context, hash string) (*domain.Transfer, error) {
	var row transferRow
	err := r.db.GetContext(ctx, &row, `SELECT `+transferColumns+` FROM transfers WHERE hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transfer: %w", err)
	}
	return row.toDomain(), nil
}

// FindUpstream returns the shallowest classified transfer into account.
func (r *TransferRepo) FindUpstream(ctx context.Context, account string, exclude string) (*domain.Transfer, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE to_hash = $1 AND hash <> $2 AND depth > $3 AND depth < $4
		ORDER BY depth ASC, hash ASC
		LIMIT 1
	`
	var row transferRow
	err := r.db.GetContext(ctx, &row, query, account, exclude, domain.DepthUnclassified, domain.MaxDepth)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find upstream transfer: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateClassification persists depth and resolved public keys.
func (r *TransferRepo) UpdateClassification(ctx context.Context, t *domain.Transfer) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transfers SET depth = $1, from_hex = $2, to_hex = $3 WHERE hash = $4`,
		t.Depth, t.FromHex, t.ToHex, t.Hash)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transfer %s: %w", t.Hash, domain.ErrNotFound)
	}
	return nil
}

// SetApproved flips the approval flag.
func (r *TransferRepo) SetApproved(ctx context.Context, hash string, approved bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE transfers SET approved = $1 WHERE hash = $2`, approved, hash)
	if err != nil {
		return fmt.Errorf("failed to set transfer approval: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("transfer %s: %w", hash, domain.ErrNotFound)
	}
	return nil
}

// SumApproved sums approved transfer motes up to and including maxEra.
func (r *TransferRepo) SumApproved(ctx context.Context, maxEra uint64) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM transfers WHERE approved AND era_id <= $1`
	if err := r.db.GetContext(ctx, &sum, query, int64(maxEra)); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum approved transfers: %w", err)
	}
	return sum, nil
}
