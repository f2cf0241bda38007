package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vietddude/erawatcher/internal/core/domain"
)

// AccountRepo implements storage.KnownAccountRepository using PostgreSQL.
type AccountRepo struct {
	db *DB
}

// NewAccountRepo creates a new PostgreSQL known-account repository.
func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Upsert stores a mapping.
func (r *AccountRepo) Upsert(ctx context.Context, account *domain.KnownAccount) error {
	query := `
		INSERT INTO known_accounts (hash, public_key) VALUES ($1, $2)
		ON CONFLICT (hash) DO UPDATE SET public_key = EXCLUDED.public_key
	`
	if _, err := r.db.ExecContext(ctx, query, account.Hash, account.PublicKey); err != nil {
		return fmt.Errorf("failed to upsert known account: %w", err)
	}
	return nil
}

// Get retrieves the mapping for hash.
func (r *AccountRepo) Get(ctx context.Context, hash string) (*domain.KnownAccount, error) {
	var row struct {
		Hash      string `db:"hash"`
		PublicKey string `db:"public_key"`
	}
	err := r.db.GetContext(ctx, &row, `SELECT hash, public_key FROM known_accounts WHERE hash = $1`, hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get known account: %w", err)
	}
	return &domain.KnownAccount{Hash: row.Hash, PublicKey: row.PublicKey}, nil
}
