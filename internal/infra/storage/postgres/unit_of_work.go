package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// UnitOfWork bundles persistence operations into a single database transaction,
// ensuring atomicity (all succeed or all fail).
type UnitOfWork struct {
	tx *sqlx.Tx
}

// NewUnitOfWork creates a new unit of work with an active transaction.
func (db *DB) NewUnitOfWork(ctx context.Context) (*UnitOfWork, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx}, nil
}

// Tx exposes the transaction to repositories.
func (u *UnitOfWork) Tx() *sqlx.Tx {
	return u.tx
}

// Commit commits the transaction.
func (u *UnitOfWork) Commit() error {
	if u.tx == nil {
		return fmt.Errorf("transaction already completed")
	}
	err := u.tx.Commit()
	u.tx = nil
	return err
}

// Rollback rolls back the transaction. Safe to call multiple times.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil // Already committed or rolled back
	}
	err := u.tx.Rollback()
	u.tx = nil
	return err
}

// InTx runs fn inside a unit of work, committing on success.
func (db *DB) InTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	uow, err := db.NewUnitOfWork(ctx)
	if err != nil {
		return err
	}
	defer func() {
		_ = uow.Rollback()
	}()

	if err := fn(uow.Tx()); err != nil {
		return err
	}
	return uow.Commit()
}
