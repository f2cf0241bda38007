package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/vietddude/erawatcher/internal/core/domain"
)

// UnlockRepo implements storage.UnlockRepository using PostgreSQL.
type UnlockRepo struct {
	db *DB
}

// NewUnlockRepo creates a new PostgreSQL unlock schedule repository.
func NewUnlockRepo(db *DB) *UnlockRepo {
	return &UnlockRepo{db: db}
}

// SaveBatch upserts schedule rows with a single unnest statement.
func (r *UnlockRepo) SaveBatch(ctx context.Context, entries []*domain.UnlockEntry) error {
	if len(entries) == 0 {
		return nil
	}

	keys := make([]string, len(entries))
	days := make([]int64, len(entries))
	stamps := make([]string, len(entries))
	amounts := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.PublicKey
		days[i] = int64(e.Day)
		stamps[i] = e.Timestamp.UTC().Format(time.RFC3339Nano)
		amounts[i] = e.Amount.String()
	}

	query := `
		INSERT INTO unlock_schedule (public_key, day, unlock_timestamp, amount)
		SELECT * FROM unnest($1::text[], $2::int[], $3::timestamptz[], $4::numeric[])
		ON CONFLICT (public_key, day) DO UPDATE SET
			unlock_timestamp = EXCLUDED.unlock_timestamp,
			amount = EXCLUDED.amount
	`
	_, err := r.db.ExecContext(ctx, query,
		pq.Array(keys), pq.Array(days), pq.Array(stamps), pq.Array(amounts))
	if err != nil {
		return fmt.Errorf("failed to save unlock schedule: %w", err)
	}
	return nil
}

// SumUnlocked sums motes released by cutoff.
func (r *UnlockRepo) SumUnlocked(ctx context.Context, cutoff time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	query := `SELECT COALESCE(SUM(amount), 0) FROM unlock_schedule WHERE day >= 0 AND unlock_timestamp <= $1`
	if err := r.db.GetContext(ctx, &sum, query, cutoff.UTC()); err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum unlock schedule: %w", err)
	}
	return sum, nil
}
