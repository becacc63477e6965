package repository

import (
	"context"
	"database/sql"
)

// OffsetRepo handles per-account balance offsets: the adjustment absorbing
// transactions dated before the account's tracking start.
type OffsetRepo struct {
	db *sql.DB
}

func NewOffsetRepo(db *sql.DB) *OffsetRepo { return &OffsetRepo{db: db} }

// Get returns the stored offset, zero when none has been recorded.
func (r *OffsetRepo) Get(ctx context.Context, accountID string) (int64, error) {
	var amount int64
	err := r.db.QueryRowContext(ctx,
		`SELECT amount FROM balance_offsets WHERE account_id = ?`, accountID).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return amount, err
}

// Set overwrites the offset with a recomputed value.
func (r *OffsetRepo) Set(ctx context.Context, accountID string, amount int64) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO balance_offsets(account_id, amount, updated_at)
	VALUES(?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(account_id) DO UPDATE SET
	 amount = excluded.amount, updated_at = CURRENT_TIMESTAMP;
	`, accountID, amount)
	return err
}
