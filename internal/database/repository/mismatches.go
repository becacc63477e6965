package repository

import (
	"context"
	"database/sql"
)

// MismatchRepo records reconciliation mismatches as data-quality signals.
type MismatchRepo struct {
	db *sql.DB
}

func NewMismatchRepo(db *sql.DB) *MismatchRepo { return &MismatchRepo{db: db} }

func (r *MismatchRepo) Insert(ctx context.Context, m Mismatch) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO reconciliation_mismatches(id, account_id, date, computed, provider, observed_at)
	VALUES(?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
	`, m.ID, m.AccountID, fmtDate(m.Date), m.Computed, m.Provider)
	return err
}

// RecordOnce inserts a mismatch unless the same disagreement is already
// on file for that account and day, so repeated recalculations stay quiet.
func (r *MismatchRepo) RecordOnce(ctx context.Context, m Mismatch) error {
	var exists int
	err := r.db.QueryRowContext(ctx, `
	SELECT COUNT(1) FROM reconciliation_mismatches
	WHERE account_id = ? AND date = ? AND computed = ? AND provider = ?`,
		m.AccountID, fmtDate(m.Date), m.Computed, m.Provider).Scan(&exists)
	if err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}
	return r.Insert(ctx, m)
}

func (r *MismatchRepo) ListByAccount(ctx context.Context, accountID string) ([]Mismatch, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, account_id, date, computed, provider, observed_at
	FROM reconciliation_mismatches WHERE account_id = ? ORDER BY date`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Mismatch
	for rows.Next() {
		var m Mismatch
		var day string
		if err := rows.Scan(&m.ID, &m.AccountID, &day, &m.Computed, &m.Provider, &m.ObservedAt); err != nil {
			return nil, err
		}
		d, err := parseDate(day)
		if err != nil {
			return nil, err
		}
		m.Date = d
		out = append(out, m)
	}
	return out, rows.Err()
}
