package repository

import (
	"context"
	"database/sql"
	"time"
)

// SnapshotRepo handles the daily balance series.
type SnapshotRepo struct {
	db *sql.DB
}

func NewSnapshotRepo(db *sql.DB) *SnapshotRepo { return &SnapshotRepo{db: db} }

// UpsertComputed writes a computed snapshot unless a provider snapshot
// already owns the date. Provider rows are authoritative and never
// overwritten by the computed series.
func (r *SnapshotRepo) UpsertComputed(ctx context.Context, s Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO balance_snapshots(account_id, date, balance, currency, source)
	VALUES(?, ?, ?, ?, ?)
	ON CONFLICT(account_id, date) DO UPDATE SET
	 balance = excluded.balance, currency = excluded.currency, source = excluded.source
	WHERE balance_snapshots.source != ?;
	`, s.AccountID, fmtDate(s.Date), s.Balance, s.Currency, SnapshotComputed, SnapshotProvider)
	return err
}

// UpsertProvider writes a provider-authoritative snapshot.
func (r *SnapshotRepo) UpsertProvider(ctx context.Context, s Snapshot) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO balance_snapshots(account_id, date, balance, currency, source)
	VALUES(?, ?, ?, ?, ?)
	ON CONFLICT(account_id, date) DO UPDATE SET
	 balance = excluded.balance, currency = excluded.currency, source = excluded.source;
	`, s.AccountID, fmtDate(s.Date), s.Balance, s.Currency, SnapshotProvider)
	return err
}

func (r *SnapshotRepo) Get(ctx context.Context, accountID string, date time.Time) (*Snapshot, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT account_id, date, balance, currency, source
	FROM balance_snapshots WHERE account_id = ? AND date = ?`, accountID, fmtDate(date))
	s, err := scanSnapshot(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Series returns the snapshot series for [from, to] in ascending date order.
func (r *SnapshotRepo) Series(ctx context.Context, accountID string, from, to time.Time) ([]Snapshot, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT account_id, date, balance, currency, source
	FROM balance_snapshots
	WHERE account_id = ? AND date >= ? AND date <= ?
	ORDER BY date`, accountID, fmtDate(from), fmtDate(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Range returns the earliest and latest snapshot dates for the account.
func (r *SnapshotRepo) Range(ctx context.Context, accountID string) (from, to time.Time, ok bool, err error) {
	var minDay, maxDay sql.NullString
	err = r.db.QueryRowContext(ctx,
		`SELECT MIN(date), MAX(date) FROM balance_snapshots WHERE account_id = ?`, accountID).
		Scan(&minDay, &maxDay)
	if err != nil || !minDay.Valid {
		return time.Time{}, time.Time{}, false, err
	}
	from, err = parseDate(minDay.String)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	to, err = parseDate(maxDay.String)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	return from, to, true, nil
}

// Count returns the number of snapshot rows in [from, to], used by the
// engine's gap check.
func (r *SnapshotRepo) Count(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM balance_snapshots
	WHERE account_id = ? AND date >= ? AND date <= ?`,
		accountID, fmtDate(from), fmtDate(to)).Scan(&n)
	return n, err
}

func scanSnapshot(row scanner) (Snapshot, error) {
	var s Snapshot
	var day string
	if err := row.Scan(&s.AccountID, &day, &s.Balance, &s.Currency, &s.Source); err != nil {
		return Snapshot{}, err
	}
	d, err := parseDate(day)
	if err != nil {
		return Snapshot{}, err
	}
	s.Date = d
	return s, nil
}
