package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TransactionFilters defines list filters.
type TransactionFilters struct {
	AccountID  string
	CategoryID string
	Status     string
	From       time.Time
	To         time.Time
	Search     string
}

// TransactionRepo handles transactions.
type TransactionRepo struct {
	db *sql.DB
}

func NewTransactionRepo(db *sql.DB) *TransactionRepo { return &TransactionRepo{db: db} }

const transactionCols = `id, account_id, organization_id, date, amount, currency, description,
 external_id, category_id, recurring, status, settled, source_hash, deleted_at, created_at, updated_at`

func (r *TransactionRepo) Insert(ctx context.Context, t Transaction) error {
	return insertTransaction(ctx, r.db, t)
}

// InsertTx inserts within an open transaction so a batch can roll back as one.
func (r *TransactionRepo) InsertTx(ctx context.Context, tx *sql.Tx, t Transaction) error {
	return insertTransaction(ctx, tx, t)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertTransaction(ctx context.Context, ex execer, t Transaction) error {
	_, err := ex.ExecContext(ctx, `
	INSERT INTO transactions(
	 id, account_id, organization_id, date, amount, currency, description,
	 external_id, category_id, recurring, status, settled, source_hash, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		t.ID, t.AccountID, t.OrganizationID, fmtDate(t.Date), t.Amount, t.Currency, t.Description,
		t.ExternalID, t.CategoryID, t.Recurring, t.Status, t.Settled, t.SourceHash)
	return err
}

func (r *TransactionRepo) Get(ctx context.Context, id string) (*Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+transactionCols+` FROM transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (r *TransactionRepo) UpdateCategory(ctx context.Context, id string, categoryID *string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET category_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, categoryID, id)
	return err
}

// SoftDelete marks a transaction deleted. Rows are never hard-deleted while
// balance history depends on them.
func (r *TransactionRepo) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	return err
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilters) ([]Transaction, error) {
	where := []string{"deleted_at IS NULL"}
	var args []interface{}

	if f.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if !f.From.IsZero() {
		where = append(where, "date >= ?")
		args = append(args, fmtDate(f.From))
	}
	if !f.To.IsZero() {
		where = append(where, "date <= ?")
		args = append(args, fmtDate(f.To))
	}
	if f.Search != "" {
		where = append(where, "description LIKE ?")
		args = append(args, "%"+f.Search+"%")
	}

	query := `SELECT ` + transactionCols + ` FROM transactions WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY date DESC, created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ExistsByExternalID reports whether the account already holds a transaction
// with the given provider-supplied id.
func (r *TransactionRepo) ExistsByExternalID(ctx context.Context, accountID, externalID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = ? AND external_id = ? AND deleted_at IS NULL`,
		accountID, externalID).Scan(&n)
	return n > 0, err
}

// FindByTuple returns live transactions matching (account, date, amount),
// the key used for near-duplicate detection.
func (r *TransactionRepo) FindByTuple(ctx context.Context, accountID string, date time.Time, amount int64) ([]Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+transactionCols+` FROM transactions
		 WHERE account_id = ? AND date = ? AND amount = ? AND deleted_at IS NULL`,
		accountID, fmtDate(date), amount)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DailyNet returns the signed sum of realized transactions per day in
// [from, to]. Excluded and soft-deleted rows do not contribute.
func (r *TransactionRepo) DailyNet(ctx context.Context, accountID string, from, to time.Time) (map[string]int64, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT date, SUM(amount) FROM transactions
	WHERE account_id = ? AND date >= ? AND date <= ? AND status != ? AND deleted_at IS NULL
	GROUP BY date`,
		accountID, fmtDate(from), fmtDate(to), StatusExcluded)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var day string
		var sum int64
		if err := rows.Scan(&day, &sum); err != nil {
			return nil, err
		}
		out[day] = sum
	}
	return out, rows.Err()
}

// UnsettledRealizedSum returns the signed sum of rows whose date has
// arrived but whose balance effect has not been applied yet.
func (r *TransactionRepo) UnsettledRealizedSum(ctx context.Context, accountID string, asOf time.Time) (int64, error) {
	var sum sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
	SELECT SUM(amount) FROM transactions
	WHERE account_id = ? AND date <= ? AND settled = 0 AND status != ? AND deleted_at IS NULL`,
		accountID, fmtDate(asOf), StatusExcluded).Scan(&sum)
	return sum.Int64, err
}

// MarkSettled flags every realized row up to asOf as applied. Covers the
// same rows UnsettledRealizedSum sums.
func (r *TransactionRepo) MarkSettled(ctx context.Context, accountID string, asOf time.Time) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE transactions SET settled = 1, updated_at = CURRENT_TIMESTAMP
	WHERE account_id = ? AND date <= ? AND settled = 0 AND status != ? AND deleted_at IS NULL`,
		accountID, fmtDate(asOf), StatusExcluded)
	return err
}

// SumBefore returns the signed sum of realized transactions dated strictly
// before the given day.
func (r *TransactionRepo) SumBefore(ctx context.Context, accountID string, day time.Time) (int64, error) {
	var sum sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
	SELECT SUM(amount) FROM transactions
	WHERE account_id = ? AND date < ? AND status != ? AND deleted_at IS NULL`,
		accountID, fmtDate(day), StatusExcluded).Scan(&sum)
	return sum.Int64, err
}

// EarliestDate returns the oldest realized transaction date for the account.
// ok is false when the account has no transactions.
func (r *TransactionRepo) EarliestDate(ctx context.Context, accountID string) (date time.Time, ok bool, err error) {
	var day sql.NullString
	err = r.db.QueryRowContext(ctx, `
	SELECT MIN(date) FROM transactions
	WHERE account_id = ? AND status != ? AND deleted_at IS NULL`,
		accountID, StatusExcluded).Scan(&day)
	if err != nil || !day.Valid {
		return time.Time{}, false, err
	}
	date, err = parseDate(day.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return date, true, nil
}

func scanTransaction(row scanner) (Transaction, error) {
	var t Transaction
	var day string
	var external, category, source sql.NullString
	var deleted sql.NullTime
	if err := row.Scan(&t.ID, &t.AccountID, &t.OrganizationID, &day, &t.Amount, &t.Currency,
		&t.Description, &external, &category, &t.Recurring, &t.Status, &t.Settled, &source,
		&deleted, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Transaction{}, err
	}
	d, err := parseDate(day)
	if err != nil {
		return Transaction{}, err
	}
	t.Date = d
	if external.Valid {
		t.ExternalID = &external.String
	}
	if category.Valid {
		t.CategoryID = &category.String
	}
	if source.Valid {
		t.SourceHash = &source.String
	}
	if deleted.Valid {
		t.DeletedAt = &deleted.Time
	}
	return t, nil
}
