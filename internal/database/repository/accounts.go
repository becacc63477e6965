package repository

import (
	"context"
	"database/sql"
	"time"
)

// AccountRepo handles accounts.
type AccountRepo struct {
	db *sql.DB
}

func NewAccountRepo(db *sql.DB) *AccountRepo { return &AccountRepo{db: db} }

func (r *AccountRepo) Insert(ctx context.Context, a Account) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO accounts(id, organization_id, name, kind, currency, balance, opened_at, authoritative_from, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
	`,
		a.ID, a.OrganizationID, a.Name, a.Kind, a.Currency, a.Balance,
		fmtDate(a.OpenedAt), fmtTimePtr(a.AuthoritativeFrom))
	return err
}

func (r *AccountRepo) Get(ctx context.Context, id string) (*Account, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT id, organization_id, name, kind, currency, balance, opened_at, authoritative_from, created_at, updated_at
	FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) List(ctx context.Context, organizationID string) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, organization_id, name, kind, currency, balance, opened_at, authoritative_from, created_at, updated_at
	FROM accounts WHERE organization_id = ? ORDER BY name`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AdjustBalance applies a signed delta to the account balance atomically.
func (r *AccountRepo) AdjustBalance(ctx context.Context, id string, delta int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET balance = balance + ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, delta, id)
	return err
}

// SetBalance overwrites the authoritative balance, e.g. from a provider sync.
func (r *AccountRepo) SetBalance(ctx context.Context, id string, balance int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, balance, id)
	return err
}

func (r *AccountRepo) SetAuthoritativeFrom(ctx context.Context, id string, from time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET authoritative_from = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		from.UTC().Format(time.RFC3339), id)
	return err
}

func scanAccount(row scanner) (Account, error) {
	var a Account
	var opened string
	var authFrom sql.NullString
	if err := row.Scan(&a.ID, &a.OrganizationID, &a.Name, &a.Kind, &a.Currency, &a.Balance,
		&opened, &authFrom, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	d, err := parseDate(opened)
	if err != nil {
		return Account{}, err
	}
	a.OpenedAt = d
	if authFrom.Valid {
		t, err := time.Parse(time.RFC3339, authFrom.String)
		if err != nil {
			return Account{}, err
		}
		a.AuthoritativeFrom = &t
	}
	return a, nil
}
