package repository

import (
	"context"
	"database/sql"
)

// CategoryRepo handles categories.
type CategoryRepo struct {
	db *sql.DB
}

func NewCategoryRepo(db *sql.DB) *CategoryRepo { return &CategoryRepo{db: db} }

func (r *CategoryRepo) Upsert(ctx context.Context, c Category) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO categories(id, organization_id, name, macro, kind, icon, color, is_fallback, sort_order)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
	 name = excluded.name, macro = excluded.macro, kind = excluded.kind,
	 icon = excluded.icon, color = excluded.color,
	 is_fallback = excluded.is_fallback, sort_order = excluded.sort_order;
	`, c.ID, c.OrganizationID, c.Name, c.Macro, c.Kind, c.Icon, c.Color, c.IsFallback, c.SortOrder)
	return err
}

func (r *CategoryRepo) List(ctx context.Context, organizationID string) ([]Category, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, organization_id, name, macro, kind, icon, color, is_fallback, sort_order
	FROM categories WHERE organization_id = ? ORDER BY sort_order, name`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Fallback returns the organization's designated fallback category, or nil
// when the organization is misconfigured and has none.
func (r *CategoryRepo) Fallback(ctx context.Context, organizationID string) (*Category, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT id, organization_id, name, macro, kind, icon, color, is_fallback, sort_order
	FROM categories WHERE organization_id = ? AND is_fallback = 1`, organizationID)
	c, err := scanCategory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func scanCategory(row scanner) (Category, error) {
	var c Category
	var macro, kind, icon, color sql.NullString
	if err := row.Scan(&c.ID, &c.OrganizationID, &c.Name, &macro, &kind, &icon, &color,
		&c.IsFallback, &c.SortOrder); err != nil {
		return Category{}, err
	}
	if macro.Valid {
		c.Macro = &macro.String
	}
	if kind.Valid {
		c.Kind = &kind.String
	}
	if icon.Valid {
		c.Icon = &icon.String
	}
	if color.Valid {
		c.Color = &color.String
	}
	return c, nil
}
