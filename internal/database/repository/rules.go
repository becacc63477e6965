package repository

import (
	"context"
	"database/sql"
)

// RuleRepo handles categorization rules and their token weights.
type RuleRepo struct {
	db *sql.DB
}

func NewRuleRepo(db *sql.DB) *RuleRepo { return &RuleRepo{db: db} }

// ListByOrganization returns rules in stable insertion order, tokens loaded.
// Insertion order is the documented tie-break for equal relevance scores.
func (r *RuleRepo) ListByOrganization(ctx context.Context, organizationID string) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, organization_id, category_id, created_at
	FROM category_rules WHERE organization_id = ? ORDER BY rowid`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.ID, &rule.OrganizationID, &rule.CategoryID, &rule.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		tokens, err := r.fetchTokens(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Tokens = tokens
	}
	return out, nil
}

func (r *RuleRepo) fetchTokens(ctx context.Context, ruleID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT token, relevance FROM rule_tokens WHERE rule_id = ?`, ruleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tokens := make(map[string]int)
	for rows.Next() {
		var tok string
		var rel int
		if err := rows.Scan(&tok, &rel); err != nil {
			return nil, err
		}
		tokens[tok] = rel
	}
	return tokens, rows.Err()
}

// IncrementTokens bumps the relevance of each token on the organization's
// rule for the category, creating the rule when none exists. The increments
// are upserts so concurrent corrections never lose updates.
func (r *RuleRepo) IncrementTokens(ctx context.Context, ruleID, organizationID, categoryID string, tokens []string) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO category_rules(id, organization_id, category_id, created_at)
	VALUES(?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(organization_id, category_id) DO NOTHING;
	`, ruleID, organizationID, categoryID)
	if err != nil {
		return err
	}

	var id string
	err = r.db.QueryRowContext(ctx,
		`SELECT id FROM category_rules WHERE organization_id = ? AND category_id = ?`,
		organizationID, categoryID).Scan(&id)
	if err != nil {
		return err
	}

	for _, tok := range tokens {
		_, err := r.db.ExecContext(ctx, `
		INSERT INTO rule_tokens(rule_id, token, relevance) VALUES(?, ?, 1)
		ON CONFLICT(rule_id, token) DO UPDATE SET relevance = relevance + 1;
		`, id, tok)
		if err != nil {
			return err
		}
	}
	return nil
}

// SetTokenWeight pins an explicit relevance weight, used by seeds and tests.
func (r *RuleRepo) SetTokenWeight(ctx context.Context, ruleID, token string, relevance int) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO rule_tokens(rule_id, token, relevance) VALUES(?, ?, ?)
	ON CONFLICT(rule_id, token) DO UPDATE SET relevance = excluded.relevance;
	`, ruleID, token, relevance)
	return err
}

// Insert creates a bare rule with no tokens.
func (r *RuleRepo) Insert(ctx context.Context, rule Rule) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO category_rules(id, organization_id, category_id, created_at)
	VALUES(?, ?, ?, CURRENT_TIMESTAMP);
	`, rule.ID, rule.OrganizationID, rule.CategoryID)
	if err != nil {
		return err
	}
	for tok, rel := range rule.Tokens {
		if err := r.SetTokenWeight(ctx, rule.ID, tok, rel); err != nil {
			return err
		}
	}
	return nil
}
