package database

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/tomaskal/finledger/internal/database/repository"
)

// SeedDefaults ensures baseline categories exist for an organization,
// including the mandatory fallback category. It is idempotent and safe to
// run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB, organizationID string) error {
	catRepo := repository.NewCategoryRepo(db)
	existing, err := catRepo.List(ctx, organizationID)
	if err == nil && len(existing) > 0 {
		return nil
	}
	defaults := []struct {
		name     string
		macro    string
		kind     string
		fallback bool
	}{
		{name: "Income", macro: "income", kind: "income"},
		{name: "Groceries", macro: "food", kind: "expense"},
		{name: "Restaurants", macro: "food", kind: "expense"},
		{name: "Transportation", macro: "transport", kind: "expense"},
		{name: "Shopping", macro: "shopping", kind: "expense"},
		{name: "Utilities", macro: "housing", kind: "expense"},
		{name: "Subscriptions", macro: "recurring", kind: "expense"},
		{name: "Health", macro: "health", kind: "expense"},
		{name: "Entertainment", macro: "leisure", kind: "expense"},
		{name: "Uncategorized", fallback: true},
	}
	for idx, d := range defaults {
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte("cat:"+organizationID+":"+d.name)).String()
		cat := repository.Category{
			ID:             id,
			OrganizationID: organizationID,
			Name:           d.name,
			IsFallback:     d.fallback,
			SortOrder:      idx,
		}
		if d.macro != "" {
			macro := d.macro
			cat.Macro = &macro
		}
		if d.kind != "" {
			kind := d.kind
			cat.Kind = &kind
		}
		if err := catRepo.Upsert(ctx, cat); err != nil {
			return err
		}
	}
	return nil
}
