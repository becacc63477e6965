package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tomaskal/finledger/internal/database"
	"github.com/tomaskal/finledger/internal/logger"
)

// MaintenanceService houses destructive/ops actions surfaced through the CLI.
type MaintenanceService struct {
	DB *sql.DB
}

// Reset wipes all user data. It keeps the schema intact so the app can continue running.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		tables := []string{
			"reconciliation_mismatches",
			"balance_snapshots",
			"balance_offsets",
			"transactions",
			"rule_tokens",
			"category_rules",
			"categories",
			"accounts",
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	log := logger.FromContext(ctx)
	log.Info().Msg("all user data wiped")
	return nil
}
