package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tomaskal/finledger/internal/database/repository"
	"github.com/tomaskal/finledger/internal/provider"
)

// SyncService pulls provider feeds into connected accounts. Provider data
// is the balance of record inside its authoritative window: snapshots are
// stored with provider precedence and the reported balance replaces ours.
type SyncService struct {
	Provider     provider.Provider
	Accounts     *repository.AccountRepo
	Transactions *repository.TransactionRepo
	Categories   *repository.CategoryRepo
	Rules        *repository.RuleRepo
	Categorizer  *CategorizerService
	Snapshots    *repository.SnapshotRepo
	Balance      *BalanceService
	Log          zerolog.Logger
}

// Sync fetches the account's feed and applies it. Transactions already
// known by external id are skipped, so repeated syncs are idempotent.
func (s *SyncService) Sync(ctx context.Context, accountID string) error {
	account, err := s.Accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("sync: account %s not found", accountID)
	}
	if account.Kind != repository.AccountConnected {
		return fmt.Errorf("sync: account %s is not connected", accountID)
	}

	feed, err := s.Provider.Fetch(ctx, accountID)
	if err != nil {
		return fmt.Errorf("sync: fetch feed: %w", err)
	}

	if !feed.AuthoritativeFrom.IsZero() {
		if err := s.Accounts.SetAuthoritativeFrom(ctx, account.ID, day(feed.AuthoritativeFrom)); err != nil {
			return err
		}
		from := day(feed.AuthoritativeFrom)
		account.AuthoritativeFrom = &from
	}
	if err := s.Accounts.SetBalance(ctx, account.ID, feed.Balance); err != nil {
		return err
	}
	account.Balance = feed.Balance

	for _, snap := range feed.Snapshots {
		err := s.Snapshots.UpsertProvider(ctx, repository.Snapshot{
			AccountID: account.ID,
			Date:      day(snap.Date),
			Balance:   snap.Balance,
			Currency:  account.Currency,
			Source:    repository.SnapshotProvider,
		})
		if err != nil {
			return err
		}
	}

	inserted, err := s.ingestTransactions(ctx, account, feed.Transactions)
	if err != nil {
		return err
	}
	s.Log.Info().
		Str("account_id", account.ID).
		Int("transactions", inserted).
		Int("snapshots", len(feed.Snapshots)).
		Msg("provider sync applied")

	return s.Balance.Recalculate(ctx, account.ID)
}

func (s *SyncService) ingestTransactions(ctx context.Context, account *repository.Account, records []provider.TransactionRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	categories, err := s.Categories.List(ctx, account.OrganizationID)
	if err != nil {
		return 0, err
	}
	rules, err := s.Rules.ListByOrganization(ctx, account.OrganizationID)
	if err != nil {
		return 0, err
	}

	inserted := 0
	for _, rec := range records {
		if rec.ExternalID == "" {
			return inserted, fmt.Errorf("sync: provider transaction without external id")
		}
		exists, err := s.Transactions.ExistsByExternalID(ctx, account.ID, rec.ExternalID)
		if err != nil {
			return inserted, err
		}
		if exists {
			continue
		}
		currency := rec.Currency
		if currency == "" {
			currency = account.Currency
		}
		ext := rec.ExternalID
		t := repository.Transaction{
			ID:             newID(),
			AccountID:      account.ID,
			OrganizationID: account.OrganizationID,
			Date:           day(rec.Date),
			Description:    rec.Description,
			Amount:         rec.Amount,
			Currency:       currency,
			ExternalID:     &ext,
			Status:         repository.StatusPosted,
			Settled:        true,
		}
		categoryID, err := s.Categorizer.Categorize(ctx, t, categories, rules)
		if err != nil {
			return inserted, err
		}
		t.CategoryID = &categoryID
		if err := s.Transactions.Insert(ctx, t); err != nil {
			return inserted, err
		}
		inserted++
	}
	return inserted, nil
}
