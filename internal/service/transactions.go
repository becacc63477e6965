package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomaskal/finledger/internal/database/repository"
)

// ErrConnectedAccount rejects manual writes to provider-managed accounts.
var ErrConnectedAccount = errors.New("transactions: account is provider-managed")

// ManualTransaction is the user-entered form of a transaction. CategoryID
// is optional; when empty the categorizer assigns one.
type ManualTransaction struct {
	AccountID   string
	Date        time.Time
	Description string
	Amount      int64
	Currency    string
	CategoryID  string
	Recurring   bool
}

// TransactionService handles user-driven transaction writes on manual
// accounts and keeps the account balance, offset and snapshot series in
// step with every change.
type TransactionService struct {
	Accounts     *repository.AccountRepo
	Transactions *repository.TransactionRepo
	Categories   *repository.CategoryRepo
	Rules        *repository.RuleRepo
	Categorizer  *CategorizerService
	Balance      *BalanceService
	Log          zerolog.Logger
}

// CreateManual inserts a user-entered transaction. Rows dated between the
// account's opening day and today move the authoritative balance; earlier
// rows are absorbed by the offset; future rows touch neither until their
// day arrives.
func (s *TransactionService) CreateManual(ctx context.Context, in ManualTransaction) (*repository.Transaction, error) {
	account, err := s.Accounts.Get(ctx, in.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("transactions: account %s not found", in.AccountID)
	}
	if account.Kind == repository.AccountConnected {
		return nil, ErrConnectedAccount
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, errors.New("transactions: description is required")
	}

	currency := strings.ToUpper(in.Currency)
	if currency == "" {
		currency = account.Currency
	}
	t := repository.Transaction{
		ID:             newID(),
		AccountID:      account.ID,
		OrganizationID: account.OrganizationID,
		Date:           day(in.Date),
		Description:    in.Description,
		Amount:         in.Amount,
		Currency:       currency,
		Recurring:      in.Recurring,
		Status:         repository.StatusPosted,
		Settled:        !day(in.Date).After(day(s.Balance.now())),
	}
	if in.CategoryID != "" {
		t.CategoryID = &in.CategoryID
	} else {
		categories, err := s.Categories.List(ctx, account.OrganizationID)
		if err != nil {
			return nil, err
		}
		rules, err := s.Rules.ListByOrganization(ctx, account.OrganizationID)
		if err != nil {
			return nil, err
		}
		categoryID, err := s.Categorizer.Categorize(ctx, t, categories, rules)
		if err != nil {
			return nil, err
		}
		t.CategoryID = &categoryID
	}

	if err := s.Transactions.Insert(ctx, t); err != nil {
		return nil, err
	}
	if err := s.applyDelta(ctx, account, t, t.Amount); err != nil {
		return nil, err
	}
	return &t, nil
}

// Delete soft-deletes a transaction and reverses its balance effect.
func (s *TransactionService) Delete(ctx context.Context, id string) error {
	t, err := s.Transactions.Get(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("transactions: %s not found", id)
	}
	account, err := s.Accounts.Get(ctx, t.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("transactions: account %s not found", t.AccountID)
	}
	if account.Kind == repository.AccountConnected {
		return ErrConnectedAccount
	}
	if err := s.Transactions.SoftDelete(ctx, id); err != nil {
		return err
	}
	return s.applyDelta(ctx, account, *t, -t.Amount)
}

// Recategorize moves a transaction to a category and feeds the correction
// back into the rule weights.
func (s *TransactionService) Recategorize(ctx context.Context, txID, categoryID string) error {
	return s.Categorizer.ApplyCorrection(ctx, txID, categoryID)
}

// applyDelta settles one transaction's effect on the account. Realized
// rows on or after the opening day shift the balance directly; everything
// else is picked up by the offset recompute and the snapshot replay.
func (s *TransactionService) applyDelta(ctx context.Context, account *repository.Account, t repository.Transaction, delta int64) error {
	today := day(s.Balance.now())
	t0 := day(account.OpenedAt)
	if delta != 0 && !t.Date.Before(t0) && !t.Date.After(today) {
		if err := s.Accounts.AdjustBalance(ctx, account.ID, delta); err != nil {
			return err
		}
	}
	if err := s.Balance.RecomputeOffset(ctx, account.ID); err != nil {
		return err
	}
	return s.Balance.Recalculate(ctx, account.ID)
}
