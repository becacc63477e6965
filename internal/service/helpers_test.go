package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tomaskal/finledger/internal/database"
	"github.com/tomaskal/finledger/internal/database/repository"
	"github.com/tomaskal/finledger/internal/tokenize"
)

const testOrg = "org-test"

// testClock is the fixed "today" for every service test.
var testClock = time.Date(2026, time.September, 1, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	db           *sql.DB
	now          time.Time
	accounts     *repository.AccountRepo
	transactions *repository.TransactionRepo
	categories   *repository.CategoryRepo
	rules        *repository.RuleRepo
	snapshots    *repository.SnapshotRepo
	offsets      *repository.OffsetRepo
	mismatches   *repository.MismatchRepo
	categorizer  *CategorizerService
	balance      *BalanceService
	importer     *ImportService
	txsvc        *TransactionService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.RunMigrations(db))
	require.NoError(t, database.SeedDefaults(context.Background(), db, testOrg))

	env := &testEnv{
		db:           db,
		now:          testClock,
		accounts:     repository.NewAccountRepo(db),
		transactions: repository.NewTransactionRepo(db),
		categories:   repository.NewCategoryRepo(db),
		rules:        repository.NewRuleRepo(db),
		snapshots:    repository.NewSnapshotRepo(db),
		offsets:      repository.NewOffsetRepo(db),
		mismatches:   repository.NewMismatchRepo(db),
	}
	tk, err := tokenize.New(0)
	require.NoError(t, err)
	env.categorizer = &CategorizerService{
		Transactions: env.transactions,
		Rules:        env.rules,
		Categories:   env.categories,
		Tokenizer:    tk,
	}
	env.balance = &BalanceService{
		Accounts:     env.accounts,
		Transactions: env.transactions,
		Snapshots:    env.snapshots,
		Offsets:      env.offsets,
		Mismatches:   env.mismatches,
		Log:          zerolog.Nop(),
		Clock:        func() time.Time { return env.now },
	}
	env.importer = &ImportService{
		DB:           db,
		Accounts:     env.accounts,
		Transactions: env.transactions,
		Categories:   env.categories,
		Rules:        env.rules,
		Categorizer:  env.categorizer,
		Balance:      env.balance,
		Similarity:   0.85,
		Log:          zerolog.Nop(),
	}
	env.txsvc = &TransactionService{
		Accounts:     env.accounts,
		Transactions: env.transactions,
		Categories:   env.categories,
		Rules:        env.rules,
		Categorizer:  env.categorizer,
		Balance:      env.balance,
		Log:          zerolog.Nop(),
	}
	return env
}

func (e *testEnv) createManualAccount(t *testing.T, id string, balance int64, openedAt time.Time) repository.Account {
	t.Helper()
	a := repository.Account{
		ID:             id,
		OrganizationID: testOrg,
		Name:           id,
		Kind:           repository.AccountManual,
		Currency:       "EUR",
		Balance:        balance,
		OpenedAt:       openedAt,
	}
	require.NoError(t, e.accounts.Insert(context.Background(), a))
	return a
}

func (e *testEnv) createConnectedAccount(t *testing.T, id string, balance int64, openedAt time.Time, authoritativeFrom *time.Time) repository.Account {
	t.Helper()
	a := repository.Account{
		ID:                id,
		OrganizationID:    testOrg,
		Name:              id,
		Kind:              repository.AccountConnected,
		Currency:          "EUR",
		Balance:           balance,
		OpenedAt:          openedAt,
		AuthoritativeFrom: authoritativeFrom,
	}
	require.NoError(t, e.accounts.Insert(context.Background(), a))
	return a
}

func (e *testEnv) categoryByName(t *testing.T, name string) repository.Category {
	t.Helper()
	cats, err := e.categories.List(context.Background(), testOrg)
	require.NoError(t, err)
	for _, c := range cats {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("category %q not seeded", name)
	return repository.Category{}
}

func (e *testEnv) insertPosted(t *testing.T, accountID string, date time.Time, amount int64, description string) repository.Transaction {
	t.Helper()
	cat := e.categoryByName(t, "Uncategorized")
	tx := repository.Transaction{
		ID:             "tx-" + description + "-" + date.Format(time.DateOnly),
		AccountID:      accountID,
		OrganizationID: testOrg,
		Date:           date,
		Amount:         amount,
		Currency:       "EUR",
		Description:    description,
		CategoryID:     &cat.ID,
		Status:         repository.StatusPosted,
		Settled:        !day(date).After(day(e.now)),
	}
	require.NoError(t, e.transactions.Insert(context.Background(), tx))
	return tx
}

func dateAt(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
