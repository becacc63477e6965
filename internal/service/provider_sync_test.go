package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/tomaskal/finledger/internal/database/repository"
	"github.com/tomaskal/finledger/internal/provider"
)

type stubProvider struct {
	feed provider.Feed
	err  error
}

func (s *stubProvider) Fetch(ctx context.Context, accountID string) (provider.Feed, error) {
	return s.feed, s.err
}

func newSyncService(env *testEnv, p provider.Provider) *SyncService {
	return &SyncService{
		Provider:     p,
		Accounts:     env.accounts,
		Transactions: env.transactions,
		Categories:   env.categories,
		Rules:        env.rules,
		Categorizer:  env.categorizer,
		Snapshots:    env.snapshots,
		Balance:      env.balance,
		Log:          zerolog.Nop(),
	}
}

func TestSyncAppliesFeed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createConnectedAccount(t, "acct-c", 0, dateAt(2026, time.August, 1), nil)
	feed := provider.Feed{
		AuthoritativeFrom: dateAt(2026, time.August, 20),
		Balance:           40000,
		Snapshots: []provider.SnapshotRecord{
			{Date: dateAt(2026, time.August, 30), Balance: 41000},
		},
		Transactions: []provider.TransactionRecord{
			{ExternalID: "p1", Date: dateAt(2026, time.August, 25), Description: "pos esselunga", Amount: -3000},
			{ExternalID: "p2", Date: dateAt(2026, time.August, 31), Description: "canone mensile", Amount: -1000},
		},
	}
	svc := newSyncService(env, &stubProvider{feed: feed})

	require.NoError(t, svc.Sync(ctx, "acct-c"))

	account, err := env.accounts.Get(ctx, "acct-c")
	require.NoError(t, err)
	require.Equal(t, int64(40000), account.Balance)
	require.NotNil(t, account.AuthoritativeFrom)
	require.Equal(t, "2026-08-20", account.AuthoritativeFrom.Format(time.DateOnly))

	snap, err := env.snapshots.Get(ctx, "acct-c", dateAt(2026, time.August, 30))
	require.NoError(t, err)
	require.Equal(t, repository.SnapshotProvider, snap.Source)
	require.Equal(t, int64(41000), snap.Balance)

	txs, err := env.transactions.List(ctx, repository.TransactionFilters{AccountID: "acct-c"})
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		require.NotNil(t, tx.CategoryID)
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createConnectedAccount(t, "acct-c", 0, dateAt(2026, time.August, 1), nil)
	feed := provider.Feed{
		AuthoritativeFrom: dateAt(2026, time.August, 20),
		Balance:           40000,
		Transactions: []provider.TransactionRecord{
			{ExternalID: "p1", Date: dateAt(2026, time.August, 25), Description: "pos esselunga", Amount: -3000},
		},
	}
	svc := newSyncService(env, &stubProvider{feed: feed})

	require.NoError(t, svc.Sync(ctx, "acct-c"))
	require.NoError(t, svc.Sync(ctx, "acct-c"))

	txs, err := env.transactions.List(ctx, repository.TransactionFilters{AccountID: "acct-c"})
	require.NoError(t, err)
	require.Len(t, txs, 1, "re-sync must not duplicate provider transactions")
}

func TestSyncRejectsManualAccounts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	env.createManualAccount(t, "acct-1", 0, dateAt(2026, time.August, 1))
	svc := newSyncService(env, &stubProvider{})
	require.Error(t, svc.Sync(context.Background(), "acct-1"))
}
