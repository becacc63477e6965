package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tomaskal/finledger/internal/database/repository"
)

func TestRecalculateWalksBackward(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	// Opened Aug 28 with 100.00 after two transactions.
	env.createManualAccount(t, "acct-1", 10000, dateAt(2026, time.August, 28))
	env.insertPosted(t, "acct-1", dateAt(2026, time.August, 29), -2000, "spesa")
	env.insertPosted(t, "acct-1", dateAt(2026, time.August, 31), 5000, "rimborso")

	require.NoError(t, env.balance.Recalculate(ctx, "acct-1"))

	series, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 28), dateAt(2026, time.September, 1))
	require.NoError(t, err)
	require.Len(t, series, 5, "one snapshot per day, no gaps")

	want := map[string]int64{
		"2026-08-28": 7000, // before the Aug 29 spend
		"2026-08-29": 5000, // after the spend, before the Aug 31 refund
		"2026-08-30": 5000,
		"2026-08-31": 10000,
		"2026-09-01": 10000,
	}
	for _, snap := range series {
		key := snap.Date.Format(time.DateOnly)
		require.Equal(t, want[key], snap.Balance, "day %s", key)
		require.Equal(t, repository.SnapshotComputed, snap.Source)
	}

	// Continuity: each day equals the previous day plus that day's net.
	nets, err := env.transactions.DailyNet(ctx, "acct-1", dateAt(2026, time.August, 28), dateAt(2026, time.September, 1))
	require.NoError(t, err)
	for i := 1; i < len(series); i++ {
		net := nets[series[i].Date.Format(time.DateOnly)]
		require.Equal(t, series[i-1].Balance+net, series[i].Balance,
			"day %s breaks continuity", series[i].Date.Format(time.DateOnly))
	}
}

func TestRecalculateIsIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createManualAccount(t, "acct-1", 10000, dateAt(2026, time.August, 25))
	env.insertPosted(t, "acct-1", dateAt(2026, time.August, 27), -2000, "spesa")

	require.NoError(t, env.balance.Recalculate(ctx, "acct-1"))
	first, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.September, 1))
	require.NoError(t, err)

	require.NoError(t, env.balance.Recalculate(ctx, "acct-1"))
	second, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.September, 1))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPreOpeningTransactionOnlyMovesOffset(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createManualAccount(t, "acct-1", 10000, dateAt(2026, time.August, 25))
	env.insertPosted(t, "acct-1", dateAt(2026, time.August, 26), -1000, "spesa")
	require.NoError(t, env.balance.RecomputeOffset(ctx, "acct-1"))
	require.NoError(t, env.balance.Recalculate(ctx, "acct-1"))

	before, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.September, 1))
	require.NoError(t, err)
	offsetBefore, err := env.offsets.Get(ctx, "acct-1")
	require.NoError(t, err)

	// Historical row from before the account's opening day.
	tx, err := env.txsvc.CreateManual(ctx, ManualTransaction{
		AccountID:   "acct-1",
		Date:        dateAt(2026, time.July, 3),
		Description: "vecchio scontrino",
		Amount:      -700,
	})
	require.NoError(t, err)
	require.NotNil(t, tx)

	account, err := env.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(10000), account.Balance, "pre-opening rows never move the balance")

	offsetAfter, err := env.offsets.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, offsetBefore+700, offsetAfter, "the offset absorbs the pre-opening row")

	after, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.September, 1))
	require.NoError(t, err)
	require.Equal(t, before, after, "the tracked series is untouched")
}

func TestFutureTransactionIsInert(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createManualAccount(t, "acct-1", 10000, dateAt(2026, time.August, 25))
	require.NoError(t, env.balance.RecomputeOffset(ctx, "acct-1"))
	require.NoError(t, env.balance.Recalculate(ctx, "acct-1"))
	offsetBefore, err := env.offsets.Get(ctx, "acct-1")
	require.NoError(t, err)

	_, err = env.txsvc.CreateManual(ctx, ManualTransaction{
		AccountID:   "acct-1",
		Date:        dateAt(2026, time.September, 15),
		Description: "affitto futuro",
		Amount:      -50000,
	})
	require.NoError(t, err)

	account, err := env.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(10000), account.Balance)

	offsetAfter, err := env.offsets.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, offsetBefore, offsetAfter)

	snap, err := env.snapshots.Get(ctx, "acct-1", dateAt(2026, time.September, 1))
	require.NoError(t, err)
	require.Equal(t, int64(10000), snap.Balance)
}

func TestDeleteReversesBalanceEffect(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createManualAccount(t, "acct-1", 10000, dateAt(2026, time.August, 25))
	require.NoError(t, env.balance.Recalculate(ctx, "acct-1"))
	before, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.September, 1))
	require.NoError(t, err)

	tx, err := env.txsvc.CreateManual(ctx, ManualTransaction{
		AccountID:   "acct-1",
		Date:        dateAt(2026, time.August, 28),
		Description: "cena fuori",
		Amount:      -4200,
	})
	require.NoError(t, err)

	account, err := env.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(10000-4200), account.Balance)

	require.NoError(t, env.txsvc.Delete(ctx, tx.ID))

	account, err = env.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(10000), account.Balance)

	after, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.September, 1))
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestCreateManualRejectsConnectedAccounts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	authFrom := dateAt(2026, time.August, 1)
	env.createConnectedAccount(t, "acct-c", 0, dateAt(2026, time.July, 1), &authFrom)

	_, err := env.txsvc.CreateManual(context.Background(), ManualTransaction{
		AccountID:   "acct-c",
		Date:        dateAt(2026, time.August, 20),
		Description: "non permesso",
		Amount:      -100,
	})
	require.ErrorIs(t, err, ErrConnectedAccount)
}

func TestProviderSnapshotWinsAndRecordsMismatch(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	authFrom := dateAt(2026, time.August, 25)
	env.createConnectedAccount(t, "acct-c", 10000, dateAt(2026, time.August, 20), &authFrom)
	env.insertPosted(t, "acct-c", dateAt(2026, time.August, 26), -2000, "pos 1234")

	// The provider reports a different end-of-day balance for Aug 28.
	require.NoError(t, env.snapshots.UpsertProvider(ctx, repository.Snapshot{
		AccountID: "acct-c",
		Date:      dateAt(2026, time.August, 28),
		Balance:   11500,
		Currency:  "EUR",
		Source:    repository.SnapshotProvider,
	}))

	require.NoError(t, env.balance.Recalculate(ctx, "acct-c"))

	snap, err := env.snapshots.Get(ctx, "acct-c", dateAt(2026, time.August, 28))
	require.NoError(t, err)
	require.Equal(t, repository.SnapshotProvider, snap.Source, "provider snapshots are never overwritten")
	require.Equal(t, int64(11500), snap.Balance)

	mismatches, err := env.mismatches.ListByAccount(ctx, "acct-c")
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	require.Equal(t, int64(10000), mismatches[0].Computed)
	require.Equal(t, int64(11500), mismatches[0].Provider)

	// Days before the provider day resume the walk from its value.
	prev, err := env.snapshots.Get(ctx, "acct-c", dateAt(2026, time.August, 27))
	require.NoError(t, err)
	require.Equal(t, int64(11500), prev.Balance)
	earlier, err := env.snapshots.Get(ctx, "acct-c", dateAt(2026, time.August, 26))
	require.NoError(t, err)
	require.Equal(t, int64(11500), earlier.Balance, "end of day includes that day's spend")

	// A second recalculation does not duplicate the mismatch.
	require.NoError(t, env.balance.Recalculate(ctx, "acct-c"))
	mismatches, err = env.mismatches.ListByAccount(ctx, "acct-c")
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
}

func TestOffsetInvariantHolds(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createManualAccount(t, "acct-1", 10000, dateAt(2026, time.August, 25))
	for _, amount := range []int64{-1200, 3000, -50} {
		_, err := env.txsvc.CreateManual(ctx, ManualTransaction{
			AccountID:   "acct-1",
			Date:        dateAt(2026, time.August, 27),
			Description: "movimento vario",
			Amount:      amount,
		})
		require.NoError(t, err)
	}
	_, err := env.txsvc.CreateManual(ctx, ManualTransaction{
		AccountID:   "acct-1",
		Date:        dateAt(2026, time.July, 1),
		Description: "storico",
		Amount:      -900,
	})
	require.NoError(t, err)

	account, err := env.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)
	offset, err := env.offsets.Get(ctx, "acct-1")
	require.NoError(t, err)
	total, err := env.transactions.SumBefore(ctx, "acct-1", dateAt(2026, time.September, 2))
	require.NoError(t, err)
	require.Equal(t, account.Balance, offset+total)
}

func TestScheduledTransactionMatures(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createManualAccount(t, "acct-1", 10000, dateAt(2026, time.August, 25))
	require.NoError(t, env.balance.RecomputeOffset(ctx, "acct-1"))
	require.NoError(t, env.balance.Recalculate(ctx, "acct-1"))

	_, err := env.txsvc.CreateManual(ctx, ManualTransaction{
		AccountID:   "acct-1",
		Date:        dateAt(2026, time.September, 15),
		Description: "affitto futuro",
		Amount:      -50000,
	})
	require.NoError(t, err)

	augustBefore, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.August, 31))
	require.NoError(t, err)
	offsetBefore, err := env.offsets.Get(ctx, "acct-1")
	require.NoError(t, err)

	// The scheduled row's day arrives.
	env.now = time.Date(2026, time.September, 20, 9, 0, 0, 0, time.UTC)
	require.NoError(t, env.balance.SettleMatured(ctx, "acct-1"))

	account, err := env.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(10000-50000), account.Balance, "the matured row moves the balance")

	offsetAfter, err := env.offsets.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, offsetBefore, offsetAfter)

	before, err := env.snapshots.Get(ctx, "acct-1", dateAt(2026, time.September, 14))
	require.NoError(t, err)
	require.Equal(t, int64(10000), before.Balance, "history before the matured day is preserved")
	onDay, err := env.snapshots.Get(ctx, "acct-1", dateAt(2026, time.September, 15))
	require.NoError(t, err)
	require.Equal(t, int64(10000-50000), onDay.Balance)
	today, err := env.snapshots.Get(ctx, "acct-1", dateAt(2026, time.September, 20))
	require.NoError(t, err)
	require.Equal(t, account.Balance, today.Balance)

	augustAfter, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.August, 31))
	require.NoError(t, err)
	require.Equal(t, augustBefore, augustAfter)

	// Settling again is a no-op.
	require.NoError(t, env.balance.SettleMatured(ctx, "acct-1"))
	again, err := env.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, account.Balance, again.Balance)
}

func TestDeletePreOpeningTransactionOnlyMovesOffset(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createManualAccount(t, "acct-1", 10000, dateAt(2026, time.August, 25))
	env.insertPosted(t, "acct-1", dateAt(2026, time.August, 27), -2000, "spesa")
	require.NoError(t, env.balance.RecomputeOffset(ctx, "acct-1"))
	require.NoError(t, env.balance.Recalculate(ctx, "acct-1"))
	offsetOriginal, err := env.offsets.Get(ctx, "acct-1")
	require.NoError(t, err)
	seriesOriginal, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.September, 1))
	require.NoError(t, err)

	tx, err := env.txsvc.CreateManual(ctx, ManualTransaction{
		AccountID:   "acct-1",
		Date:        dateAt(2026, time.July, 3),
		Description: "vecchio scontrino",
		Amount:      -700,
	})
	require.NoError(t, err)
	offsetWith, err := env.offsets.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, offsetOriginal+700, offsetWith)

	require.NoError(t, env.txsvc.Delete(ctx, tx.ID))

	account, err := env.accounts.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, int64(10000), account.Balance, "neither create nor delete touched the balance")

	offsetAfter, err := env.offsets.Get(ctx, "acct-1")
	require.NoError(t, err)
	require.Equal(t, offsetOriginal, offsetAfter, "the offset returns to its original value")

	seriesAfter, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.September, 1))
	require.NoError(t, err)
	require.Equal(t, seriesOriginal, seriesAfter, "the tracked series never saw the row")
}

func TestRecalculateSerializesPerAccount(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := context.Background()

	env.createManualAccount(t, "acct-1", 10000, dateAt(2026, time.August, 25))
	env.insertPosted(t, "acct-1", dateAt(2026, time.August, 27), -2000, "spesa")
	env.insertPosted(t, "acct-1", dateAt(2026, time.August, 30), 5000, "rimborso")
	require.NoError(t, env.balance.RecomputeOffset(ctx, "acct-1"))

	var wg sync.WaitGroup
	errs := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				errs <- env.balance.Recalculate(ctx, "acct-1")
			case 1:
				errs <- env.balance.RecomputeOffset(ctx, "acct-1")
			default:
				errs <- env.balance.SettleMatured(ctx, "acct-1")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// No interleaving corrupted the series: it is gap-free and continuous.
	series, err := env.snapshots.Series(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.September, 1))
	require.NoError(t, err)
	require.Len(t, series, 8)
	require.Equal(t, int64(10000), series[len(series)-1].Balance)
	nets, err := env.transactions.DailyNet(ctx, "acct-1", dateAt(2026, time.August, 25), dateAt(2026, time.September, 1))
	require.NoError(t, err)
	for i := 1; i < len(series); i++ {
		net := nets[series[i].Date.Format(time.DateOnly)]
		require.Equal(t, series[i-1].Balance+net, series[i].Balance)
	}
}
