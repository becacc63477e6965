package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tomaskal/finledger/internal/database/repository"
)

// ErrSnapshotGap means a recomputed snapshot series has a missing day.
// This is an internal-consistency bug, never expected in normal operation.
var ErrSnapshotGap = errors.New("balance: snapshot series has a gap")

// BalanceService maintains the day-by-day balance ledger. Recalculation
// walks backward from the account's authoritative balance, is idempotent,
// and never overwrites provider-authoritative snapshots. All entry points
// serialize per account, so concurrent triggers never interleave a replay.
type BalanceService struct {
	Accounts     *repository.AccountRepo
	Transactions *repository.TransactionRepo
	Snapshots    *repository.SnapshotRepo
	Offsets      *repository.OffsetRepo
	Mismatches   *repository.MismatchRepo
	Log          zerolog.Logger
	Clock        func() time.Time // nil means time.Now

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (s *BalanceService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *BalanceService) accountLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks == nil {
		s.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := s.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[accountID] = lock
	}
	return lock
}

// day reduces t to its calendar day in t's own location, keyed at UTC
// midnight so stored dates compare as plain strings.
func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Recalculate rebuilds the full snapshot series for an account.
func (s *BalanceService) Recalculate(ctx context.Context, accountID string) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()
	return s.recalculate(ctx, accountID, time.Time{})
}

// RecalculateFrom rebuilds the series scoped to days at or before
// affectedFrom, restarting the walk from the trusted snapshot stored at
// that date. A zero affectedFrom, or a missing restart snapshot, falls
// back to full replay from the current balance.
func (s *BalanceService) RecalculateFrom(ctx context.Context, accountID string, affectedFrom time.Time) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()
	return s.recalculate(ctx, accountID, affectedFrom)
}

// SettleMatured applies transactions whose date has arrived since they
// were written (scheduled rows) to the account balance, then rebuilds the
// offset and the series. Safe to run on every recalculation trigger.
func (s *BalanceService) SettleMatured(ctx context.Context, accountID string) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	account, err := s.Accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("balance: account %s not found", accountID)
	}
	today := day(s.now())
	matured, err := s.Transactions.UnsettledRealizedSum(ctx, accountID, today)
	if err != nil {
		return err
	}
	if matured != 0 {
		if account.Kind == repository.AccountManual {
			if err := s.Accounts.AdjustBalance(ctx, accountID, matured); err != nil {
				return err
			}
		}
		s.Log.Info().
			Str("account_id", accountID).
			Int64("amount", matured).
			Msg("scheduled transactions matured")
	}
	if err := s.Transactions.MarkSettled(ctx, accountID, today); err != nil {
		return err
	}
	if err := s.recomputeOffset(ctx, accountID); err != nil {
		return err
	}
	return s.recalculate(ctx, accountID, time.Time{})
}

func (s *BalanceService) recalculate(ctx context.Context, accountID string, affectedFrom time.Time) error {
	account, err := s.Accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("balance: account %s not found", accountID)
	}

	today := day(s.now())
	anchorDate := today
	running := account.Balance

	seriesStart, ok, err := s.seriesStart(ctx, account, today)
	if err != nil {
		return err
	}
	if !ok {
		return nil // no history to snapshot yet
	}

	if !affectedFrom.IsZero() {
		if restart, err := s.Snapshots.Get(ctx, accountID, day(affectedFrom)); err != nil {
			return err
		} else if restart != nil {
			anchorDate = restart.Date
			running = restart.Balance
		}
	}
	if anchorDate.Before(seriesStart) {
		return nil
	}

	nets, err := s.Transactions.DailyNet(ctx, accountID, seriesStart, anchorDate)
	if err != nil {
		return err
	}
	provider, err := s.providerSnapshots(ctx, account, seriesStart, anchorDate)
	if err != nil {
		return err
	}

	for d := anchorDate; !d.Before(seriesStart); d = d.AddDate(0, 0, -1) {
		key := d.Format(time.DateOnly)
		if prov, owned := provider[key]; owned {
			// Provider snapshots are the balance of record: report any
			// disagreement, then resume the walk from the provider value.
			if prov != running {
				s.reportMismatch(ctx, account.ID, d, running, prov)
				running = prov
			}
		} else {
			snap := repository.Snapshot{
				AccountID: account.ID,
				Date:      d,
				Balance:   running,
				Currency:  account.Currency,
				Source:    repository.SnapshotComputed,
			}
			if err := s.Snapshots.UpsertComputed(ctx, snap); err != nil {
				return err
			}
		}
		running -= nets[key]
	}

	return s.verifyNoGaps(ctx, accountID, seriesStart, anchorDate)
}

// seriesStart determines the first day of the tracked series. Manual
// accounts anchor at t0; transactions dated earlier are absorbed by the
// balance offset and never enter the series. Connected accounts extend
// back to their earliest known transaction or provider snapshot.
func (s *BalanceService) seriesStart(ctx context.Context, account *repository.Account, today time.Time) (time.Time, bool, error) {
	if account.Kind == repository.AccountManual {
		start := day(account.OpenedAt)
		if start.After(today) {
			return time.Time{}, false, nil
		}
		return start, true, nil
	}

	earliestTx, hasTx, err := s.Transactions.EarliestDate(ctx, account.ID)
	if err != nil {
		return time.Time{}, false, err
	}
	snapFrom, _, hasSnap, err := s.Snapshots.Range(ctx, account.ID)
	if err != nil {
		return time.Time{}, false, err
	}
	switch {
	case hasTx && hasSnap:
		if earliestTx.Before(snapFrom) {
			return day(earliestTx), true, nil
		}
		return day(snapFrom), true, nil
	case hasTx:
		return day(earliestTx), true, nil
	case hasSnap:
		return day(snapFrom), true, nil
	default:
		return time.Time{}, false, nil
	}
}

// providerSnapshots returns the provider-authoritative balances inside the
// account's authoritative window, keyed by day.
func (s *BalanceService) providerSnapshots(ctx context.Context, account *repository.Account, from, to time.Time) (map[string]int64, error) {
	if account.Kind != repository.AccountConnected || account.AuthoritativeFrom == nil {
		return nil, nil
	}
	series, err := s.Snapshots.Series(ctx, account.ID, from, to)
	if err != nil {
		return nil, err
	}
	window := day(*account.AuthoritativeFrom)
	out := make(map[string]int64)
	for _, snap := range series {
		if snap.Source == repository.SnapshotProvider && !snap.Date.Before(window) {
			out[snap.Date.Format(time.DateOnly)] = snap.Balance
		}
	}
	return out, nil
}

func (s *BalanceService) reportMismatch(ctx context.Context, accountID string, date time.Time, computed, provider int64) {
	s.Log.Warn().
		Str("account_id", accountID).
		Str("date", date.Format(time.DateOnly)).
		Int64("computed", computed).
		Int64("provider", provider).
		Msg("reconciliation mismatch: keeping provider snapshot")
	if s.Mismatches == nil {
		return
	}
	m := repository.Mismatch{
		ID:        newID(),
		AccountID: accountID,
		Date:      date,
		Computed:  computed,
		Provider:  provider,
	}
	if err := s.Mismatches.RecordOnce(ctx, m); err != nil {
		s.Log.Error().Err(err).Msg("record reconciliation mismatch")
	}
}

// verifyNoGaps asserts the series covers every day in [from, to].
func (s *BalanceService) verifyNoGaps(ctx context.Context, accountID string, from, to time.Time) error {
	count, err := s.Snapshots.Count(ctx, accountID, from, to)
	if err != nil {
		return err
	}
	want := int(to.Sub(from).Hours()/24) + 1
	if count != want {
		return fmt.Errorf("%w: account %s has %d snapshots for %d days", ErrSnapshotGap, accountID, count, want)
	}
	return nil
}

// RecomputeOffset rebuilds the account's balance offset: the residual
// between the authoritative balance and the signed sum of all realized
// history through today. It absorbs transactions dated before t0 so they
// never rewrite the trusted series.
func (s *BalanceService) RecomputeOffset(ctx context.Context, accountID string) error {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()
	return s.recomputeOffset(ctx, accountID)
}

func (s *BalanceService) recomputeOffset(ctx context.Context, accountID string) error {
	account, err := s.Accounts.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("balance: account %s not found", accountID)
	}
	today := day(s.now())
	total, err := s.Transactions.SumBefore(ctx, accountID, today.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	return s.Offsets.Set(ctx, accountID, account.Balance-total)
}
