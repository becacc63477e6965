// Package provider defines the read-only contract a bank data provider
// implements. Providers hand over feeds; they never see internal state.
package provider

import (
	"context"
	"time"
)

// SnapshotRecord is a provider-reported end-of-day balance.
type SnapshotRecord struct {
	Date    time.Time
	Balance int64
}

// TransactionRecord is a provider-reported transaction. ExternalID is the
// provider's stable identifier and drives deduplication across syncs.
type TransactionRecord struct {
	ExternalID  string
	Date        time.Time
	Description string
	Amount      int64
	Currency    string
}

// Feed is everything one sync pull returns for a single account.
// AuthoritativeFrom marks the first day the provider vouches for.
type Feed struct {
	AuthoritativeFrom time.Time
	Balance           int64
	Snapshots         []SnapshotRecord
	Transactions      []TransactionRecord
}

// Provider fetches account feeds from an external source.
type Provider interface {
	Fetch(ctx context.Context, accountID string) (Feed, error)
}
