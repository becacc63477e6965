package repository

import "time"

// Account kinds.
const (
	AccountManual    = "manual"
	AccountConnected = "connected"
)

// Transaction statuses.
const (
	StatusPosted   = "posted"
	StatusExcluded = "excluded"
)

// Account represents an account row.
type Account struct {
	ID             string
	OrganizationID string
	Name           string
	Kind           string
	Currency       string
	// Balance is the current authoritative balance in cents, valid as of UpdatedAt.
	Balance int64
	// OpenedAt is the tracking start date (t0) for manual accounts.
	OpenedAt time.Time
	// AuthoritativeFrom marks the earliest instant at which a provider
	// snapshot, not computed history, is the balance of record. Nil for
	// manual accounts.
	AuthoritativeFrom *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Category represents a category row. Each organization has exactly one
// fallback category that categorization degrades to.
type Category struct {
	ID             string
	OrganizationID string
	Name           string
	Macro          *string
	Kind           *string
	Icon           *string
	Color          *string
	IsFallback     bool
	SortOrder      int
}

// Transaction represents a transaction row. Amounts are signed cents.
type Transaction struct {
	ID             string
	AccountID      string
	OrganizationID string
	Date           time.Time
	Amount         int64
	Currency       string
	Description    string
	ExternalID     *string
	CategoryID     *string
	Recurring      bool
	Status         string
	// Settled reports whether the row's amount has been applied to the
	// account balance; future-dated rows stay unsettled until they mature.
	Settled    bool
	SourceHash *string
	DeletedAt  *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Rule represents a categorization rule owned by an organization. Tokens
// holds the token -> relevance weight map built from past corrections.
type Rule struct {
	ID             string
	OrganizationID string
	CategoryID     string
	Tokens         map[string]int
	CreatedAt      time.Time
}

// Snapshot is a persisted end-of-day balance for an account.
type Snapshot struct {
	AccountID string
	Date      time.Time
	Balance   int64
	Currency  string
	Source    string
}

// Snapshot sources.
const (
	SnapshotComputed = "computed"
	SnapshotProvider = "provider"
)

// Mismatch records a disagreement between a computed balance and a
// provider-supplied snapshot for the same date.
type Mismatch struct {
	ID         string
	AccountID  string
	Date       time.Time
	Computed   int64
	Provider   int64
	ObservedAt time.Time
}
