package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/tomaskal/finledger/internal/database"
	"github.com/tomaskal/finledger/internal/database/repository"
)

// FieldMapping names the CSV columns that carry each transaction field.
// Date, Description and Amount are required; the rest are optional.
type FieldMapping struct {
	Date        string
	Description string
	Amount      string
	Currency    string
	ExternalID  string
	DateFormat  string // defaults to 2006-01-02
}

// RowError describes a single row the importer could not use.
type RowError struct {
	Line   int
	Reason string
}

// ImportReport summarizes one import batch. Inserted + Duplicate +
// Invalid + Rejected always equals the number of data rows in the file.
type ImportReport struct {
	Inserted    int
	Duplicate   int
	Invalid     int
	Rejected    int
	InvalidRows []RowError
}

// ImportService ingests CSV batches: it validates and normalizes rows,
// drops duplicates inside the batch and against storage, rejects rows a
// connected provider already owns, categorizes the survivors, and inserts
// them in a single transaction.
type ImportService struct {
	DB           *sql.DB
	Accounts     *repository.AccountRepo
	Transactions *repository.TransactionRepo
	Categories   *repository.CategoryRepo
	Rules        *repository.RuleRepo
	Categorizer  *CategorizerService
	Balance      *BalanceService
	Similarity   float64 // near-duplicate threshold, 0 disables
	Log          zerolog.Logger
}

type importRow struct {
	line        int
	date        time.Time
	description string
	amount      int64
	currency    string
	externalID  string
}

// Import reads all rows from r and ingests them into the account.
// Insertion is all-or-nothing: a storage failure rolls back the whole
// batch and returns an error with no report.
func (s *ImportService) Import(ctx context.Context, accountID string, r io.Reader, mapping FieldMapping) (*ImportReport, error) {
	account, err := s.Accounts.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("import: account %s not found", accountID)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("import: read header: %w", err)
	}
	cols, err := resolveColumns(header, mapping)
	if err != nil {
		return nil, err
	}

	report := &ImportReport{}
	var parsed []importRow
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			// Malformed CSV rows are skippable; anything else is a broken
			// stream that would re-fail on every subsequent read.
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				return nil, fmt.Errorf("import: read row %d: %w", line, err)
			}
			report.Invalid++
			report.InvalidRows = append(report.InvalidRows, RowError{Line: line, Reason: err.Error()})
			continue
		}
		row, err := cols.parse(line, record, mapping)
		if err != nil {
			report.Invalid++
			report.InvalidRows = append(report.InvalidRows, RowError{Line: line, Reason: err.Error()})
			continue
		}
		if s.providerOwns(account, row.date) {
			report.Rejected++
			continue
		}
		parsed = append(parsed, row)
	}

	survivors, err := s.dedupe(ctx, account.ID, parsed, report)
	if err != nil {
		return nil, err
	}
	if len(survivors) == 0 {
		return report, nil
	}

	txs, err := s.buildTransactions(ctx, account, survivors)
	if err != nil {
		return nil, err
	}

	err = database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, t := range txs {
			if err := s.Transactions.InsertTx(ctx, tx, t); err != nil {
				return fmt.Errorf("insert transaction %s: %w", t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	report.Inserted = len(txs)

	if err := s.settle(ctx, account, txs); err != nil {
		return nil, err
	}
	s.Log.Info().
		Str("account_id", account.ID).
		Int("inserted", report.Inserted).
		Int("duplicate", report.Duplicate).
		Int("invalid", report.Invalid).
		Int("rejected", report.Rejected).
		Msg("import complete")
	return report, nil
}

// providerOwns reports whether a connected provider is the source of
// record for this date, making CSV rows there unwelcome.
func (s *ImportService) providerOwns(account *repository.Account, date time.Time) bool {
	return account.Kind == repository.AccountConnected &&
		account.AuthoritativeFrom != nil &&
		!day(date).Before(day(*account.AuthoritativeFrom))
}

// dedupe drops rows already present in the batch or in storage. Exact
// external-id matches always count; otherwise rows with the same date and
// amount count when their descriptions are close enough.
func (s *ImportService) dedupe(ctx context.Context, accountID string, rows []importRow, report *ImportReport) ([]importRow, error) {
	seenExternal := make(map[string]bool)
	seenTuple := make(map[string][]string) // date|amount -> normalized descriptions
	var out []importRow

	for _, row := range rows {
		if row.externalID != "" {
			if seenExternal[row.externalID] {
				report.Duplicate++
				continue
			}
			exists, err := s.Transactions.ExistsByExternalID(ctx, accountID, row.externalID)
			if err != nil {
				return nil, err
			}
			if exists {
				report.Duplicate++
				continue
			}
			seenExternal[row.externalID] = true
		}

		norm := normalizeDescription(row.description)
		key := fmt.Sprintf("%s|%d", row.date.Format(time.DateOnly), row.amount)
		if s.similarTo(norm, seenTuple[key]) {
			report.Duplicate++
			continue
		}
		stored, err := s.Transactions.FindByTuple(ctx, accountID, row.date, row.amount)
		if err != nil {
			return nil, err
		}
		dup := false
		for _, t := range stored {
			if s.similar(norm, normalizeDescription(t.Description)) {
				dup = true
				break
			}
		}
		if dup {
			report.Duplicate++
			continue
		}

		seenTuple[key] = append(seenTuple[key], norm)
		out = append(out, row)
	}
	return out, nil
}

func (s *ImportService) similarTo(norm string, prior []string) bool {
	for _, p := range prior {
		if s.similar(norm, p) {
			return true
		}
	}
	return false
}

// similar compares two normalized descriptions by levenshtein ratio.
func (s *ImportService) similar(a, b string) bool {
	if s.Similarity <= 0 {
		return a == b
	}
	if a == b {
		return true
	}
	longest := max(len([]rune(a)), len([]rune(b)))
	if longest == 0 {
		return true
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1-float64(dist)/float64(longest) >= s.Similarity
}

func (s *ImportService) buildTransactions(ctx context.Context, account *repository.Account, rows []importRow) ([]repository.Transaction, error) {
	categories, err := s.Categories.List(ctx, account.OrganizationID)
	if err != nil {
		return nil, err
	}
	rules, err := s.Rules.ListByOrganization(ctx, account.OrganizationID)
	if err != nil {
		return nil, err
	}

	today := day(s.Balance.now())
	out := make([]repository.Transaction, 0, len(rows))
	for _, row := range rows {
		currency := row.currency
		if currency == "" {
			currency = account.Currency
		}
		t := repository.Transaction{
			ID:             newID(),
			AccountID:      account.ID,
			OrganizationID: account.OrganizationID,
			Date:           day(row.date),
			Description:    row.description,
			Amount:         row.amount,
			Currency:       currency,
			Status:         repository.StatusPosted,
			Settled:        !day(row.date).After(today),
		}
		if row.externalID != "" {
			ext := row.externalID
			t.ExternalID = &ext
		}
		categoryID, err := s.Categorizer.Categorize(ctx, t, categories, rules)
		if err != nil {
			return nil, err
		}
		t.CategoryID = &categoryID
		out = append(out, t)
	}
	return out, nil
}

// settle applies the batch to the account's authoritative balance and
// rebuilds offsets and snapshots. Manual balances absorb realized rows
// dated on or after t0; earlier rows flow into the offset instead.
func (s *ImportService) settle(ctx context.Context, account *repository.Account, txs []repository.Transaction) error {
	today := day(s.Balance.now())
	if account.Kind == repository.AccountManual {
		t0 := day(account.OpenedAt)
		var delta int64
		for _, t := range txs {
			if !t.Date.Before(t0) && !t.Date.After(today) {
				delta += t.Amount
			}
		}
		if delta != 0 {
			if err := s.Accounts.AdjustBalance(ctx, account.ID, delta); err != nil {
				return err
			}
		}
		if err := s.Balance.RecomputeOffset(ctx, account.ID); err != nil {
			return err
		}
	}
	return s.Balance.Recalculate(ctx, account.ID)
}

type columnIndex struct {
	date, description, amount, currency, externalID int
}

func resolveColumns(header []string, mapping FieldMapping) (columnIndex, error) {
	idx := columnIndex{date: -1, description: -1, amount: -1, currency: -1, externalID: -1}
	find := func(name string) int {
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i
			}
		}
		return -1
	}
	idx.date = find(mapping.Date)
	idx.description = find(mapping.Description)
	idx.amount = find(mapping.Amount)
	if mapping.Currency != "" {
		idx.currency = find(mapping.Currency)
	}
	if mapping.ExternalID != "" {
		idx.externalID = find(mapping.ExternalID)
	}
	if idx.date == -1 || idx.description == -1 || idx.amount == -1 {
		return idx, fmt.Errorf("import: header missing mapped columns (date=%q description=%q amount=%q)",
			mapping.Date, mapping.Description, mapping.Amount)
	}
	return idx, nil
}

func (c columnIndex) parse(line int, record []string, mapping FieldMapping) (importRow, error) {
	row := importRow{line: line}
	get := func(i int) string {
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	format := mapping.DateFormat
	if format == "" {
		format = time.DateOnly
	}
	date, err := time.Parse(format, get(c.date))
	if err != nil {
		return row, fmt.Errorf("bad date %q", get(c.date))
	}
	row.date = date

	row.description = get(c.description)
	if row.description == "" {
		return row, errors.New("empty description")
	}

	amount, err := parseAmount(get(c.amount))
	if err != nil {
		return row, err
	}
	row.amount = amount

	row.currency = strings.ToUpper(get(c.currency))
	row.externalID = get(c.externalID)
	return row, nil
}

// parseAmount converts a decimal money string to integer cents, rejecting
// values with sub-cent precision.
func parseAmount(raw string) (int64, error) {
	if raw == "" {
		return 0, errors.New("empty amount")
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", "."))
	if err != nil {
		return 0, fmt.Errorf("bad amount %q", raw)
	}
	cents := d.Mul(decimal.NewFromInt(100))
	if !cents.IsInteger() {
		return 0, fmt.Errorf("amount %q has sub-cent precision", raw)
	}
	return cents.IntPart(), nil
}

func normalizeDescription(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
