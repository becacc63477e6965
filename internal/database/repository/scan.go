package repository

import "time"

// scanner handles both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// Dates are stored as TEXT in ISO day format so snapshot keys sort and
// compare without timezone drift.
func fmtDate(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func parseDate(s string) (time.Time, error) {
	return time.Parse(time.DateOnly, s)
}

func fmtTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
