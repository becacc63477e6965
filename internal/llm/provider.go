// Package llm provides the optional category-suggestion collaborator: given a
// free-text category name it returns icon/color hints. Absence, errors and
// timeouts all degrade to "no hint"; callers never block on it while holding
// a database transaction.
package llm

import "context"

// Hint carries presentation hints for a category.
type Hint struct {
	Icon  string `json:"icon"`
	Color string `json:"color"`
}

// SuggestionProvider defines the suggestion capability used by services.
type SuggestionProvider interface {
	// Suggest returns hints for a category name. ok is false when the
	// provider has no confident suggestion.
	Suggest(ctx context.Context, name string) (hint Hint, ok bool, err error)
}
