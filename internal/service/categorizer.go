package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tomaskal/finledger/internal/database/repository"
	"github.com/tomaskal/finledger/internal/llm"
	"github.com/tomaskal/finledger/internal/tokenize"
)

// ErrUncategorizedMissing means an organization has no fallback category.
// This is a configuration error, never silently categorized as null.
var ErrUncategorizedMissing = errors.New("categorizer: organization has no fallback category")

// CategorizerService assigns categories using layered strategies: keyword
// match, rule token-relevance scoring, then the organization fallback.
type CategorizerService struct {
	Transactions *repository.TransactionRepo
	Rules        *repository.RuleRepo
	Categories   *repository.CategoryRepo
	Tokenizer    *tokenize.Tokenizer
	Suggestions  llm.SuggestionProvider // optional
}

// Categorize returns the best-matching category id for a transaction.
// Deterministic: the same (transaction, categories, rules) input always
// yields the same id.
func (s *CategorizerService) Categorize(ctx context.Context, tx repository.Transaction, categories []repository.Category, rules []repository.Rule) (string, error) {
	if id, ok := s.keywordMatch(tx.Description, categories); ok {
		return id, nil
	}
	if id, ok := s.ruleMatch(tx.Description, rules); ok {
		return id, nil
	}
	for _, c := range categories {
		if c.IsFallback {
			return c.ID, nil
		}
	}
	return "", ErrUncategorizedMissing
}

// keywordMatch looks for a category whose own name, macro or kind appears
// in the description. First matching category wins.
func (s *CategorizerService) keywordMatch(description string, categories []repository.Category) (string, bool) {
	desc := strings.ToLower(description)
	for _, c := range categories {
		if c.IsFallback {
			continue
		}
		keywords := []string{c.Name}
		if c.Macro != nil {
			keywords = append(keywords, *c.Macro)
		}
		if c.Kind != nil {
			keywords = append(keywords, *c.Kind)
		}
		for _, kw := range keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(desc, kw) {
				return c.ID, true
			}
		}
	}
	return "", false
}

// ruleMatch sums each rule's relevance weights over the transaction's
// tokens. The highest positive aggregate wins; ties keep the earlier rule
// (stable insertion order). Abstains when every rule scores zero.
func (s *CategorizerService) ruleMatch(description string, rules []repository.Rule) (string, bool) {
	tokens := s.tokens(description)
	if len(tokens) == 0 {
		return "", false
	}
	bestID, bestScore := "", 0
	for _, rule := range rules {
		score := 0
		for _, tok := range tokens {
			score += rule.Tokens[tok]
		}
		if score > bestScore {
			bestID, bestScore = rule.CategoryID, score
		}
	}
	if bestScore <= 0 {
		return "", false
	}
	return bestID, true
}

func (s *CategorizerService) tokens(description string) []string {
	if s.Tokenizer != nil {
		return s.Tokenizer.Tokenize(description)
	}
	return tokenize.Tokens(description)
}

// ApplyCorrection records a manual recategorization and feeds its tokens
// back into the rule weights, so accuracy improves with user corrections.
// The token increments are atomic upserts, safe under concurrent edits.
func (s *CategorizerService) ApplyCorrection(ctx context.Context, txID, categoryID string) error {
	tx, err := s.Transactions.Get(ctx, txID)
	if err != nil {
		return err
	}
	if tx == nil {
		return errors.New("categorizer: transaction not found")
	}
	if err := s.Transactions.UpdateCategory(ctx, txID, &categoryID); err != nil {
		return err
	}
	return s.Rules.IncrementTokens(ctx, newID(), tx.OrganizationID, categoryID, s.tokens(tx.Description))
}

// SuggestHints asks the optional suggestion collaborator for icon/color
// hints. Absence, timeout or error all degrade to no hint.
func (s *CategorizerService) SuggestHints(ctx context.Context, name string) (llm.Hint, bool) {
	if s.Suggestions == nil {
		return llm.Hint{}, false
	}
	hint, ok, err := s.Suggestions.Suggest(ctx, name)
	if err != nil || !ok {
		return llm.Hint{}, false
	}
	return hint, true
}

// CreateCategory adds a user-defined category, filling in icon and color
// from the suggestion collaborator when one is configured. Missing hints
// degrade to a plain category; creation never fails on the collaborator.
func (s *CategorizerService) CreateCategory(ctx context.Context, organizationID, name, macro, kind string) (*repository.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("categorizer: category name is required")
	}
	existing, err := s.Categories.List(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	sortOrder := 0
	for _, c := range existing {
		if strings.EqualFold(c.Name, name) {
			return nil, fmt.Errorf("categorizer: category %q already exists", name)
		}
		if c.SortOrder >= sortOrder {
			sortOrder = c.SortOrder + 1
		}
	}
	c := repository.Category{
		ID:             newID(),
		OrganizationID: organizationID,
		Name:           name,
		SortOrder:      sortOrder,
	}
	if macro != "" {
		c.Macro = &macro
	}
	if kind != "" {
		c.Kind = &kind
	}
	if hint, ok := s.SuggestHints(ctx, name); ok {
		if hint.Icon != "" {
			c.Icon = &hint.Icon
		}
		if hint.Color != "" {
			c.Color = &hint.Color
		}
	}
	if err := s.Categories.Upsert(ctx, c); err != nil {
		return nil, err
	}
	return &c, nil
}
