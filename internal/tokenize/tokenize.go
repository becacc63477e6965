// Package tokenize normalizes transaction descriptions into canonical token
// sets for the categorization engine.
package tokenize

import (
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	minTokenLen      = 2
	defaultCacheSize = 4096
)

// Tokenizer turns free-text descriptions into an ordered, de-duplicated
// token set with synthesized adjacent bigrams. Tokenization is pure; the
// LRU cache only skips recomputation for repeated descriptions.
type Tokenizer struct {
	cache *lru.Cache[string, []string]
}

// New creates a Tokenizer with a bounded memo cache. cacheSize <= 0 picks
// the default.
func New(cacheSize int) (*Tokenizer, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, []string](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{cache: cache}, nil
}

// Tokenize returns the canonical token set for a description. Degenerate
// input yields an empty slice, never an error.
func (t *Tokenizer) Tokenize(description string) []string {
	if cached, ok := t.cache.Get(description); ok {
		out := make([]string, len(cached))
		copy(out, cached)
		return out
	}
	tokens := Tokens(description)
	t.cache.Add(description, tokens)
	out := make([]string, len(tokens))
	copy(out, tokens)
	return out
}

// Tokens is the uncached tokenization function.
func Tokens(description string) []string {
	words := splitWords(description)

	kept := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < minTokenLen {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		kept = append(kept, w)
	}

	out := make([]string, 0, len(kept)*2)
	seen := make(map[string]struct{}, len(kept)*2)
	add := func(tok string) {
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}
	for i, w := range kept {
		add(w)
		if i+1 < len(kept) {
			add(w + "_" + kept[i+1])
		}
	}
	return out
}

// splitWords lower-cases and splits on non-alphanumeric runes, treating
// camelCase boundaries as separators.
func splitWords(s string) []string {
	var words []string
	var cur strings.Builder
	var prev rune

	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}

	for _, r := range s {
		switch {
		case unicode.IsLetter(r):
			if unicode.IsUpper(r) && (unicode.IsLower(prev) || unicode.IsDigit(prev)) {
				flush()
			}
			cur.WriteRune(unicode.ToLower(r))
		case unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return words
}
