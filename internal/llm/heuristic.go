package llm

import (
	"context"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
)

// HeuristicProvider is an offline-friendly implementation that fuzzy-matches
// category names against a known taxonomy. It mimics the interface and
// behavior (timeouts, graceful degradation) of the model-backed provider so
// the rest of the app can remain non-blocking.
type HeuristicProvider struct {
	timeout time.Duration
}

func NewHeuristicProvider(timeout time.Duration) *HeuristicProvider {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &HeuristicProvider{timeout: timeout}
}

// taxonomy maps well-known category names to presentation hints.
var taxonomy = map[string]Hint{
	"income":         {Icon: "banknote", Color: "#22c55e"},
	"groceries":      {Icon: "shopping-cart", Color: "#84cc16"},
	"restaurants":    {Icon: "utensils", Color: "#f97316"},
	"transportation": {Icon: "car", Color: "#3b82f6"},
	"shopping":       {Icon: "shopping-bag", Color: "#ec4899"},
	"utilities":      {Icon: "plug", Color: "#eab308"},
	"subscriptions":  {Icon: "repeat", Color: "#8b5cf6"},
	"health":         {Icon: "heart-pulse", Color: "#ef4444"},
	"entertainment":  {Icon: "clapperboard", Color: "#06b6d4"},
	"travel":         {Icon: "plane", Color: "#0ea5e9"},
	"rent":           {Icon: "home", Color: "#a16207"},
	"insurance":      {Icon: "shield", Color: "#64748b"},
}

// maxDistance is the largest edit distance still considered a fuzzy match.
const maxDistance = 3

func (p *HeuristicProvider) Suggest(ctx context.Context, name string) (Hint, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := ctx.Err(); err != nil {
		return Hint{}, false, err
	}

	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return Hint{}, false, nil
	}
	if hint, ok := taxonomy[needle]; ok {
		return hint, true, nil
	}

	best, bestDist := "", maxDistance+1
	for known := range taxonomy {
		d := levenshtein.ComputeDistance(needle, known)
		if d < bestDist {
			best, bestDist = known, d
		}
	}
	if best == "" {
		return Hint{}, false, nil
	}
	return taxonomy[best], true, nil
}
