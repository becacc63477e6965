package llm

import "context"

// Chain tries providers in order and returns the first confident hint.
// A provider error moves on to the next provider rather than failing the
// lookup; the chain as a whole only errors when the context is done.
type Chain struct {
	providers []SuggestionProvider
}

func NewChain(providers ...SuggestionProvider) *Chain {
	return &Chain{providers: providers}
}

func (c *Chain) Suggest(ctx context.Context, name string) (Hint, bool, error) {
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return Hint{}, false, err
		}
		hint, ok, err := p.Suggest(ctx, name)
		if err != nil {
			continue
		}
		if ok {
			return hint, true, nil
		}
	}
	return Hint{}, false, nil
}
