package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GenAIProvider asks a Gemini model for category hints. It is used as the
// fallback when the taxonomy has no fuzzy match; failures degrade to no hint
// at the call site.
type GenAIProvider struct {
	apiKey  string
	model   string
	timeout time.Duration
	client  *genai.Client
}

func NewGenAIProvider(apiKey, model string, timeout time.Duration) *GenAIProvider {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &GenAIProvider{apiKey: strings.TrimSpace(apiKey), model: model, timeout: timeout}
}

func (p *GenAIProvider) ensureClient(ctx context.Context) error {
	if p.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      p.apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return fmt.Errorf("genai client: %w", err)
	}
	p.client = client
	return nil
}

func (p *GenAIProvider) Suggest(ctx context.Context, name string) (Hint, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.ensureClient(ctx); err != nil {
		return Hint{}, false, err
	}

	prompt := "You pick presentation hints for personal-finance categories.\n" +
		"Category name: " + name + "\n" +
		"Return ONLY valid raw JSON with keys: icon (lucide icon name), color (hex string).\n" +
		"Do NOT wrap the response in code fences."

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return Hint{}, false, fmt.Errorf("generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return Hint{}, false, nil
	}

	var hint Hint
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &hint); err != nil {
		return Hint{}, false, fmt.Errorf("parse hint: %w", err)
	}
	if hint.Icon == "" && hint.Color == "" {
		return Hint{}, false, nil
	}
	return hint, true, nil
}

// cleanModelJSON strips Markdown fences the model sometimes adds despite
// instructions, keeping only the outermost JSON object.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "{"); start != -1 {
		if end := strings.LastIndex(s, "}"); end != -1 && end > start {
			s = s[start : end+1]
		}
	}
	return strings.TrimSpace(s)
}
