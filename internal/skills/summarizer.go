package skills

import (
	"context"
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/famledger/internal/providers"
	"github.com/nextlevelbuilder/famledger/internal/store"
)

// Summarizer keeps a rolling conversation summary with the LLM.
type Summarizer struct {
	provider providers.Provider
	model    string
}

func NewSummarizer(p providers.Provider, model string) *Summarizer {
	return &Summarizer{provider: p, model: model}
}

func (s *Summarizer) Summarize(ctx context.Context, previous string, turns []store.Turn) (string, error) {
	if len(turns) == 0 {
		return previous, nil
	}

	var b strings.Builder
	if previous != "" {
		b.WriteString("Previous summary:\n")
		b.WriteString(previous)
		b.WriteString("\n\n")
	}
	b.WriteString("New messages:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Text)
	}

	resp, err := s.provider.Chat(ctx, providers.ChatRequest{
		Model: s.model,
		Messages: []providers.Message{
			{Role: "system", Content: "Summarize this family-finance conversation in at most 5 short sentences. " +
				"Keep amounts, categories, decisions and open questions. Drop greetings."},
			{Role: "user", Content: b.String()},
		},
		Options: map[string]interface{}{providers.OptMaxTokens: 300},
	})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return previous, nil
	}
	return summary, nil
}
