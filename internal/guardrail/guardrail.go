// Package guardrail screens raw user text before classification.
package guardrail

import (
	"context"
	"strings"
)

// DefaultRefusal is sent when text is rejected and no refusal is configured.
const DefaultRefusal = "Sorry, I can't help with that. I can track expenses, show stats and export your data."

// Verdict is the outcome of a check.
type Verdict struct {
	Safe    bool
	Refusal string
}

// Checker decides whether text may proceed.
type Checker interface {
	Check(ctx context.Context, text string) (Verdict, error)
}

// PhraseFilter rejects text containing any configured phrase (case-insensitive).
type PhraseFilter struct {
	phrases []string
	refusal string
}

// NewPhraseFilter builds a filter. An empty refusal uses DefaultRefusal.
func NewPhraseFilter(phrases []string, refusal string) *PhraseFilter {
	lower := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(strings.ToLower(p)); p != "" {
			lower = append(lower, p)
		}
	}
	if refusal == "" {
		refusal = DefaultRefusal
	}
	return &PhraseFilter{phrases: lower, refusal: refusal}
}

func (f *PhraseFilter) Check(ctx context.Context, text string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	lower := strings.ToLower(text)
	for _, p := range f.phrases {
		if strings.Contains(lower, p) {
			return Verdict{Safe: false, Refusal: f.refusal}, nil
		}
	}
	return Verdict{Safe: true}, nil
}

// AllowAll passes everything.
type AllowAll struct{}

func (AllowAll) Check(context.Context, string) (Verdict, error) { return Verdict{Safe: true}, nil }
