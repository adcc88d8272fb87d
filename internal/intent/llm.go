package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/famledger/internal/providers"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// LLMResolver asks an OpenAI-compatible model to classify text. Provider
// errors and unparseable answers fall back to the keyword resolver.
type LLMResolver struct {
	provider providers.Provider
	model    string
	known    []Name
	fallback Resolver
}

// NewLLMResolver creates a resolver restricted to the known intent names.
func NewLLMResolver(p providers.Provider, model string, known []Name, fallback Resolver) *LLMResolver {
	return &LLMResolver{provider: p, model: model, known: known, fallback: fallback}
}

type llmAnswer struct {
	Intent     string         `json:"intent"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data"`
	Candidates []Candidate    `json:"candidates"`
}

func (r *LLMResolver) Resolve(ctx context.Context, text string, sc *tenant.SessionContext) (Result, error) {
	resp, err := r.provider.Chat(ctx, providers.ChatRequest{
		Model: r.model,
		Messages: []providers.Message{
			{Role: "system", Content: r.systemPrompt(sc)},
			{Role: "user", Content: text},
		},
		Options: map[string]interface{}{
			providers.OptJSONMode:    true,
			providers.OptTemperature: 0,
		},
	})
	if err != nil {
		slog.Warn("llm intent resolve failed, using keywords", "error", err)
		return r.fallback.Resolve(ctx, text, sc)
	}

	res, err := r.parse(resp.Content)
	if err != nil {
		slog.Warn("llm intent answer unparseable, using keywords", "error", err)
		return r.fallback.Resolve(ctx, text, sc)
	}
	return res, nil
}

func (r *LLMResolver) isKnown(n Name) bool {
	for _, k := range r.known {
		if k == n {
			return true
		}
	}
	return false
}

func (r *LLMResolver) parse(content string) (Result, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "`\n ")

	var a llmAnswer
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return Result{}, fmt.Errorf("decode intent answer: %w", err)
	}

	var cands []Candidate
	for _, c := range a.Candidates {
		if !r.isKnown(c.Intent) {
			continue
		}
		if c.Label == "" {
			c.Label = Label(c.Intent)
		}
		cands = append(cands, c)
	}

	if a.Intent == string(TypeClarify) {
		if len(cands) == 0 {
			return Result{Type: TypeIntent, Intent: Chat, Confidence: 0.5, Data: a.Data}, nil
		}
		return Result{Type: TypeClarify, Confidence: a.Confidence, Data: a.Data, Candidates: cands}, nil
	}

	name := Name(a.Intent)
	if !r.isKnown(name) {
		return Result{}, fmt.Errorf("unknown intent %q", a.Intent)
	}
	return Result{Type: TypeIntent, Intent: name, Confidence: a.Confidence, Data: a.Data, Candidates: cands}, nil
}

func (r *LLMResolver) systemPrompt(sc *tenant.SessionContext) string {
	var b strings.Builder
	b.WriteString("You classify messages sent to a family finance assistant.\n")
	b.WriteString("Known intents: ")
	for i, n := range r.known {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(string(n))
	}
	b.WriteString(".\n")
	if sc != nil {
		b.WriteString("Family categories: ")
		b.WriteString(strings.Join(sc.Categories(), ", "))
		b.WriteString(". Currency: ")
		b.WriteString(sc.Currency())
		b.WriteString(".\n")
	}
	b.WriteString(`Answer with a JSON object: {"intent": "<name or clarify>", "confidence": 0..1, ` +
		`"data": {"amount": number, "description": string, "category": string}, ` +
		`"candidates": [{"intent": "<name>", "label": "<short label>", "confidence": 0..1}]}. ` +
		`Use "clarify" with ranked candidates when unsure.`)
	return b.String()
}
