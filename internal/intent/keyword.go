package intent

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// Rule maps keywords to an intent.
type Rule struct {
	Intent   Name
	Label    string
	Keywords []string
}

// DefaultRules are the keyword rules used when no LLM is configured.
func DefaultRules() []Rule {
	return []Rule{
		{Intent: Stats, Label: Label(Stats), Keywords: []string{"how much", "stats", "summary", "total", "report", "this week", "this month", "trend"}},
		{Intent: Export, Label: Label(Export), Keywords: []string{"export", "csv", "download", "spreadsheet"}},
		{Intent: ScanReceipt, Label: Label(ScanReceipt), Keywords: []string{"receipt", "scan", "invoice"}},
		{Intent: DeleteAll, Label: Label(DeleteAll), Keywords: []string{"delete everything", "wipe", "erase all"}},
	}
}

// KeywordResolver is a deterministic Resolver. A number in the text means an
// expense; otherwise the rule with the most keyword hits wins, ties become a
// clarify result and no hits fall back to chat.
type KeywordResolver struct {
	rules []Rule
	lower [][]string
}

// NewKeywordResolver pre-computes lowercase keywords.
func NewKeywordResolver(rules []Rule) *KeywordResolver {
	lower := make([][]string, len(rules))
	for i, r := range rules {
		kws := make([]string, len(r.Keywords))
		for j, kw := range r.Keywords {
			kws[j] = strings.ToLower(kw)
		}
		lower[i] = kws
	}
	return &KeywordResolver{rules: rules, lower: lower}
}

func (k *KeywordResolver) Resolve(_ context.Context, text string, sc *tenant.SessionContext) (Result, error) {
	lower := strings.ToLower(text)

	type hit struct {
		rule  int
		score int
	}
	var hits []hit
	best := 0
	for i, kws := range k.lower {
		score := 0
		for _, kw := range kws {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{i, score})
			if score > best {
				best = score
			}
		}
	}

	if exp, ok := ParseExpense(text, sc); ok && best < 2 {
		return Result{Type: TypeIntent, Intent: AddExpense, Confidence: 0.9, Data: exp}, nil
	}

	if best == 0 {
		return Result{Type: TypeIntent, Intent: Chat, Confidence: 0.6}, nil
	}

	var top []Candidate
	for _, h := range hits {
		if h.score == best {
			r := k.rules[h.rule]
			top = append(top, Candidate{Intent: r.Intent, Label: r.Label, Confidence: 0.35})
		}
	}
	if len(top) > 1 {
		slog.Debug("keyword resolver tie", "candidates", len(top))
		return Result{Type: TypeClarify, Confidence: 0.35, Candidates: top}, nil
	}

	conf := 0.55 + 0.15*float64(best)
	if conf > 0.95 {
		conf = 0.95
	}
	return Result{Type: TypeIntent, Intent: top[0].Intent, Confidence: conf}, nil
}

var amountRe = regexp.MustCompile(`(?:^|\s|[$€£])(\d{1,9}(?:[.,]\d{1,2})?)(?:\s|$|[$€£]|k\b)`)

// ParseExpense extracts {amount, description, category} from text like
// "coffee 3.50" or "12,5 taxi". Category comes from the first matching
// merchant mapping, else a category name mentioned in the text.
func ParseExpense(text string, sc *tenant.SessionContext) (map[string]any, bool) {
	m := amountRe.FindStringSubmatchIndex(text)
	if m == nil {
		return nil, false
	}
	raw := strings.ReplaceAll(text[m[2]:m[3]], ",", ".")
	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil || amount <= 0 {
		return nil, false
	}

	desc := strings.TrimSpace(text[:m[2]] + " " + text[m[3]:])
	desc = strings.Trim(strings.Join(strings.Fields(desc), " "), "$€£ ")
	data := map[string]any{
		"amount":      amount,
		"description": desc,
	}
	if sc != nil {
		if cat := GuessCategory(desc, sc); cat != "" {
			data["category"] = cat
		}
	}
	return data, true
}

// GuessCategory maps a description to one of the tenant's categories.
func GuessCategory(desc string, sc *tenant.SessionContext) string {
	lower := strings.ToLower(desc)
	for _, mm := range sc.Merchants() {
		if mm.Pattern != "" && strings.Contains(lower, strings.ToLower(mm.Pattern)) {
			return mm.Category
		}
	}
	for _, c := range sc.Categories() {
		if strings.Contains(lower, strings.ToLower(c)) {
			return c
		}
	}
	return ""
}
