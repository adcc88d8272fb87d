package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/nextlevelbuilder/famledger/internal/providers"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

func testSession() *tenant.SessionContext {
	return tenant.NewSessionContext(tenant.SessionFields{
		TenantID:   "fam-1",
		Currency:   "EUR",
		Categories: []string{"food", "transport"},
		Merchants:  []tenant.MerchantMapping{{Pattern: "uber", Category: "transport"}},
	})
}

func TestKeywordResolver(t *testing.T) {
	r := NewKeywordResolver(DefaultRules())
	tests := []struct {
		text string
		typ  ResultType
		want Name
	}{
		{"coffee 3.50", TypeIntent, AddExpense},
		{"uber 12,5", TypeIntent, AddExpense},
		{"how much did we spend this week", TypeIntent, Stats},
		{"export csv please", TypeIntent, Export},
		{"hello there", TypeIntent, Chat},
		{"scan and export", TypeClarify, ""},
	}
	for _, tt := range tests {
		res, err := r.Resolve(context.Background(), tt.text, testSession())
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.text, err)
		}
		if res.Type != tt.typ || res.Intent != tt.want {
			t.Errorf("Resolve(%q) = %s/%s, want %s/%s", tt.text, res.Type, res.Intent, tt.typ, tt.want)
		}
	}
}

func TestKeywordResolver_TieKeepsRuleOrder(t *testing.T) {
	r := NewKeywordResolver(DefaultRules())
	res, _ := r.Resolve(context.Background(), "scan and export", nil)
	if len(res.Candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(res.Candidates))
	}
	if res.Candidates[0].Intent != Export || res.Candidates[1].Intent != ScanReceipt {
		t.Fatalf("candidates not in rule order: %+v", res.Candidates)
	}
}

func TestParseExpense_UsesMerchantMapping(t *testing.T) {
	data, ok := ParseExpense("Uber to airport 23.40", testSession())
	if !ok {
		t.Fatal("expected an expense")
	}
	if data["amount"] != 23.40 {
		t.Fatalf("unexpected amount %v", data["amount"])
	}
	if data["category"] != "transport" {
		t.Fatalf("expected transport category, got %v", data["category"])
	}
	if data["description"] != "Uber to airport" {
		t.Fatalf("unexpected description %q", data["description"])
	}
}

func TestParseExpense_NoNumber(t *testing.T) {
	if _, ok := ParseExpense("no numbers here", nil); ok {
		t.Fatal("expected no expense")
	}
}

type stubProvider struct {
	content string
	err     error
}

func (s stubProvider) Chat(context.Context, providers.ChatRequest) (*providers.ChatResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &providers.ChatResponse{Content: s.content}, nil
}
func (stubProvider) DefaultModel() string { return "stub" }
func (stubProvider) Name() string         { return "stub" }

var known = []Name{Chat, AddExpense, Stats, Export}

func TestLLMResolver_Clarify(t *testing.T) {
	p := stubProvider{content: `{"intent":"clarify","confidence":0.3,"candidates":[{"intent":"stats","label":"Stats"},{"intent":"launch_rocket"},{"intent":"export"}]}`}
	r := NewLLMResolver(p, "", known, NewKeywordResolver(nil))

	res, err := r.Resolve(context.Background(), "numbers", testSession())
	if err != nil {
		t.Fatal(err)
	}
	if res.Type != TypeClarify || len(res.Candidates) != 2 {
		t.Fatalf("expected 2 known candidates, got %+v", res)
	}
	if res.Candidates[1].Label != Label(Export) {
		t.Fatalf("missing label should default, got %q", res.Candidates[1].Label)
	}
}

func TestLLMResolver_FallsBackOnError(t *testing.T) {
	r := NewLLMResolver(stubProvider{err: errors.New("boom")}, "", known, NewKeywordResolver(DefaultRules()))
	res, err := r.Resolve(context.Background(), "coffee 3", testSession())
	if err != nil {
		t.Fatal(err)
	}
	if res.Intent != AddExpense {
		t.Fatalf("expected keyword fallback, got %+v", res)
	}
}

func TestLLMResolver_UnknownIntentFallsBack(t *testing.T) {
	r := NewLLMResolver(stubProvider{content: "```json\n{\"intent\":\"fly\",\"confidence\":0.9}\n```"}, "", known, NewKeywordResolver(DefaultRules()))
	res, _ := r.Resolve(context.Background(), "hello", nil)
	if res.Intent != Chat {
		t.Fatalf("expected chat from keyword fallback, got %+v", res)
	}
}
