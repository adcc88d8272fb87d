package clarify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/intent"
)

func lowConfidence() intent.Result {
	return intent.Result{
		Type:       intent.TypeIntent,
		Intent:     "send_email",
		Confidence: 0.35,
		Data:       map[string]any{"to": "bob"},
		Candidates: []intent.Candidate{
			{Intent: "send_email", Label: "Send email"},
			{Intent: "draft_message", Label: "Draft message"},
		},
	}
}

func TestGate_Needed(t *testing.T) {
	g := NewGate(NewMemoryStore(), 0, 0)
	if !g.Needed(intent.Result{Type: intent.TypeIntent, Confidence: 0.35}) {
		t.Fatal("0.35 is below the default threshold")
	}
	if g.Needed(intent.Result{Type: intent.TypeIntent, Confidence: 0.4}) {
		t.Fatal("0.4 is not below the threshold")
	}
	if !g.Needed(intent.Result{Type: intent.TypeClarify, Confidence: 0.9}) {
		t.Fatal("explicit clarify results always need clarification")
	}
}

func TestGate_OpenBuildsButtonsInOrder(t *testing.T) {
	store := NewMemoryStore()
	g := NewGate(store, 0, 0)

	p, err := g.Open(context.Background(), "telegram:direct:1", "mail bob", lowConfidence())
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Buttons) != 2 {
		t.Fatalf("expected 2 buttons, got %d", len(p.Buttons))
	}
	if p.Buttons[0].Data != "clarify:send_email:"+p.Token || p.Buttons[1].Data != "clarify:draft_message:"+p.Token {
		t.Fatalf("expected buttons carrying intent and token, got: %+v", p.Buttons)
	}
	if store.Len() != 1 {
		t.Fatalf("expected exactly one pending record, got %d", store.Len())
	}
}

func TestGate_RedeemIsSingleUse(t *testing.T) {
	g := NewGate(NewMemoryStore(), 0, 0)
	ctx := context.Background()
	_, _ = g.Open(ctx, "s", "mail bob", lowConfidence())

	p, err := g.Redeem(ctx, "s", "", "send_email")
	if err != nil {
		t.Fatalf("first redeem should succeed: %v", err)
	}
	if p.Data["to"] != "bob" || p.OriginalText != "mail bob" {
		t.Fatalf("unexpected pending %+v", p)
	}

	if _, err := g.Redeem(ctx, "s", "", "send_email"); !errors.Is(err, ErrExpired) {
		t.Fatalf("second redeem should be expired, got: %v", err)
	}
}

func TestGate_RedeemByExplicitToken(t *testing.T) {
	g := NewGate(NewMemoryStore(), 0, 0)
	ctx := context.Background()
	prompt, _ := g.Open(ctx, "s", "mail bob", lowConfidence())

	if _, err := g.Redeem(ctx, "other", prompt.Token, "send_email"); !errors.Is(err, ErrExpired) {
		t.Fatalf("another sender must not redeem the token, got: %v", err)
	}
	if _, err := g.Redeem(ctx, "s", prompt.Token, "send_email"); err != nil {
		t.Fatalf("owner redeem failed: %v", err)
	}
}

func TestGate_RedeemAfterTTL(t *testing.T) {
	store := NewMemoryStore()
	now := time.Unix(1000, 0)
	store.now = func() time.Time { return now }
	g := NewGate(store, 0, time.Minute)
	g.now = store.now

	_, _ = g.Open(context.Background(), "s", "x", lowConfidence())
	now = now.Add(2 * time.Minute)

	if _, err := g.Redeem(context.Background(), "s", "", "send_email"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired after TTL, got: %v", err)
	}
}

func TestGate_RedeemRejectsUnofferedIntent(t *testing.T) {
	g := NewGate(NewMemoryStore(), 0, 0)
	_, _ = g.Open(context.Background(), "s", "x", lowConfidence())
	if _, err := g.Redeem(context.Background(), "s", "", "delete_all"); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired for unoffered intent, got: %v", err)
	}
}

func TestGate_OpenReplacesPreviousPending(t *testing.T) {
	store := NewMemoryStore()
	g := NewGate(store, 0, 0)
	first, _ := g.Open(context.Background(), "s", "a", lowConfidence())
	_, _ = g.Open(context.Background(), "s", "b", lowConfidence())

	if store.Len() != 1 {
		t.Fatalf("expected one record per sender, got %d", store.Len())
	}
	if _, err := g.Redeem(context.Background(), "s", first.Token, "send_email"); !errors.Is(err, ErrExpired) {
		t.Fatalf("replaced token should be gone, got: %v", err)
	}
}

func TestGate_CandidatesWithoutResolverOptions(t *testing.T) {
	g := NewGate(NewMemoryStore(), 0, 0)
	p, err := g.Open(context.Background(), "s", "x", intent.Result{Type: intent.TypeIntent, Intent: intent.Stats, Confidence: 0.2})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Buttons) != 2 || p.Buttons[1].Data != "clarify:chat:"+p.Token {
		t.Fatalf("expected top guess plus chat, got %+v", p.Buttons)
	}
}
