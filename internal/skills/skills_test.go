package skills

import (
	"bytes"
	"context"
	"encoding/csv"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/intent"
	"github.com/nextlevelbuilder/famledger/internal/providers"
	"github.com/nextlevelbuilder/famledger/internal/store"
	"github.com/nextlevelbuilder/famledger/internal/store/memory"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

var fixedNow = time.Date(2026, 3, 18, 12, 0, 0, 0, time.UTC)

// fakeProvider records the last request and returns a canned answer.
type fakeProvider struct {
	answer string
	last   providers.ChatRequest
}

func (f *fakeProvider) Chat(_ context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.last = req
	return &providers.ChatResponse{Content: f.answer, FinishReason: "stop"}, nil
}
func (f *fakeProvider) DefaultModel() string { return "fake" }
func (f *fakeProvider) Name() string         { return "fake" }

type fakeRecognizer struct {
	receipt *Receipt
	err     error
	got     []byte
}

func (f *fakeRecognizer) Recognize(_ context.Context, jpeg []byte, _ []string) (*Receipt, error) {
	f.got = jpeg
	return f.receipt, f.err
}

func setup(t *testing.T, role tenant.Role, budget float64) (context.Context, Deps, *tenant.SessionContext) {
	t.Helper()
	ctx, scope := tenant.Bind(context.Background(), "fam-1")
	t.Cleanup(scope.Release)

	sc := tenant.NewSessionContext(tenant.SessionFields{
		TenantID:   "fam-1",
		UserID:     "user-1",
		Role:       role,
		Currency:   "EUR",
		Categories: []string{"groceries", "dining", "other"},
		Merchants:  []tenant.MerchantMapping{{Pattern: "lidl", Category: "groceries"}},
		Profile:    tenant.Profile{Name: "family", MonthlyBudget: budget},
	})
	deps := Deps{Stores: memory.New(), Now: func() time.Time { return fixedNow }}
	return ctx, deps, sc
}

func textRequest(sc *tenant.SessionContext, text string) capability.Request {
	return capability.Request{
		Message: bus.InboundMessage{Channel: "telegram", ChatID: "42", Type: bus.TypeText, Text: text},
		Session: sc,
	}
}

func TestAddExpense_ParsesTextAndAppliesMerchant(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 0)

	res, err := (&AddExpense{deps: deps}).Execute(ctx, textRequest(sc, "lidl 23.40"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EntityID == "" {
		t.Fatal("expected entity id")
	}
	e, err := deps.Stores.Expenses.Get(ctx, res.EntityID)
	if err != nil {
		t.Fatalf("expected stored expense, got: %v", err)
	}
	if e.Amount != 23.40 || e.Category != "groceries" || e.Source != "text" {
		t.Fatalf("unexpected expense: %+v", e)
	}
	flat := (bus.OutboundMessage{Buttons: res.Buttons}).FlatButtons()
	if len(flat) != 2 || flat[0].Data != "correct:"+e.ID || flat[1].Data != "cancel:"+e.ID {
		t.Fatalf("unexpected buttons: %+v", flat)
	}
	if len(res.Deferred) != 0 {
		t.Fatalf("expected no budget check without budget, got %d", len(res.Deferred))
	}
}

func TestAddExpense_UnknownCategoryFallsBack(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 0)
	req := textRequest(sc, "")
	req.Data = map[string]any{"amount": 5.0, "description": "parking", "category": "spaceships"}

	res, err := (&AddExpense{deps: deps}).Execute(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e, _ := deps.Stores.Expenses.Get(ctx, res.EntityID)
	if e.Category != "other" {
		t.Fatalf("expected other, got: %q", e.Category)
	}
}

func TestAddExpense_AsksForAmount(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 0)
	res, err := (&AddExpense{deps: deps}).Execute(ctx, textRequest(sc, "bought stuff"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.EntityID != "" || !strings.Contains(res.Text, "How much") {
		t.Fatalf("expected amount prompt, got: %+v", res)
	}
}

func TestAddExpense_BudgetAlertThroughBus(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 50)
	deps.Bus = bus.NewWithBuffer(4)

	res, err := (&AddExpense{deps: deps}).Execute(ctx, textRequest(sc, "dining 60"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Deferred) != 1 {
		t.Fatalf("expected budget check, got %d deferred", len(res.Deferred))
	}
	if err := res.Deferred[0].Run(ctx); err != nil {
		t.Fatalf("budget check: %v", err)
	}

	rctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := deps.Bus.SubscribeOutbound(rctx)
	if !ok {
		t.Fatal("expected alert on the bus")
	}
	if msg.ChatID != "42" || !strings.Contains(msg.Text, "over your budget") {
		t.Fatalf("unexpected alert: %+v", msg)
	}
}

func TestStats_WeeklyAndTrend(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 0)
	for _, e := range []store.Expense{
		{Amount: 10, Category: "groceries", SpentAt: fixedNow.Add(-24 * time.Hour)},
		{Amount: 5, Category: "dining", SpentAt: fixedNow.Add(-48 * time.Hour)},
		{Amount: 99, Category: "dining", SpentAt: fixedNow.AddDate(0, -2, 0)},
	} {
		e := e
		if err := deps.Stores.Expenses.Add(ctx, &e); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	s := &Stats{deps: deps}

	res, err := s.Execute(ctx, textRequest(sc, "stats"))
	if err != nil {
		t.Fatalf("weekly: %v", err)
	}
	if !strings.Contains(res.Text, "groceries: 10.00 EUR") || !strings.Contains(res.Text, "Total: 15.00 EUR") {
		t.Fatalf("unexpected weekly text: %q", res.Text)
	}
	if res.Buttons[0][0].Data != "stats:trend" {
		t.Fatalf("expected trend button, got: %q", res.Buttons[0][0].Data)
	}

	req := textRequest(sc, "")
	req.Data = map[string]any{"view": "trend"}
	res, err = s.Execute(ctx, req)
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if !strings.Contains(res.Text, "Jan 2026: 99.00 EUR") || !strings.Contains(res.Text, "Mar 2026: 15.00 EUR") {
		t.Fatalf("unexpected trend text: %q", res.Text)
	}
}

func TestExport_CSVAttachment(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 0)
	_ = deps.Stores.Expenses.Add(ctx, &store.Expense{Amount: 3.5, Currency: "EUR", Category: "dining", Description: "coffee, large", SpentAt: fixedNow.Add(-time.Hour)})

	res, err := (&Export{deps: deps}).Execute(ctx, textRequest(sc, "/export"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Attachment == nil || res.Attachment.ContentType != "text/csv" {
		t.Fatalf("expected csv attachment, got: %+v", res.Attachment)
	}
	rows, err := csv.NewReader(bytes.NewReader(res.Attachment.Data)).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(rows) != 2 || rows[1][1] != "3.50" || rows[1][4] != "coffee, large" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestExport_Empty(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 0)
	res, err := (&Export{deps: deps}).Execute(ctx, textRequest(sc, "/export"))
	if err != nil || res.Attachment != nil {
		t.Fatalf("expected text-only reply, got: %+v, %v", res, err)
	}
}

func TestDeleteAll_RequiresConfirmation(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 0)
	_ = deps.Stores.Expenses.Add(ctx, &store.Expense{Amount: 1, Category: "other", SpentAt: fixedNow})
	h := &DeleteAll{deps: deps}

	res, err := h.Execute(ctx, textRequest(sc, "/delete_all"))
	if err != nil || res.Confirm == nil {
		t.Fatalf("expected confirmation request, got: %+v, %v", res, err)
	}
	if rows, _ := deps.Stores.Expenses.List(ctx, time.Time{}, fixedNow.Add(time.Hour)); len(rows) != 1 {
		t.Fatal("expected nothing deleted before confirmation")
	}

	req := textRequest(sc, "")
	req.Confirmed = true
	if _, err := h.Execute(ctx, req); err != nil {
		t.Fatalf("confirmed purge: %v", err)
	}
	if rows, _ := deps.Stores.Expenses.List(ctx, time.Time{}, fixedNow.Add(time.Hour)); len(rows) != 0 {
		t.Fatalf("expected purge, got %d rows", len(rows))
	}
}

func TestDeleteAll_MembersRefused(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleMember, 0)
	res, err := (&DeleteAll{deps: deps}).Execute(ctx, textRequest(sc, "/delete_all"))
	if err != nil || res.Confirm != nil || !strings.Contains(res.Text, "owner") {
		t.Fatalf("expected refusal, got: %+v, %v", res, err)
	}
}

func TestScanReceipt_ConfirmThenRecord(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 0)
	rec := &fakeRecognizer{receipt: &Receipt{Merchant: "Lidl", Total: 31.2, Category: "groceries"}}
	deps.Recognizer = rec
	h := &ScanReceipt{deps: deps}

	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 40, 60))
	img.Set(1, 1, color.White)
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	req := capability.Request{
		Intent:  intent.ScanReceipt,
		Message: bus.InboundMessage{Type: bus.TypePhoto, Payload: buf.Bytes()},
		Session: sc,
	}

	res, err := h.Execute(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Confirm == nil || res.Confirm.Data["amount"] != 31.2 {
		t.Fatalf("expected confirmation with amount, got: %+v", res)
	}
	if len(rec.got) == 0 {
		t.Fatal("expected recognizer to receive the normalised image")
	}

	req.Data = res.Confirm.Data
	req.Confirmed = true
	res, err = h.Execute(ctx, req)
	if err != nil {
		t.Fatalf("confirmed: %v", err)
	}
	e, err := deps.Stores.Expenses.Get(ctx, res.EntityID)
	if err != nil || e.Source != "receipt" || e.Category != "groceries" {
		t.Fatalf("unexpected expense: %+v, %v", e, err)
	}
}

func TestLLMRecognizer_ParsesAnswer(t *testing.T) {
	p := &fakeProvider{answer: `{"merchant":" Lidl ","total":12.5,"category":"groceries"}`}
	r, err := NewLLMRecognizer(p, "vision").Recognize(context.Background(), []byte{0xff, 0xd8}, []string{"groceries"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Merchant != "Lidl" || r.Total != 12.5 {
		t.Fatalf("unexpected receipt: %+v", r)
	}
	if len(p.last.Messages) != 1 || len(p.last.Messages[0].Images) != 1 {
		t.Fatalf("expected one image message, got: %+v", p.last.Messages)
	}

	p.answer = `{"total":0}`
	if _, err := NewLLMRecognizer(p, "vision").Recognize(context.Background(), nil, nil); err != ErrUnreadable {
		t.Fatalf("expected ErrUnreadable, got: %v", err)
	}
}

func TestChat_SendsHistoryAndSummary(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 0)
	p := &fakeProvider{answer: " hello! "}
	deps.Provider = p

	req := textRequest(sc, "how are we doing?")
	req.SystemPrompt = "be nice"
	req.Summary = "talked about groceries"
	req.History = []store.Turn{{Role: "user", Text: "hi"}, {Role: "assistant", Text: "hey"}}

	res, err := (&Chat{deps: deps}).Execute(ctx, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "hello!" {
		t.Fatalf("expected trimmed answer, got: %q", res.Text)
	}
	if len(p.last.Messages) != 4 || !strings.Contains(p.last.Messages[0].Content, "talked about groceries") {
		t.Fatalf("unexpected messages: %+v", p.last.Messages)
	}
}

func TestChat_WithoutProvider(t *testing.T) {
	ctx, deps, sc := setup(t, tenant.RoleOwner, 0)
	res, err := (&Chat{deps: deps}).Execute(ctx, textRequest(sc, "hi"))
	if err != nil || res.Text == "" {
		t.Fatalf("expected canned reply, got: %+v, %v", res, err)
	}
}

func TestSummarizer_KeepsPreviousOnEmptyAnswer(t *testing.T) {
	p := &fakeProvider{answer: ""}
	s := NewSummarizer(p, "m")
	got, err := s.Summarize(context.Background(), "old", []store.Turn{{Role: "user", Text: "x"}})
	if err != nil || got != "old" {
		t.Fatalf("expected previous summary, got: %q, %v", got, err)
	}
	if !strings.Contains(p.last.Messages[1].Content, "Previous summary:\nold") {
		t.Fatalf("expected previous summary in prompt, got: %q", p.last.Messages[1].Content)
	}
}

func TestRegister_AllSkills(t *testing.T) {
	reg, err := Register(capability.NewBuilder(), Deps{}).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	for _, n := range []intent.Name{intent.Chat, intent.AddExpense, intent.Stats, intent.Export, intent.DeleteAll, intent.ScanReceipt} {
		if _, ok := reg.Lookup(n); !ok {
			t.Errorf("expected %s registered", n)
		}
	}
}
