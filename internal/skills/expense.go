package skills

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/callback"
	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/intent"
	"github.com/nextlevelbuilder/famledger/internal/store"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// AddExpense records a spend from {amount, description, category} data, or
// parses the message text when the classifier left data empty.
type AddExpense struct {
	deps Deps
}

func (a *AddExpense) Execute(ctx context.Context, req capability.Request) (*capability.Result, error) {
	if _, ok := req.DataFloat("amount"); !ok {
		parsed, ok := intent.ParseExpense(req.Message.Text, req.Session)
		if !ok {
			return &capability.Result{Text: "How much was it? Try something like \"groceries 42.50\"."}, nil
		}
		req.Data = parsed
	}
	amount, _ := req.DataFloat("amount")

	source := "text"
	if req.Message.Metadata["transcribed"] == "true" {
		source = "voice"
	}
	e, err := recordExpense(ctx, a.deps, req.Session, amount, req.DataString("description"), req.DataString("category"), source)
	if err != nil {
		return nil, err
	}

	res := &capability.Result{
		Text: fmt.Sprintf("Recorded %s for %s in %s.",
			formatMoney(e.Amount, e.Currency), describe(e.Description), e.Category),
		Buttons: [][]bus.Button{{
			{Label: "✏️ Change category", Data: callback.Correct(e.ID)},
			{Label: "↩️ Undo", Data: callback.Cancel(e.ID)},
		}},
		EntityID: e.ID,
	}
	if alert := a.budgetCheck(req); alert != nil {
		res.Deferred = append(res.Deferred, *alert)
	}
	return res, nil
}

// budgetCheck pushes a message through the bus once the month's spending
// passes the family budget.
func (a *AddExpense) budgetCheck(req capability.Request) *capability.DeferredAction {
	budget := req.Session.Profile().MonthlyBudget
	if budget <= 0 || a.deps.Bus == nil {
		return nil
	}
	channel, chatID, currency := req.Message.Channel, req.Message.ChatID, req.Session.Currency()
	loc := req.Session.Location()
	expenses, publish, now := a.deps.Stores.Expenses, a.deps.Bus.PublishOutbound, a.deps.now

	return &capability.DeferredAction{
		Name: "budget_check",
		Run: func(ctx context.Context) error {
			t := now().In(loc)
			from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
			totals, err := expenses.MonthlyTotals(ctx, from, from.AddDate(0, 1, 0))
			if err != nil {
				return fmt.Errorf("monthly totals: %w", err)
			}
			var spent float64
			for _, m := range totals {
				spent += m.Total
			}
			if spent <= budget {
				return nil
			}
			publish(bus.OutboundMessage{
				Channel: channel,
				ChatID:  chatID,
				Text: fmt.Sprintf("⚠️ This month's spending is %s, over your budget of %s.",
					formatMoney(spent, currency), formatMoney(budget, currency)),
			})
			return nil
		},
	}
}

// recordExpense normalises the category and stores the entry.
func recordExpense(ctx context.Context, d Deps, sc *tenant.SessionContext, amount float64, desc, category, source string) (*store.Expense, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("record expense: non-positive amount %v", amount)
	}
	if category == "" || !sc.HasCategory(category) {
		category = intent.GuessCategory(desc, sc)
	}
	if category == "" {
		category = fallbackCategory(sc)
	}
	e := &store.Expense{
		UserID:      sc.UserID(),
		Amount:      amount,
		Currency:    sc.Currency(),
		Category:    category,
		Description: desc,
		Source:      source,
		SpentAt:     d.now().UTC(),
	}
	if err := d.Stores.Expenses.Add(ctx, e); err != nil {
		return nil, fmt.Errorf("record expense: %w", err)
	}
	slog.Debug("expense recorded", "tenant_id", sc.TenantID(), "category", category, "source", source)
	return e, nil
}

func fallbackCategory(sc *tenant.SessionContext) string {
	if sc.HasCategory("other") {
		return "other"
	}
	if cats := sc.Categories(); len(cats) > 0 {
		return cats[len(cats)-1]
	}
	return "other"
}

func describe(desc string) string {
	if desc == "" {
		return "an expense"
	}
	return desc
}
