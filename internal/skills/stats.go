package skills

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/callback"
	"github.com/nextlevelbuilder/famledger/internal/capability"
)

const trendMonths = 6

// Stats shows weekly totals per category or the monthly trend.
type Stats struct {
	deps Deps
}

func (s *Stats) Execute(ctx context.Context, req capability.Request) (*capability.Result, error) {
	view := req.DataString("view")
	if view == "" && strings.Contains(strings.ToLower(req.Message.Text), "trend") {
		view = callback.StatsTrend
	}

	var (
		text string
		err  error
	)
	switch view {
	case callback.StatsTrend:
		text, err = s.trend(ctx, req)
	default:
		view = callback.StatsWeekly
		text, err = s.weekly(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	other := bus.Button{Label: "📈 Monthly trend", Data: callback.Stats(callback.StatsTrend)}
	if view == callback.StatsTrend {
		other = bus.Button{Label: "📊 This week", Data: callback.Stats(callback.StatsWeekly)}
	}
	return &capability.Result{Text: text, Buttons: [][]bus.Button{{other}}}, nil
}

func (s *Stats) weekly(ctx context.Context, req capability.Request) (string, error) {
	loc := req.Session.Location()
	now := s.deps.now().In(loc)
	to := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)
	from := to.AddDate(0, 0, -7)

	totals, err := s.deps.Stores.Expenses.TotalsByCategory(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("weekly totals: %w", err)
	}
	if len(totals) == 0 {
		return "No expenses in the last 7 days.", nil
	}

	currency := req.Session.Currency()
	var b strings.Builder
	b.WriteString("Last 7 days:\n")
	var sum float64
	for _, t := range totals {
		fmt.Fprintf(&b, "• %s: %s (%d)\n", t.Category, formatMoney(t.Total, currency), t.Count)
		sum += t.Total
	}
	fmt.Fprintf(&b, "Total: %s", formatMoney(sum, currency))
	return b.String(), nil
}

func (s *Stats) trend(ctx context.Context, req capability.Request) (string, error) {
	loc := req.Session.Location()
	now := s.deps.now().In(loc)
	to := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, 1, 0)
	from := to.AddDate(0, -trendMonths, 0)

	months, err := s.deps.Stores.Expenses.MonthlyTotals(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("monthly totals: %w", err)
	}
	if len(months) == 0 {
		return "No expenses in the last few months.", nil
	}

	currency := req.Session.Currency()
	budget := req.Session.Profile().MonthlyBudget
	var b strings.Builder
	b.WriteString("Monthly spending:\n")
	for _, m := range months {
		fmt.Fprintf(&b, "• %s: %s", m.Month.Format("Jan 2006"), formatMoney(m.Total, currency))
		if budget > 0 && m.Total > budget {
			b.WriteString(" ⚠️")
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
