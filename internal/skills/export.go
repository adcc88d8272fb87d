package skills

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/capability"
)

// Export sends every expense as a CSV attachment.
type Export struct {
	deps Deps
}

func (e *Export) Execute(ctx context.Context, req capability.Request) (*capability.Result, error) {
	now := e.deps.now()
	rows, err := e.deps.Stores.Expenses.List(ctx, time.Time{}, now.Add(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	if len(rows) == 0 {
		return &capability.Result{Text: "There's nothing to export yet."}, nil
	}

	loc := req.Session.Location()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"date", "amount", "currency", "category", "description", "source"})
	for _, x := range rows {
		_ = w.Write([]string{
			x.SpentAt.In(loc).Format("2006-01-02 15:04"),
			strconv.FormatFloat(x.Amount, 'f', 2, 64),
			x.Currency,
			x.Category,
			x.Description,
			x.Source,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}

	return &capability.Result{
		Text: fmt.Sprintf("Here are your %d expenses.", len(rows)),
		Attachment: &bus.Attachment{
			Name:        "expenses-" + now.In(loc).Format("2006-01-02") + ".csv",
			ContentType: "text/csv",
			Data:        buf.Bytes(),
		},
	}, nil
}
