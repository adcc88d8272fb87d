// Package skills holds the built-in capability handlers.
package skills

import (
	"fmt"
	"strconv"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/intent"
	"github.com/nextlevelbuilder/famledger/internal/providers"
	"github.com/nextlevelbuilder/famledger/internal/store"
)

// Deps are shared by every skill.
type Deps struct {
	Stores     *store.Stores
	Provider   providers.Provider // nil: chat answers with a canned reply
	Model      string
	Bus        *bus.MessageBus    // nil disables budget alerts
	Recognizer ReceiptRecognizer  // nil disables scan_receipt
	Now        func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// Register adds every built-in skill to b.
func Register(b *capability.Builder, d Deps) *capability.Builder {
	return b.
		Register(intent.Chat, &Chat{deps: d}).
		Register(intent.AddExpense, &AddExpense{deps: d}).
		Register(intent.Stats, &Stats{deps: d}).
		Register(intent.Export, &Export{deps: d}).
		Register(intent.DeleteAll, &DeleteAll{deps: d}).
		Register(intent.ScanReceipt, &ScanReceipt{deps: d})
}

func formatMoney(amount float64, currency string) string {
	s := strconv.FormatFloat(amount, 'f', 2, 64)
	if currency == "" {
		return s
	}
	return fmt.Sprintf("%s %s", s, currency)
}
