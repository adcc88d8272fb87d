// Package intent classifies free text into a capability name.
package intent

import (
	"context"

	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// Name identifies a capability. The constants are the built-in ones;
// other names may be registered at startup.
type Name string

const (
	Chat        Name = "chat"
	AddExpense  Name = "add_expense"
	Stats       Name = "stats"
	Export      Name = "export"
	DeleteAll   Name = "delete_all"
	ScanReceipt Name = "scan_receipt"
)

// ResultType distinguishes a direct classification from a disambiguation request.
type ResultType string

const (
	TypeIntent  ResultType = "intent"
	TypeClarify ResultType = "clarify"
)

// Candidate is one option offered when the classifier is unsure.
type Candidate struct {
	Intent     Name    `json:"intent"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Result is a classification. For TypeClarify, Candidates holds the options in
// ranked order and Intent/Confidence describe the top guess if any.
type Result struct {
	Type       ResultType     `json:"type"`
	Intent     Name           `json:"intent,omitempty"`
	Confidence float64        `json:"confidence"`
	Data       map[string]any `json:"data,omitempty"`
	Candidates []Candidate    `json:"candidates,omitempty"`
}

// Resolver classifies text for a sender.
type Resolver interface {
	Resolve(ctx context.Context, text string, sc *tenant.SessionContext) (Result, error)
}

// Labels used for clarify buttons when the classifier gives none.
var defaultLabels = map[Name]string{
	Chat:        "Just chatting",
	AddExpense:  "Record an expense",
	Stats:       "Show spending stats",
	Export:      "Export to CSV",
	DeleteAll:   "Delete all data",
	ScanReceipt: "Scan a receipt",
}

// Label returns a human label for n.
func Label(n Name) string {
	if l, ok := defaultLabels[n]; ok {
		return l
	}
	return string(n)
}
