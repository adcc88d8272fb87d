// Package capability maps intent names to handlers and routes requests to them.
package capability

import (
	"context"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/intent"
	"github.com/nextlevelbuilder/famledger/internal/store"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// Request is everything a handler gets for one message.
type Request struct {
	Intent    intent.Name
	Message   bus.InboundMessage
	Session   *tenant.SessionContext
	SenderKey string
	Data      map[string]any

	// Filled by the Assembler when one is configured.
	History      []store.Turn
	Summary      string
	SystemPrompt string

	// Confirmed is set when the user approved a confirmation this handler asked for.
	Confirmed bool
}

// DataString returns Data[key] as a string, or "".
func (r Request) DataString(key string) string {
	s, _ := r.Data[key].(string)
	return s
}

// DataFloat returns Data[key] as a float64 when it holds a number.
func (r Request) DataFloat(key string) (float64, bool) {
	switch v := r.Data[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// DeferredAction is work to run after the reply is sent. Run receives a
// context bound to the same tenant as the request that produced it.
type DeferredAction struct {
	Name string
	Run  func(ctx context.Context) error
}

// Confirmation asks the user to approve an action before it runs. On
// approval the same intent is routed again with Data and Request.Confirmed set.
type Confirmation struct {
	Prompt string
	Data   map[string]any
}

// Result is a handler's answer.
type Result struct {
	Text           string
	Buttons        [][]bus.Button
	Attachment     *bus.Attachment
	RemoveKeyboard bool

	// EntityID names the record this reply is about (e.g. a new expense), so
	// follow-up callbacks can refer to it.
	EntityID string

	Confirm  *Confirmation
	Deferred []DeferredAction
}

// Handler executes one capability.
type Handler interface {
	Execute(ctx context.Context, req Request) (*Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req Request) (*Result, error)

func (f HandlerFunc) Execute(ctx context.Context, req Request) (*Result, error) { return f(ctx, req) }
