package dispatch

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/store"
)

// DefaultSystemPrompt is used when the tenant's profile has none.
const DefaultSystemPrompt = "You are a friendly family finance assistant. " +
	"Answer briefly. You can record expenses, show spending stats and export data."

// ContextAssembler is the orchestration layer in front of every handler: it
// loads recent turns, the running summary and the profile's system prompt.
type ContextAssembler struct {
	history store.HistoryStore
	window  int
}

// NewContextAssembler loads up to window recent turns per request.
func NewContextAssembler(history store.HistoryStore, window int) *ContextAssembler {
	if window <= 0 {
		window = 10
	}
	return &ContextAssembler{history: history, window: window}
}

func (a *ContextAssembler) Assemble(ctx context.Context, req capability.Request) (capability.Request, error) {
	if req.SenderKey != "" {
		turns, err := a.history.Recent(ctx, req.SenderKey, a.window)
		if err != nil {
			return req, fmt.Errorf("load history: %w", err)
		}
		summary, err := a.history.Summary(ctx, req.SenderKey)
		if err != nil {
			return req, fmt.Errorf("load summary: %w", err)
		}
		req.History = turns
		req.Summary = summary
	}

	req.SystemPrompt = DefaultSystemPrompt
	if req.Session != nil {
		if p := req.Session.Profile().SystemPrompt; p != "" {
			req.SystemPrompt = p
		}
	}
	return req, nil
}
