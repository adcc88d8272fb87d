package capability

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/famledger/internal/intent"
)

// Apology is the reply when every recovery attempt failed.
const Apology = "Sorry, something went wrong on my side. Please try again in a moment."

// Fallback recovers from a failed Route by calling handlers straight from the
// registry, skipping the assembler: first the original intent, then chat.
type Fallback struct {
	registry *Registry
}

func NewFallback(reg *Registry) *Fallback {
	return &Fallback{registry: reg}
}

// Recover never fails. It returns the first non-empty handler result, or Apology.
func (f *Fallback) Recover(ctx context.Context, name intent.Name, req Request, cause error) *Result {
	slog.Warn("dispatch failed, running fallback", "intent", name, "error", cause)

	tried := make(map[intent.Name]bool, 2)
	for _, n := range []intent.Name{name, intent.Chat} {
		if n == "" || tried[n] {
			continue
		}
		tried[n] = true

		h, ok := f.registry.Lookup(n)
		if !ok {
			continue
		}
		req.Intent = n
		res, err := safeExecute(ctx, h, req)
		if err != nil {
			slog.Warn("fallback handler failed", "intent", n, "error", err)
			continue
		}
		if res.Text == "" && res.Attachment == nil {
			continue
		}
		return res
	}
	return &Result{Text: Apology}
}
