package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/callback"
	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/convstate"
	"github.com/nextlevelbuilder/famledger/internal/deferred"
	"github.com/nextlevelbuilder/famledger/internal/store"
)

// assemble maps a handler result 1:1 onto the reply, records any confirmation
// request in the conversation state and schedules post-reply work.
func (d *Dispatcher) assemble(ctx context.Context, t *turn, req capability.Request, res *capability.Result) bus.OutboundMessage {
	out := bus.OutboundMessage{
		Text:           res.Text,
		Buttons:        d.truncate(res.Buttons),
		Attachment:     res.Attachment,
		RemoveKeyboard: res.RemoveKeyboard,
	}

	if res.EntityID != "" {
		t.st.LastEntityID = res.EntityID
	}

	if res.Confirm != nil {
		if confirm, err := d.askConfirmation(ctx, t, req, res.Confirm); err != nil {
			slog.Warn("confirmation setup failed", "tenant_id", t.sc.TenantID(), "intent", req.Intent, "error", err)
			out = bus.OutboundMessage{Text: capability.Apology}
		} else {
			out.Text = joinText(out.Text, res.Confirm.Prompt)
			out.Buttons = append(out.Buttons, confirm...)
		}
	}

	d.schedule(t, req, res)
	return out
}

// askConfirmation parks the action and moves the sender to awaiting_confirm.
func (d *Dispatcher) askConfirmation(ctx context.Context, t *turn, req capability.Request, c *capability.Confirmation) ([][]bus.Button, error) {
	if t.st.State == convstate.Correcting {
		// A stale confirm_action button pressed mid-correction ends the correction.
		_ = t.st.Transition(convstate.Normal)
	}
	if err := t.st.Transition(convstate.AwaitingConfirm); err != nil {
		return nil, err
	}
	pa := &store.PendingAction{
		SenderKey: t.key,
		Intent:    string(req.Intent),
		Data:      c.Data,
		ExpiresAt: time.Now().Add(d.cfg.PendingActionTTL),
	}
	if err := d.Stores.Pending.Create(ctx, pa); err != nil {
		// Roll back so the sender is not stuck in a state with no action behind it.
		_ = t.st.Transition(convstate.Normal)
		return nil, fmt.Errorf("create pending action: %w", err)
	}
	t.st.LastEntityID = pa.ID
	t.st.Pending = &convstate.PendingConfirmation{
		Intent: string(req.Intent),
		Data:   c.Data,
		Prompt: c.Prompt,
	}
	return confirmButtons(pa.ID), nil
}

func confirmButtons(pendingID string) [][]bus.Button {
	return [][]bus.Button{{
		{Label: "✅ Confirm", Data: callback.ConfirmAction(pendingID)},
		{Label: "✖ Cancel", Data: callback.CancelAction(pendingID)},
	}}
}

// schedule hands transcript persistence, the summary trigger and handler
// actions to the deferred queue. Nothing here blocks the reply.
func (d *Dispatcher) schedule(t *turn, req capability.Request, res *capability.Result) {
	tenantID := t.sc.TenantID()
	key := t.key

	userText := t.msg.Text
	if userText == "" {
		userText = "[" + string(t.msg.Type) + "]"
	}
	now := time.Now().UTC()
	turns := []store.Turn{
		{Role: "user", Text: userText, At: now},
		{Role: "assistant", Text: res.Text, At: now},
	}
	history := d.Stores.History

	d.submit(deferred.Job{
		Name:     "persist_transcript",
		TenantID: tenantID,
		Run: func(ctx context.Context) error {
			return history.Append(ctx, key, turns...)
		},
	})

	if d.Summarizer != nil && d.cfg.SummarizeEvery > 0 && t.st.MessageCount%d.cfg.SummarizeEvery == 0 {
		summarizer, window := d.Summarizer, d.cfg.HistoryWindow*2
		d.submit(deferred.Job{
			Name:     "summarize",
			TenantID: tenantID,
			Run: func(ctx context.Context) error {
				prev, err := history.Summary(ctx, key)
				if err != nil {
					return err
				}
				recent, err := history.Recent(ctx, key, window)
				if err != nil {
					return err
				}
				summary, err := summarizer.Summarize(ctx, prev, recent)
				if err != nil {
					return err
				}
				return history.SetSummary(ctx, key, summary)
			},
		})
	}

	for _, a := range res.Deferred {
		if a.Run == nil {
			continue
		}
		d.submit(deferred.Job{Name: a.Name, TenantID: tenantID, Run: a.Run})
	}
}

func (d *Dispatcher) submit(job deferred.Job) {
	if err := d.Deferred.Submit(job); err != nil {
		if !errors.Is(err, deferred.ErrQueueFull) {
			slog.Warn("deferred submit failed", "job", job.Name, "tenant_id", job.TenantID, "error", err)
		}
	}
}

// truncate shortens labels to the configured display width.
func (d *Dispatcher) truncate(rows [][]bus.Button) [][]bus.Button {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]bus.Button, len(rows))
	for i, row := range rows {
		out[i] = make([]bus.Button, len(row))
		for j, b := range row {
			b.Label = runewidth.Truncate(b.Label, d.cfg.MaxButtonWidth, "…")
			out[i][j] = b
		}
	}
	return out
}

// column lays buttons out one per row.
func (d *Dispatcher) column(buttons []bus.Button) [][]bus.Button {
	rows := make([][]bus.Button, len(buttons))
	for i, b := range buttons {
		rows[i] = []bus.Button{b}
	}
	return d.truncate(rows)
}

func joinText(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "\n\n" + b
}
