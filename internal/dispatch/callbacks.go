package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/callback"
	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/clarify"
	"github.com/nextlevelbuilder/famledger/internal/commands"
	"github.com/nextlevelbuilder/famledger/internal/convstate"
	"github.com/nextlevelbuilder/famledger/internal/intent"
	"github.com/nextlevelbuilder/famledger/internal/store"
)

// handleCallback is the single callback entrypoint for resolved senders.
// Unresolved senders go through onboardCallback.
func (d *Dispatcher) handleCallback(ctx context.Context, t *turn) bus.OutboundMessage {
	a, err := callback.Parse(t.msg.CallbackToken)
	if err != nil {
		slog.Debug("unknown callback", "tenant_id", t.sc.TenantID(), "token", t.msg.CallbackToken)
		return bus.OutboundMessage{Text: replyProcessed}
	}

	switch a.Kind {
	case callback.KindOnboard:
		return bus.OutboundMessage{Text: replyAlreadyMember}

	case callback.KindConfirm:
		if t.st.State != convstate.AwaitingConfirm || t.st.Pending == nil {
			return bus.OutboundMessage{Text: replyNothingToConfirm}
		}
		return d.confirmPending(ctx, t)

	case callback.KindCancel:
		return d.cancelEntity(ctx, t, a.Arg)

	case callback.KindCorrect:
		return d.startCorrection(ctx, t, a.Arg)

	case callback.KindStats:
		if inSubState(t.st) {
			return d.rePrompt(t)
		}
		return d.execute(ctx, t, t.request(intent.Stats, map[string]any{"view": a.Arg}))

	case callback.KindClarify:
		// The pending clarification stays redeemable once the sub-state ends.
		if inSubState(t.st) {
			return d.rePrompt(t)
		}
		return d.redeemClarify(ctx, t, intent.Name(a.Arg), a.Token)

	case callback.KindConfirmAction:
		pa, err := d.Stores.Pending.Take(ctx, a.Arg)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				slog.Warn("take pending action failed", "tenant_id", t.sc.TenantID(), "error", err)
			}
			d.leaveConfirm(t, a.Arg)
			return bus.OutboundMessage{Text: replyActionExpired}
		}
		d.leaveConfirm(t, a.Arg)
		req := t.request(intent.Name(pa.Intent), pa.Data)
		req.Confirmed = true
		return d.execute(ctx, t, req)

	case callback.KindCancelAction:
		if _, err := d.Stores.Pending.Take(ctx, a.Arg); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("take pending action failed", "tenant_id", t.sc.TenantID(), "error", err)
		}
		d.leaveConfirm(t, a.Arg)
		return bus.OutboundMessage{Text: replyCancelled, RemoveKeyboard: true}
	}
	return bus.OutboundMessage{Text: replyProcessed}
}

// leaveConfirm returns to normal when the sender is waiting on pendingID.
func (d *Dispatcher) leaveConfirm(t *turn, pendingID string) {
	if t.st.State == convstate.AwaitingConfirm && (pendingID == "" || t.st.LastEntityID == pendingID) {
		_ = t.st.Transition(convstate.Normal)
	}
}

// confirmPending runs the action stored in the conversation state.
func (d *Dispatcher) confirmPending(ctx context.Context, t *turn) bus.OutboundMessage {
	p := t.st.Pending
	pendingID := t.st.LastEntityID
	if pendingID != "" {
		if _, err := d.Stores.Pending.Take(ctx, pendingID); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("take pending action failed", "tenant_id", t.sc.TenantID(), "error", err)
		}
	}
	_ = t.st.Transition(convstate.Normal)

	req := t.request(intent.Name(p.Intent), p.Data)
	req.Confirmed = true
	return d.execute(ctx, t, req)
}

func (d *Dispatcher) cancelPending(ctx context.Context, t *turn) bus.OutboundMessage {
	if id := t.st.LastEntityID; id != "" {
		if _, err := d.Stores.Pending.Take(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Warn("take pending action failed", "tenant_id", t.sc.TenantID(), "error", err)
		}
	}
	_ = t.st.Transition(convstate.Normal)
	return bus.OutboundMessage{Text: replyCancelled, RemoveKeyboard: true}
}

// cancelEntity deletes a recorded entry. Missing entries still get the acknowledgment.
func (d *Dispatcher) cancelEntity(ctx context.Context, t *turn, id string) bus.OutboundMessage {
	err := d.Stores.Expenses.Delete(ctx, id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("cancel entry failed", "tenant_id", t.sc.TenantID(), "entity_id", id, "error", err)
		return bus.OutboundMessage{Text: capability.Apology}
	}
	if t.st.LastEntityID == id && t.st.State == convstate.Correcting {
		_ = t.st.Transition(convstate.Normal)
	}
	return bus.OutboundMessage{Text: replyCancelled}
}

func (d *Dispatcher) redeemClarify(ctx context.Context, t *turn, chosen intent.Name, token string) bus.OutboundMessage {
	p, err := d.Gate.Redeem(ctx, t.key, token, chosen)
	if err != nil {
		if !errors.Is(err, clarify.ErrExpired) {
			slog.Warn("clarify redeem failed", "tenant_id", t.sc.TenantID(), "error", err)
		}
		return bus.OutboundMessage{Text: clarify.RetypeText}
	}

	// Re-dispatch with the original text and partial data, skipping classification.
	t.msg.Text = p.OriginalText
	return d.execute(ctx, t, t.request(chosen, p.Data))
}

func (d *Dispatcher) handleCommand(ctx context.Context, t *turn, cmd commands.Command) bus.OutboundMessage {
	switch cmd.Name {
	case commands.Export:
		return d.execute(ctx, t, t.request(intent.Export, nil))
	case commands.DeleteAll:
		return d.execute(ctx, t, t.request(intent.DeleteAll, nil))
	case commands.Invite:
		fam, err := d.Stores.Tenants.Current(ctx)
		if err != nil {
			slog.Warn("load tenant failed", "tenant_id", t.sc.TenantID(), "error", err)
			return bus.OutboundMessage{Text: replyAlreadyMember}
		}
		return bus.OutboundMessage{Text: replyAlreadyMember + "\nShare this invite code with family members: " + fam.InviteCode}
	case commands.Start:
		return bus.OutboundMessage{Text: "Welcome back!\n\n" + commands.HelpText()}
	default:
		return bus.OutboundMessage{Text: commands.HelpText()}
	}
}

func (d *Dispatcher) startCorrection(ctx context.Context, t *turn, id string) bus.OutboundMessage {
	if _, err := d.Stores.Expenses.Get(ctx, id); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			slog.Warn("load entry failed", "tenant_id", t.sc.TenantID(), "entity_id", id, "error", err)
		}
		return bus.OutboundMessage{Text: replyEntryGone}
	}
	if t.st.State != convstate.Normal && t.st.State != convstate.Correcting {
		return d.rePrompt(t)
	}
	if err := t.st.Transition(convstate.Correcting); err != nil {
		return d.rePrompt(t)
	}
	t.st.LastEntityID = id
	return bus.OutboundMessage{Text: d.categoryPrompt(t)}
}

func (d *Dispatcher) categoryPrompt(t *turn) string {
	return "Which category should it be? Reply with one of: " + strings.Join(t.sc.Categories(), ", ") +
		"\n(or \"cancel\" to keep it as is)"
}

// handleCorrecting expects a category name for the entry being corrected.
func (d *Dispatcher) handleCorrecting(ctx context.Context, t *turn) bus.OutboundMessage {
	text := strings.TrimSpace(t.msg.Text)
	if t.msg.Type != bus.TypeText || text == "" {
		return bus.OutboundMessage{Text: d.categoryPrompt(t)}
	}
	if isCancelWord(text) {
		_ = t.st.Transition(convstate.Normal)
		return bus.OutboundMessage{Text: replyCancelled}
	}

	category := ""
	for _, c := range t.sc.Categories() {
		if strings.EqualFold(c, text) {
			category = c
			break
		}
	}
	if category == "" {
		return bus.OutboundMessage{Text: d.categoryPrompt(t)}
	}

	id := t.st.LastEntityID
	exp, err := d.Stores.Expenses.Get(ctx, id)
	if err == nil {
		err = d.Stores.Expenses.UpdateCategory(ctx, id, category)
	}
	_ = t.st.Transition(convstate.Normal)
	if errors.Is(err, store.ErrNotFound) {
		return bus.OutboundMessage{Text: replyEntryGone}
	}
	if err != nil {
		slog.Warn("apply correction failed", "tenant_id", t.sc.TenantID(), "entity_id", id, "error", err)
		return bus.OutboundMessage{Text: capability.Apology}
	}

	// Learn the merchant so the next entry lands in the right category.
	if pattern := merchantPattern(exp.Description); pattern != "" {
		merchants := d.Stores.Merchants
		d.submit(deferredJob("learn_merchant", t.sc.TenantID(), func(ctx context.Context) error {
			return merchants.Upsert(ctx, pattern, category)
		}))
	}
	return bus.OutboundMessage{Text: "Updated ✓ " + exp.Description + " is now in " + category + "."}
}

// handleAwaitingConfirm accepts yes/no text; anything else repeats the question.
func (d *Dispatcher) handleAwaitingConfirm(ctx context.Context, t *turn) bus.OutboundMessage {
	text := strings.ToLower(strings.TrimSpace(t.msg.Text))
	switch {
	case t.st.Pending == nil:
		_ = t.st.Transition(convstate.Normal)
		return bus.OutboundMessage{Text: replyNothingToConfirm}
	case t.msg.Type == bus.TypeText && isConfirmWord(text):
		return d.confirmPending(ctx, t)
	case t.msg.Type == bus.TypeText && isCancelWord(text):
		return d.cancelPending(ctx, t)
	}
	return d.rePrompt(t)
}

// rePrompt repeats the question of the current sub-state without advancing it.
func (d *Dispatcher) rePrompt(t *turn) bus.OutboundMessage {
	switch t.st.State {
	case convstate.Correcting:
		return bus.OutboundMessage{Text: d.categoryPrompt(t)}
	case convstate.AwaitingConfirm:
		if t.st.Pending != nil {
			return bus.OutboundMessage{
				Text:    joinText(t.st.Pending.Prompt, "Please confirm or cancel."),
				Buttons: confirmButtons(t.st.LastEntityID),
			}
		}
	}
	return bus.OutboundMessage{Text: replyProcessed}
}

func isConfirmWord(s string) bool {
	switch strings.ToLower(s) {
	case "yes", "y", "ok", "confirm", "sure":
		return true
	}
	return false
}

func isCancelWord(s string) bool {
	switch strings.ToLower(s) {
	case "no", "n", "cancel", "stop":
		return true
	}
	return false
}

// merchantPattern takes the first word of a description as the merchant key.
func merchantPattern(desc string) string {
	fields := strings.Fields(strings.ToLower(desc))
	if len(fields) == 0 || len(fields[0]) < 3 {
		return ""
	}
	return fields[0]
}
