package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/callback"
	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/commands"
	"github.com/nextlevelbuilder/famledger/internal/convstate"
	"github.com/nextlevelbuilder/famledger/internal/deferred"
	"github.com/nextlevelbuilder/famledger/internal/sessions"
	"github.com/nextlevelbuilder/famledger/internal/store"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// defaultCategories seed a family created from a profile without its own list.
var defaultCategories = []string{"groceries", "dining", "transport", "housing", "health", "kids", "other"}

// onboard runs the registration branch for a sender with no tenant. The state
// lives in the ephemeral tier because nothing is bound yet.
func (d *Dispatcher) onboard(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	key := sessions.BuildConversationKey(msg.Channel, msg.SenderID)
	st, err := convstate.Load(ctx, d.State, key, convstate.Unregistered)
	if err != nil {
		slog.Warn("load onboarding state failed", "channel", msg.Channel, "sender_id", msg.SenderID, "error", err)
		st = convstate.New(key, convstate.Unregistered)
	}
	if !st.State.Onboarding() {
		// Left over from a membership that no longer exists.
		st = convstate.New(key, convstate.Unregistered)
	}
	st.MessageCount++

	out, done := d.onboardStep(ctx, msg, st)
	if done {
		if err := d.State.Delete(ctx, key); err != nil {
			slog.Warn("clear onboarding state failed", "channel", msg.Channel, "sender_id", msg.SenderID, "error", err)
		}
		return out
	}
	if err := d.State.Put(ctx, st); err != nil {
		slog.Warn("save onboarding state failed", "channel", msg.Channel, "sender_id", msg.SenderID, "state", st.State, "error", err)
	}
	return out
}

// onboardStep advances st by one message. done reports a completed registration.
func (d *Dispatcher) onboardStep(ctx context.Context, msg bus.InboundMessage, st *convstate.ConversationState) (out bus.OutboundMessage, done bool) {
	if msg.Type == bus.TypeCallback {
		return d.onboardCallback(ctx, msg, st)
	}

	text := strings.TrimSpace(msg.Text)
	if cmd, ok := d.Commands.Match(text); ok {
		switch cmd.Name {
		case commands.Invite:
			if cmd.Args == "" {
				_ = st.Transition(convstate.OnboardingAwaitingInvite)
				return bus.OutboundMessage{Text: replyAskInvite}, false
			}
			return d.joinFamily(ctx, msg, st, cmd.Args)
		case commands.Help:
			return bus.OutboundMessage{Text: commands.HelpText()}, false
		default:
			return d.welcome(st), false
		}
	}

	switch st.State {
	case convstate.OnboardingAwaitingInvite:
		if msg.Type != bus.TypeText || text == "" {
			return bus.OutboundMessage{Text: replyAskInvite}, false
		}
		return d.joinFamily(ctx, msg, st, text)

	case convstate.OnboardingAwaitingActivity:
		if p, ok := d.matchProfile(text); ok && msg.Type == bus.TypeText {
			return d.createFamily(ctx, msg, st, p)
		}
		return d.profileChoice(), false
	}
	return d.welcome(st), false
}

func (d *Dispatcher) onboardCallback(ctx context.Context, msg bus.InboundMessage, st *convstate.ConversationState) (bus.OutboundMessage, bool) {
	a, err := callback.Parse(msg.CallbackToken)
	if err != nil || a.Kind != callback.KindOnboard {
		// Stray buttons re-prompt the current step without advancing.
		switch st.State {
		case convstate.OnboardingAwaitingInvite:
			return bus.OutboundMessage{Text: replyAskInvite}, false
		case convstate.OnboardingAwaitingActivity:
			return d.profileChoice(), false
		}
		return bus.OutboundMessage{Text: replyFinishSetup, Buttons: welcomeButtons()}, false
	}

	switch a.Arg {
	case callback.OnboardNew:
		_ = st.Transition(convstate.OnboardingAwaitingActivity)
		return d.profileChoice(), false
	case callback.OnboardJoin:
		_ = st.Transition(convstate.OnboardingAwaitingInvite)
		return bus.OutboundMessage{Text: replyAskInvite}, false
	}

	p, ok := d.matchProfile(a.Arg)
	if !ok {
		return d.welcome(st), false
	}
	return d.createFamily(ctx, msg, st, p)
}

func (d *Dispatcher) welcome(st *convstate.ConversationState) bus.OutboundMessage {
	_ = st.Transition(convstate.OnboardingAwaitingChoice)
	return bus.OutboundMessage{Text: replyWelcome, Buttons: welcomeButtons()}
}

func welcomeButtons() [][]bus.Button {
	return [][]bus.Button{{
		{Label: "🏠 New family", Data: callback.Onboard(callback.OnboardNew)},
		{Label: "🔑 Join with code", Data: callback.Onboard(callback.OnboardJoin)},
	}}
}

func (d *Dispatcher) profileChoice() bus.OutboundMessage {
	buttons := make([]bus.Button, 0, len(d.Profiles))
	for _, p := range d.Profiles {
		label := p.Label
		if label == "" {
			label = p.Name
		}
		buttons = append(buttons, bus.Button{Label: label, Data: callback.Onboard(p.Name)})
	}
	if len(buttons) == 0 {
		buttons = append(buttons, bus.Button{Label: "Family", Data: callback.Onboard("family")})
	}
	return bus.OutboundMessage{Text: replyChooseProfile, Buttons: d.column(buttons)}
}

// matchProfile finds a profile by name or label, case-insensitively. With no
// profiles configured the single "family" profile is implied.
func (d *Dispatcher) matchProfile(s string) (tenant.Profile, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return tenant.Profile{}, false
	}
	if len(d.Profiles) == 0 {
		if strings.EqualFold(s, "family") {
			return tenant.Profile{Name: "family"}, true
		}
		return tenant.Profile{}, false
	}
	for _, p := range d.Profiles {
		if strings.EqualFold(p.Name, s) || (p.Label != "" && strings.EqualFold(p.Label, s)) {
			return p, true
		}
	}
	return tenant.Profile{}, false
}

func (d *Dispatcher) createFamily(ctx context.Context, msg bus.InboundMessage, st *convstate.ConversationState, p tenant.Profile) (bus.OutboundMessage, bool) {
	if st.State != convstate.OnboardingAwaitingActivity {
		if err := st.Transition(convstate.OnboardingAwaitingActivity); err != nil {
			return d.welcome(st), false
		}
	}

	categories := p.Categories
	if len(categories) == 0 {
		categories = defaultCategories
	}
	name := msg.Metadata[MetaDisplayName]
	fam := &store.Tenant{
		Name:          familyName(name),
		Profile:       p.Name,
		Currency:      d.cfg.DefaultCurrency,
		Locale:        d.cfg.DefaultLocale,
		Timezone:      d.cfg.DefaultTimezone,
		Categories:    categories,
		MonthlyBudget: p.MonthlyBudget,
	}
	owner := &store.Member{Channel: msg.Channel, SenderID: msg.SenderID, DisplayName: name}
	if err := d.Stores.Tenants.CreateTenant(ctx, fam, owner); err != nil {
		slog.Error("create tenant failed", "channel", msg.Channel, "sender_id", msg.SenderID, "error", err)
		return bus.OutboundMessage{Text: capability.Apology}, false
	}
	if err := st.Transition(convstate.Normal); err != nil {
		return bus.OutboundMessage{Text: capability.Apology}, false
	}
	slog.Info("tenant created", "tenant_id", fam.ID, "profile", p.Name, "channel", msg.Channel)

	return bus.OutboundMessage{
		Text: "All set! Your family budget is ready.\n" +
			"Invite family members with this code: " + fam.InviteCode + "\n\n" + commands.HelpText(),
		RemoveKeyboard: true,
	}, true
}

func (d *Dispatcher) joinFamily(ctx context.Context, msg bus.InboundMessage, st *convstate.ConversationState, code string) (bus.OutboundMessage, bool) {
	if st.State != convstate.OnboardingAwaitingInvite {
		if err := st.Transition(convstate.OnboardingAwaitingInvite); err != nil {
			return d.welcome(st), false
		}
	}

	code = strings.TrimSpace(code)
	if len([]rune(code)) < store.MinInviteCodeLen {
		return bus.OutboundMessage{Text: replyInviteShort}, false
	}

	m := &store.Member{Channel: msg.Channel, SenderID: msg.SenderID, DisplayName: msg.Metadata[MetaDisplayName]}
	fam, err := d.Stores.Tenants.JoinByInvite(ctx, code, m)
	if errors.Is(err, store.ErrInvalidInvite) {
		return bus.OutboundMessage{Text: replyInviteUnknown}, false
	}
	if err != nil {
		slog.Error("join by invite failed", "channel", msg.Channel, "sender_id", msg.SenderID, "error", err)
		return bus.OutboundMessage{Text: capability.Apology}, false
	}
	if err := st.Transition(convstate.Normal); err != nil {
		return bus.OutboundMessage{Text: capability.Apology}, false
	}
	slog.Info("member joined", "tenant_id", fam.ID, "channel", msg.Channel)

	return bus.OutboundMessage{
		Text:           "Welcome to " + fam.Name + "! 🎉\n\n" + commands.HelpText(),
		RemoveKeyboard: true,
	}, true
}

func familyName(display string) string {
	if display = strings.TrimSpace(display); display == "" {
		return "My family"
	}
	return display + "'s family"
}

func deferredJob(name, tenantID string, run func(ctx context.Context) error) deferred.Job {
	return deferred.Job{Name: name, TenantID: tenantID, Run: run}
}
