// Package dispatch turns one inbound message into exactly one reply.
//
// Stage order for a message:
//
//	voice transcription
//	tenant resolution (unresolved senders go to onboarding)
//	tenant binding, released when the dispatch returns
//	conversation state load
//	callbacks
//	slash commands
//	named sub-states (correcting, awaiting_confirm)
//	guardrail
//	non-text type mapping
//	classification, then clarify gate or router with fallback
//	response assembly, deferred scheduling, state save
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/clarify"
	"github.com/nextlevelbuilder/famledger/internal/commands"
	"github.com/nextlevelbuilder/famledger/internal/convstate"
	"github.com/nextlevelbuilder/famledger/internal/deferred"
	"github.com/nextlevelbuilder/famledger/internal/guardrail"
	"github.com/nextlevelbuilder/famledger/internal/intent"
	"github.com/nextlevelbuilder/famledger/internal/media"
	"github.com/nextlevelbuilder/famledger/internal/sessions"
	"github.com/nextlevelbuilder/famledger/internal/store"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// Metadata keys read from inbound messages.
const MetaDisplayName = "display_name"

// Summarizer condenses conversation history.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, turns []store.Turn) (string, error)
}

// Config tunes the pipeline.
type Config struct {
	HistoryWindow    int           // turns loaded for handlers and summaries
	SummarizeEvery   int           // messages between summary refreshes; 0 disables
	PendingActionTTL time.Duration // lifetime of confirm_action buttons
	MaxButtonWidth   int           // display cells per button label
	DefaultCurrency  string
	DefaultLocale    string
	DefaultTimezone  string
}

func (c *Config) applyDefaults() {
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 10
	}
	if c.PendingActionTTL <= 0 {
		c.PendingActionTTL = 15 * time.Minute
	}
	if c.MaxButtonWidth <= 0 {
		c.MaxButtonWidth = 32
	}
	if c.DefaultCurrency == "" {
		c.DefaultCurrency = "EUR"
	}
	if c.DefaultLocale == "" {
		c.DefaultLocale = "en"
	}
}

// Deps are the collaborators a Dispatcher is built from.
type Deps struct {
	Resolver    tenant.Resolver
	Stores      *store.Stores
	State       convstate.Store // typically convstate.Tiered
	Commands    *commands.Set
	Guardrail   guardrail.Checker
	Classifier  intent.Resolver
	Gate        *clarify.Gate
	Router      *capability.Router
	Fallback    *capability.Fallback
	Deferred    deferred.Scheduler
	Transcriber media.Transcriber // nil disables voice
	Summarizer  Summarizer        // nil disables summaries
	Profiles    []tenant.Profile  // onboarding activity choices, in display order
}

// Dispatcher is the per-process application context. It holds no per-message
// state and is safe for concurrent use.
type Dispatcher struct {
	Deps
	cfg    Config
	tracer trace.Tracer
}

// New creates a Dispatcher.
func New(deps Deps, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	if deps.Commands == nil {
		deps.Commands = commands.Default()
	}
	if deps.Guardrail == nil {
		deps.Guardrail = guardrail.AllowAll{}
	}
	if deps.Deferred == nil {
		deps.Deferred = deferred.Inline{}
	}
	return &Dispatcher{Deps: deps, cfg: cfg, tracer: otel.Tracer("famledger/dispatch")}
}

// Dispatch always returns exactly one reply addressed to msg's chat.
func (d *Dispatcher) Dispatch(ctx context.Context, msg bus.InboundMessage) (out bus.OutboundMessage) {
	ctx, span := d.tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("channel", msg.Channel),
		attribute.String("message.type", string(msg.Type)),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("dispatch panicked", "channel", msg.Channel, "sender_id", msg.SenderID, "panic", p, "stack", string(debug.Stack()))
			span.SetStatus(codes.Error, "panic")
			out = bus.OutboundMessage{Text: capability.Apology}
		}
		out.Channel = msg.Channel
		out.ChatID = msg.ChatID
		out.ReplyTo = msg.ID
		if out.Text == "" && out.Attachment == nil {
			out.Text = capability.Apology
		}
	}()

	return d.dispatch(ctx, msg)
}

func (d *Dispatcher) dispatch(ctx context.Context, msg bus.InboundMessage) bus.OutboundMessage {
	if msg.Type == bus.TypeVoice {
		text, err := d.transcribe(ctx, msg)
		if err != nil {
			slog.Warn("voice transcription failed", "channel", msg.Channel, "sender_id", msg.SenderID, "error", err)
			return bus.OutboundMessage{Text: replyCouldNotHear}
		}
		msg = msg.WithTranscript(text)
	}

	rctx, rspan := d.tracer.Start(ctx, "resolve_tenant")
	sc, err := d.Resolver.Resolve(rctx, msg.Channel, msg.SenderID)
	rspan.End()
	if errors.Is(err, tenant.ErrUnresolved) {
		return d.onboard(ctx, msg)
	}
	if err != nil {
		slog.Error("tenant resolution failed", "channel", msg.Channel, "sender_id", msg.SenderID, "error", err)
		return bus.OutboundMessage{Text: capability.Apology}
	}

	ctx, scope := tenant.Bind(ctx, sc.TenantID())
	defer scope.Release()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("tenant_id", sc.TenantID()))

	key := sessions.BuildConversationKey(msg.Channel, msg.SenderID)
	st, err := convstate.Load(ctx, d.State, key, convstate.Normal)
	if err != nil {
		slog.Warn("load conversation state failed", "tenant_id", sc.TenantID(), "error", err)
		st = convstate.New(key, convstate.Normal)
	}
	if st.State.Onboarding() {
		st = convstate.New(key, convstate.Normal)
	}
	st.MessageCount++

	t := &turn{msg: msg, sc: sc, st: st, key: key}
	out := d.handle(ctx, t)

	if err := d.State.Put(ctx, t.st); err != nil {
		slog.Warn("save conversation state failed", "tenant_id", sc.TenantID(), "state", t.st.State, "error", err)
	}
	return out
}

func inSubState(st *convstate.ConversationState) bool {
	return st.State == convstate.Correcting || st.State == convstate.AwaitingConfirm
}

// turn is the per-dispatch working set for a resolved sender.
type turn struct {
	msg bus.InboundMessage
	sc  *tenant.SessionContext
	st  *convstate.ConversationState
	key string
}

func (t *turn) request(name intent.Name, data map[string]any) capability.Request {
	return capability.Request{
		Intent:    name,
		Message:   t.msg,
		Session:   t.sc,
		SenderKey: t.key,
		Data:      data,
	}
}

func (d *Dispatcher) handle(ctx context.Context, t *turn) bus.OutboundMessage {
	if t.msg.Type == bus.TypeCallback {
		return d.handleCallback(ctx, t)
	}

	if cmd, ok := d.Commands.Match(t.msg.Text); ok {
		// A command does not leave correcting or awaiting_confirm.
		if inSubState(t.st) {
			return d.rePrompt(t)
		}
		return d.handleCommand(ctx, t, cmd)
	}

	switch t.st.State {
	case convstate.Correcting:
		return d.handleCorrecting(ctx, t)
	case convstate.AwaitingConfirm:
		return d.handleAwaitingConfirm(ctx, t)
	}

	switch t.msg.Type {
	case bus.TypePhoto, bus.TypeDocument:
		return d.execute(ctx, t, t.request(intent.ScanReceipt, nil))
	case bus.TypeLocation:
		data := map[string]any{}
		if loc := t.msg.Location; loc != nil {
			data["latitude"], data["longitude"] = loc.Latitude, loc.Longitude
		}
		return d.execute(ctx, t, t.request(intent.Chat, data))
	case bus.TypeText:
	default:
		return bus.OutboundMessage{Text: replyUnsupported}
	}

	text := strings.TrimSpace(t.msg.Text)
	if text == "" {
		return bus.OutboundMessage{Text: commands.HelpText()}
	}

	verdict, err := d.Guardrail.Check(ctx, text)
	if err != nil {
		slog.Warn("guardrail check failed, allowing", "tenant_id", t.sc.TenantID(), "error", err)
	} else if !verdict.Safe {
		return bus.OutboundMessage{Text: verdict.Refusal}
	}

	return d.classifyAndRoute(ctx, t, text)
}

func (d *Dispatcher) classifyAndRoute(ctx context.Context, t *turn, text string) bus.OutboundMessage {
	cctx, span := d.tracer.Start(ctx, "classify")
	res, err := d.Classifier.Resolve(cctx, text, t.sc)
	if err != nil {
		span.RecordError(err)
		span.End()
		slog.Warn("classification failed, routing to chat", "tenant_id", t.sc.TenantID(), "error", err)
		return d.execute(ctx, t, t.request(intent.Chat, nil))
	}
	span.SetAttributes(attribute.String("intent", string(res.Intent)), attribute.Float64("confidence", res.Confidence))
	span.End()

	if d.Gate.Needed(res) {
		prompt, err := d.Gate.Open(ctx, t.key, text, res)
		if err == nil {
			return bus.OutboundMessage{Text: prompt.Text, Buttons: d.column(prompt.Buttons)}
		}
		slog.Warn("clarify open failed, routing top guess", "tenant_id", t.sc.TenantID(), "error", err)
		if res.Intent == "" {
			res.Intent = intent.Chat
		}
	}
	return d.execute(ctx, t, t.request(res.Intent, res.Data))
}

// execute routes req, recovers through the fallback on failure and assembles the reply.
func (d *Dispatcher) execute(ctx context.Context, t *turn, req capability.Request) bus.OutboundMessage {
	rctx, span := d.tracer.Start(ctx, "route", trace.WithAttributes(attribute.String("intent", string(req.Intent))))
	res, err := d.Router.Route(rctx, req.Intent, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "route failed")
		span.End()

		fctx, fspan := d.tracer.Start(ctx, "fallback")
		res = d.Fallback.Recover(fctx, req.Intent, req, err)
		fspan.End()
	} else {
		span.End()
	}
	return d.assemble(ctx, t, req, res)
}

func (d *Dispatcher) transcribe(ctx context.Context, msg bus.InboundMessage) (string, error) {
	if d.Transcriber == nil {
		return "", fmt.Errorf("no transcriber configured")
	}
	ctx, span := d.tracer.Start(ctx, "transcribe")
	defer span.End()
	return d.Transcriber.Transcribe(ctx, msg.Payload, msg.PayloadName)
}
