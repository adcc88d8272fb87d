package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/bus"
	"github.com/nextlevelbuilder/famledger/internal/capability"
	"github.com/nextlevelbuilder/famledger/internal/clarify"
	"github.com/nextlevelbuilder/famledger/internal/commands"
	"github.com/nextlevelbuilder/famledger/internal/config"
	"github.com/nextlevelbuilder/famledger/internal/convstate"
	"github.com/nextlevelbuilder/famledger/internal/deferred"
	"github.com/nextlevelbuilder/famledger/internal/dispatch"
	"github.com/nextlevelbuilder/famledger/internal/guardrail"
	"github.com/nextlevelbuilder/famledger/internal/intent"
	"github.com/nextlevelbuilder/famledger/internal/media"
	"github.com/nextlevelbuilder/famledger/internal/providers"
	"github.com/nextlevelbuilder/famledger/internal/skills"
	"github.com/nextlevelbuilder/famledger/internal/store"
	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// buildDispatcher wires the pipeline from config. Optional parts (LLM,
// guardrail, voice, summaries) are left nil when not configured.
func buildDispatcher(cfg *config.Config, stores *store.Stores, msgBus *bus.MessageBus, sched deferred.Scheduler) (*dispatch.Dispatcher, error) {
	dc := cfg.Dispatch

	var (
		provider   providers.Provider
		recognizer skills.ReceiptRecognizer
		summarizer dispatch.Summarizer
		checker    guardrail.Checker
		stt        media.Transcriber
	)
	model := cfg.Providers.OpenAI.Model
	if cfg.Providers.OpenAI.Enabled() {
		p := providers.NewOpenAIProvider("openai", cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase, model)
		provider = p
		recognizer = skills.NewLLMRecognizer(p, model)
		summarizer = skills.NewSummarizer(p, model)
		slog.Info("llm provider enabled", "provider", p.Name(), "model", model)
	} else {
		slog.Warn("no LLM provider configured; using keyword intents and canned chat replies")
	}
	if len(cfg.Guardrail.BlockedPhrases) > 0 {
		checker = guardrail.NewPhraseFilter(cfg.Guardrail.BlockedPhrases, cfg.Guardrail.Refusal)
	}
	if tg := cfg.Channels.Telegram; tg.STTProxyURL != "" {
		stt = media.NewProxyTranscriber(tg.STTProxyURL, tg.STTAPIKey, "", time.Duration(tg.STTTimeoutSeconds)*time.Second)
	}

	b := skills.Register(capability.NewBuilder(), skills.Deps{
		Stores:     stores,
		Provider:   provider,
		Model:      model,
		Bus:        msgBus,
		Recognizer: recognizer,
		Now:        time.Now,
	})
	reg, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("build capability registry: %w", err)
	}

	var classifier intent.Resolver = intent.NewKeywordResolver(intent.DefaultRules())
	if provider != nil {
		classifier = intent.NewLLMResolver(provider, model, reg.Names(), classifier)
	}

	profiles := cfg.TenantProfiles()
	byName := make(map[string]tenant.Profile, len(profiles))
	for _, p := range profiles {
		byName[p.Name] = p
	}

	return dispatch.New(dispatch.Deps{
		Resolver:    store.NewSessionResolver(stores.Tenants, stores.Merchants, byName),
		Stores:      stores,
		State:       convstate.Tiered{Ephemeral: convstate.NewMemoryStore(dc.OnboardingTTL.Std()), Durable: stores.State},
		Commands:    commands.Default(),
		Guardrail:   checker,
		Classifier:  classifier,
		Gate:        clarify.NewGate(stores.Clarify, dc.ClarifyThreshold, dc.ClarifyTTL.Std()),
		Router:      capability.NewRouter(reg, dispatch.NewContextAssembler(stores.History, dc.HistoryWindow)),
		Fallback:    capability.NewFallback(reg),
		Deferred:    sched,
		Transcriber: stt,
		Summarizer:  summarizer,
		Profiles:    profiles,
	}, dispatch.Config{
		HistoryWindow:    dc.HistoryWindow,
		SummarizeEvery:   dc.SummarizeEvery,
		PendingActionTTL: dc.PendingActionTTL.Std(),
		DefaultCurrency:  dc.DefaultCurrency,
		DefaultLocale:    dc.DefaultLocale,
		DefaultTimezone:  dc.DefaultTimezone,
	}), nil
}
