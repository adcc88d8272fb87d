// Package config loads famledger settings from a JSON5 file and FAMLEDGER_* env vars.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/famledger/internal/tenant"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Duration is a time.Duration written as "10m" or as a number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %w", err)
	}
	*d = Duration(secs * float64(time.Second))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration for famledger.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Channels  ChannelsConfig  `json:"channels"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Providers ProvidersConfig `json:"providers"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Guardrail GuardrailConfig `json:"guardrail,omitempty"`
	Profiles  []ProfileConfig `json:"profiles,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// GatewayConfig is the HTTP surface: webhook channel and health endpoint.
type GatewayConfig struct {
	Addr         string `json:"addr"`
	Token        string `json:"-"` // from env FAMLEDGER_GATEWAY_TOKEN only
	MaxBodyBytes int64  `json:"max_body_bytes,omitempty"`
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"` // per-sender webhook messages per minute, 0 disables
}

// DatabaseConfig selects the storage backend.
// PostgresDSN is never read from the config file, only from env FAMLEDGER_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
}

// IsManagedMode reports whether Postgres backs the stores.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai"`
}

// ProviderConfig is an OpenAI-compatible chat endpoint.
type ProviderConfig struct {
	APIKey  string `json:"-"` // from env FAMLEDGER_OPENAI_API_KEY only
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Enabled reports whether an API key is configured.
func (p ProviderConfig) Enabled() bool { return p.APIKey != "" }

// DispatchConfig tunes the message pipeline.
type DispatchConfig struct {
	ClarifyThreshold float64  `json:"clarify_threshold"`
	ClarifyTTL       Duration `json:"clarify_ttl"`
	OnboardingTTL    Duration `json:"onboarding_ttl"`
	PendingActionTTL Duration `json:"pending_action_ttl"`
	HistoryWindow    int      `json:"history_window"`
	SummarizeEvery   int      `json:"summarize_every"`
	Workers          int      `json:"workers"`
	QueueSize        int      `json:"queue_size"`
	JobTimeout       Duration `json:"job_timeout"`
	DefaultCurrency  string   `json:"default_currency"`
	DefaultLocale    string   `json:"default_locale"`
	DefaultTimezone  string   `json:"default_timezone"`
}

type GuardrailConfig struct {
	BlockedPhrases []string `json:"blocked_phrases,omitempty"`
	Refusal        string   `json:"refusal,omitempty"`
}

// ProfileConfig describes one onboarding activity profile.
type ProfileConfig struct {
	Name          string   `json:"name"`
	Label         string   `json:"label,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	MonthlyBudget float64  `json:"monthly_budget,omitempty"`
	SystemPrompt  string   `json:"system_prompt,omitempty"`
}

// TenantProfiles converts the configured profiles, preserving order.
func (c *Config) TenantProfiles() []tenant.Profile {
	out := make([]tenant.Profile, 0, len(c.Profiles))
	for _, p := range c.Profiles {
		label := p.Label
		if label == "" {
			label = p.Name
		}
		out = append(out, tenant.Profile{
			Name:          p.Name,
			Label:         label,
			Categories:    p.Categories,
			MonthlyBudget: p.MonthlyBudget,
			SystemPrompt:  p.SystemPrompt,
		})
	}
	return out
}

// TelemetryConfig configures OTLP trace export. An empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}
