package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Addr:         "0.0.0.0:18790",
			MaxBodyBytes: 1 << 20,
			RateLimitRPM: 20,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				RateLimitRPM:      20,
				MediaMaxBytes:     20 << 20,
				STTTimeoutSeconds: 30,
			},
		},
		Database: DatabaseConfig{Mode: "standalone"},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{
				APIBase: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
		},
		Dispatch: DispatchConfig{
			ClarifyThreshold: 0.4,
			ClarifyTTL:       Duration(10 * time.Minute),
			OnboardingTTL:    Duration(time.Hour),
			PendingActionTTL: Duration(15 * time.Minute),
			HistoryWindow:    10,
			SummarizeEvery:   20,
			Workers:          4,
			QueueSize:        256,
			JobTimeout:       Duration(30 * time.Second),
			DefaultCurrency:  "EUR",
			DefaultLocale:    "en",
			DefaultTimezone:  "UTC",
		},
		Guardrail: GuardrailConfig{
			Refusal: "Sorry, I can't help with that.",
		},
		Profiles: []ProfileConfig{
			{Name: "family", Label: "Family household", Categories: []string{"groceries", "dining", "transport", "housing", "kids", "health", "other"}},
			{Name: "couple", Label: "Couple", Categories: []string{"groceries", "dining", "transport", "housing", "travel", "other"}},
			{Name: "student", Label: "Student", Categories: []string{"food", "transport", "books", "rent", "fun", "other"}},
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "famledger",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields the defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath picks the config path: explicit flag, then $FAMLEDGER_CONFIG, then config.json.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("FAMLEDGER_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Dispatch.ClarifyThreshold < 0 || c.Dispatch.ClarifyThreshold > 1 {
		return fmt.Errorf("dispatch.clarify_threshold must be within [0,1], got %v", c.Dispatch.ClarifyThreshold)
	}
	switch c.Database.Mode {
	case "", "standalone", "managed":
	default:
		return fmt.Errorf("database.mode must be standalone or managed, got %q", c.Database.Mode)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
	}
	seen := make(map[string]bool, len(c.Profiles))
	for _, p := range c.Profiles {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return fmt.Errorf("profiles: profile without a name")
		}
		if seen[name] {
			return fmt.Errorf("profiles: duplicate profile %q", p.Name)
		}
		seen[name] = true
	}
	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				*dst = n
			}
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	// Secrets
	envStr("FAMLEDGER_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("FAMLEDGER_STT_API_KEY", &c.Channels.Telegram.STTAPIKey)
	envStr("FAMLEDGER_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("FAMLEDGER_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("FAMLEDGER_GATEWAY_TOKEN", &c.Gateway.Token)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Gateway.Token != "" {
		c.Channels.Webhook.Enabled = true
	}

	envStr("FAMLEDGER_ADDR", &c.Gateway.Addr)
	envStr("FAMLEDGER_MODE", &c.Database.Mode)
	envStr("FAMLEDGER_OPENAI_API_BASE", &c.Providers.OpenAI.APIBase)
	envStr("FAMLEDGER_MODEL", &c.Providers.OpenAI.Model)
	envStr("FAMLEDGER_STT_PROXY_URL", &c.Channels.Telegram.STTProxyURL)

	if v := os.Getenv("FAMLEDGER_TELEGRAM_ALLOW_FROM"); v != "" {
		c.Channels.Telegram.AllowFrom = strings.Split(v, ",")
	}

	envInt("FAMLEDGER_WORKERS", &c.Dispatch.Workers)
	envInt("FAMLEDGER_QUEUE_SIZE", &c.Dispatch.QueueSize)
	if v := os.Getenv("FAMLEDGER_CLARIFY_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Dispatch.ClarifyThreshold = f
		}
	}

	// Telemetry
	envStr("FAMLEDGER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("FAMLEDGER_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("FAMLEDGER_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("FAMLEDGER_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// MaskedCopy returns a copy safe to print: secrets are replaced with "***".
func (c *Config) MaskedCopy() *Config {
	cp := *c
	cp.Profiles = append([]ProfileConfig(nil), c.Profiles...)
	maskNonEmpty(&cp.Channels.Telegram.Token)
	maskNonEmpty(&cp.Channels.Telegram.STTAPIKey)
	maskNonEmpty(&cp.Database.PostgresDSN)
	maskNonEmpty(&cp.Providers.OpenAI.APIKey)
	maskNonEmpty(&cp.Gateway.Token)
	return &cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = "***"
	}
}
