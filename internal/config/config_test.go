package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoad_MissingFileUsesDefaults verifies a missing config file is not an error.
func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Dispatch.ClarifyThreshold != 0.4 {
		t.Fatalf("expected clarify threshold 0.4, got: %v", cfg.Dispatch.ClarifyThreshold)
	}
	if cfg.Dispatch.ClarifyTTL.Std() != 10*time.Minute {
		t.Fatalf("expected clarify ttl 10m, got: %v", cfg.Dispatch.ClarifyTTL.Std())
	}
	if cfg.IsManagedMode() {
		t.Fatal("expected standalone mode by default")
	}
}

// TestLoad_JSON5AndEnvOverlay verifies comments, trailing commas, durations and env precedence.
func TestLoad_JSON5AndEnvOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		// comments are allowed
		gateway: { addr: "127.0.0.1:9000" },
		dispatch: { clarify_ttl: "2m", onboarding_ttl: 90, workers: 2, },
		database: { mode: "managed" },
		profiles: [{ name: "solo", categories: ["food"] }],
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FAMLEDGER_POSTGRES_DSN", "postgres://x")
	t.Setenv("FAMLEDGER_WORKERS", "8")
	t.Setenv("FAMLEDGER_TELEGRAM_TOKEN", "tok")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if cfg.Gateway.Addr != "127.0.0.1:9000" {
		t.Fatalf("expected addr from file, got: %q", cfg.Gateway.Addr)
	}
	if cfg.Dispatch.ClarifyTTL.Std() != 2*time.Minute {
		t.Fatalf("expected 2m, got: %v", cfg.Dispatch.ClarifyTTL.Std())
	}
	if cfg.Dispatch.OnboardingTTL.Std() != 90*time.Second {
		t.Fatalf("expected 90s, got: %v", cfg.Dispatch.OnboardingTTL.Std())
	}
	if cfg.Dispatch.Workers != 8 {
		t.Fatalf("expected env to win with 8 workers, got: %d", cfg.Dispatch.Workers)
	}
	if !cfg.IsManagedMode() {
		t.Fatal("expected managed mode with env DSN")
	}
	if !cfg.Channels.Telegram.Enabled {
		t.Fatal("expected telegram auto-enabled by token")
	}
	profiles := cfg.TenantProfiles()
	if len(profiles) != 1 || profiles[0].Label != "solo" {
		t.Fatalf("expected one profile labelled by name, got: %+v", profiles)
	}
}

// TestLoad_RejectsInvalid verifies validation errors surface from Load.
func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"threshold": `{ dispatch: { clarify_threshold: 1.5 } }`,
		"mode":      `{ database: { mode: "cluster" } }`,
		"dup":       `{ profiles: [{ name: "a" }, { name: "A" }] }`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// TestMaskedCopy verifies secrets are masked without touching the original.
func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Providers.OpenAI.APIKey = "sk-secret"
	m := cfg.MaskedCopy()
	if m.Providers.OpenAI.APIKey != "***" {
		t.Fatalf("expected masked key, got: %q", m.Providers.OpenAI.APIKey)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-secret" {
		t.Fatal("expected original untouched")
	}
}
