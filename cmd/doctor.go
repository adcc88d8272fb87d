package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/famledger/internal/config"
	"github.com/nextlevelbuilder/famledger/internal/store/pg"
	"github.com/nextlevelbuilder/famledger/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database and integration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context())
		},
	}
}

func runDoctor(ctx context.Context) {
	fmt.Println("famledger doctor")
	fmt.Printf("  Version:  %s (schema v%d)\n", Version, upgrade.RequiredSchemaVersion)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.IsManagedMode() {
		fmt.Printf("    %-12s managed\n", "Mode:")
		checkDatabase(ctx, cfg.Database.PostgresDSN)
	} else {
		fmt.Printf("    %-12s standalone (in-memory)\n", "Mode:")
	}

	fmt.Println()
	fmt.Println("  Providers:")
	checkProvider("OpenAI", cfg.Providers.OpenAI.APIKey)
	if cfg.Providers.OpenAI.Enabled() {
		fmt.Printf("    %-12s %s\n", "Model:", cfg.Providers.OpenAI.Model)
	}

	fmt.Println()
	fmt.Println("  Channels:")
	tg := cfg.Channels.Telegram
	checkChannel("Telegram", tg.Enabled, tg.Token != "")
	checkChannel("Webhook", cfg.Channels.Webhook.Enabled, cfg.Gateway.Token != "")
	if tg.STTProxyURL != "" {
		fmt.Printf("    %-12s %s\n", "Voice STT:", tg.STTProxyURL)
	} else {
		fmt.Printf("    %-12s (not configured)\n", "Voice STT:")
	}

	fmt.Println()
	fmt.Println("  Telemetry:")
	if cfg.Telemetry.Endpoint != "" {
		fmt.Printf("    %-12s %s (%s)\n", "OTLP:", cfg.Telemetry.Endpoint, cfg.Telemetry.Protocol)
	} else {
		fmt.Printf("    %-12s disabled\n", "OTLP:")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkDatabase(ctx context.Context, dsn string) {
	db, err := pg.OpenDB(dsn)
	if err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	defer db.Close()

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", err)
		return
	}
	fmt.Printf("    %-12s connected\n", "Status:")

	s, err := upgrade.CheckSchema(pctx, db)
	switch {
	case err != nil:
		fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", err)
		return
	case s.Compatible:
		fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
	default:
		fmt.Printf("    %-12s v%d\n", "Schema:", s.CurrentVersion)
		for _, line := range strings.Split(strings.TrimSpace(upgrade.FormatError(s)), "\n") {
			fmt.Printf("      %s\n", line)
		}
		return
	}

	pending, err := upgrade.PendingHooks(pctx, db)
	if err == nil && len(pending) > 0 {
		fmt.Printf("    %-12s %d pending (%s)\n", "Data hooks:", len(pending), strings.Join(pending, ", "))
	} else if err == nil {
		fmt.Printf("    %-12s all applied\n", "Data hooks:")
	}
	checkTenantCount(pctx, db)
}

// checkTenantCount reads the unscoped tenants table, so no tenant context is needed.
func checkTenantCount(ctx context.Context, db *sql.DB) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tenants").Scan(&n); err != nil {
		fmt.Printf("    %-12s (could not query: %s)\n", "Families:", err)
		return
	}
	fmt.Printf("    %-12s %d\n", "Families:", n)
}

func checkProvider(name, apiKey string) {
	if apiKey == "" {
		fmt.Printf("    %-12s (not configured)\n", name+":")
		return
	}
	fmt.Printf("    %-12s %s\n", name+":", maskKey(apiKey))
}

func maskKey(k string) string {
	if len(k) <= 8 {
		return strings.Repeat("*", len(k))
	}
	return k[:4] + strings.Repeat("*", len(k)-8) + k[len(k)-4:]
}

func checkChannel(name string, enabled, hasCredentials bool) {
	status := "disabled"
	if enabled && hasCredentials {
		status = "enabled"
	} else if enabled {
		status = "enabled (missing credentials)"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}
