package upgrade

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// HookFunc transforms data after the SQL migration of its schema version.
type HookFunc func(ctx context.Context, db *sql.DB) error

// Hook is a named, run-once data migration.
type Hook struct {
	SchemaVersion uint
	Name          string
	Fn            HookFunc
}

// hooks run in order; each name is recorded in data_migrations once applied.
var hooks = []Hook{
	{SchemaVersion: 1, Name: "001_default_categories", Fn: backfillDefaultCategories},
}

// DefaultCategories seed tenants created without a category list.
var DefaultCategories = []string{"groceries", "dining", "transport", "housing", "health", "kids", "other"}

func backfillDefaultCategories(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx,
		`UPDATE tenants SET categories = $1 WHERE cardinality(categories) = 0`,
		pq.Array(DefaultCategories))
	return err
}

// PendingHooks returns the names of hooks not applied yet.
func PendingHooks(ctx context.Context, db *sql.DB) ([]string, error) {
	applied, err := appliedHooks(ctx, db)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, h := range hooks {
		if !applied[h.Name] {
			pending = append(pending, h.Name)
		}
	}
	return pending, nil
}

// RunPendingHooks runs every hook not applied yet and records it.
func RunPendingHooks(ctx context.Context, db *sql.DB) (int, error) {
	applied, err := appliedHooks(ctx, db)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, h := range hooks {
		if applied[h.Name] {
			continue
		}
		start := time.Now()
		if err := h.Fn(ctx, db); err != nil {
			return count, fmt.Errorf("data hook %q: %w", h.Name, err)
		}
		if _, err := db.ExecContext(ctx,
			`INSERT INTO data_migrations (name, version, applied_at) VALUES ($1, $2, NOW())`,
			h.Name, h.SchemaVersion); err != nil {
			return count, fmt.Errorf("record hook %q: %w", h.Name, err)
		}
		slog.Info("data hook applied", "name", h.Name, "schema_version", h.SchemaVersion, "duration", time.Since(start))
		count++
	}
	return count, nil
}

func appliedHooks(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS data_migrations (
			name       TEXT PRIMARY KEY,
			version    INT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("ensure data_migrations: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT name FROM data_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query data_migrations: %w", err)
	}
	defer rows.Close()
	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
