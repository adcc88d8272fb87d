// Package upgrade checks and migrates the Postgres schema.
package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const undefinedTable = "42P01"

// RequiredSchemaVersion is the migration version this binary expects.
const RequiredSchemaVersion uint = 1

// SchemaStatus is the result of a schema compatibility check.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

var (
	ErrSchemaOutdated = errors.New("database schema is outdated")
	ErrSchemaDirty    = errors.New("database schema is dirty (failed migration)")
	ErrSchemaAhead    = errors.New("database schema is newer than this binary")
)

// CheckSchema reads schema_migrations and compares it with RequiredSchemaVersion.
// A missing or empty table reads as a fresh database that needs migration.
func CheckSchema(ctx context.Context, db *sql.DB) (*SchemaStatus, error) {
	s := &SchemaStatus{RequiredVersion: RequiredSchemaVersion}

	var version int64
	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &s.Dirty)
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, sql.ErrNoRows), errors.As(err, &pgErr) && pgErr.Code == undefinedTable:
		s.NeedsMigration = true
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	s.CurrentVersion = uint(version)
	if s.Dirty {
		return s, nil
	}

	switch {
	case s.CurrentVersion == RequiredSchemaVersion:
		s.Compatible = true
	case s.CurrentVersion < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Err maps s to one of the schema sentinels, or nil when compatible.
func (s *SchemaStatus) Err() error {
	switch {
	case s.Dirty:
		return ErrSchemaDirty
	case s.Compatible:
		return nil
	case s.CurrentVersion > s.RequiredVersion:
		return ErrSchemaAhead
	}
	return ErrSchemaOutdated
}

// FormatError explains how to fix an incompatible schema.
func FormatError(s *SchemaStatus) string {
	if s.Dirty {
		return fmt.Sprintf(
			"Database schema is in a dirty state (version %d): a migration failed partway.\n\n"+
				"  Fix:  famledger migrate force %d\n"+
				"  Then: famledger migrate up\n",
			s.CurrentVersion, int(s.CurrentVersion)-1,
		)
	}
	if s.CurrentVersion > s.RequiredVersion {
		return fmt.Sprintf(
			"Database schema (v%d) is newer than this binary (requires v%d).\n"+
				"  Fix: upgrade the famledger binary.\n",
			s.CurrentVersion, s.RequiredVersion,
		)
	}
	return fmt.Sprintf(
		"Database schema is outdated: current v%d, required v%d.\n\n"+
			"  Run: famledger migrate up\n"+
			"  Or set FAMLEDGER_AUTO_MIGRATE=true to migrate on startup.\n",
		s.CurrentVersion, s.RequiredVersion,
	)
}
