package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/nextlevelbuilder/famledger/migrations"
)

// NewMigrator opens a migrator for dsn. An empty dir uses the migrations
// embedded in the binary; otherwise SQL files are read from dir.
func NewMigrator(dsn, dir string) (*migrate.Migrate, error) {
	var (
		m   *migrate.Migrate
		err error
	)
	if dir != "" {
		m, err = migrate.New("file://"+dir, dsn)
	} else {
		src, serr := iofs.New(migrations.FS, ".")
		if serr != nil {
			return nil, fmt.Errorf("open embedded migrations: %w", serr)
		}
		m, err = migrate.NewWithSourceInstance("iofs", src, dsn)
	}
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

// Up applies pending SQL migrations, then pending data hooks.
func Up(ctx context.Context, db *sql.DB, dsn, dir string) error {
	m, err := NewMigrator(dsn, dir)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	v, dirty, _ := m.Version()
	slog.Info("migration complete", "version", v, "dirty", dirty)

	n, err := RunPendingHooks(ctx, db)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("data hooks applied", "count", n)
	}
	return nil
}
