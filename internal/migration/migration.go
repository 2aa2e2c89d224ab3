package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

const (
	migrationsDir   = "migrations"
	migrationsTable = "escrow_schema_migrations"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Status is the schema version after an Up run.
type Status struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Up applies the embedded ledger schema to a PostgreSQL database. The
// migrator is not closed because that would close the shared *sql.DB.
func Up(db *sql.DB) (Status, error) {
	if db == nil {
		return Status{}, errors.New("migration database handle is required")
	}

	migrator, err := newMigrator(db)
	if err != nil {
		return Status{}, err
	}

	var status Status
	switch err := migrator.Up(); {
	case err == nil:
		status.Changed = true
	case errors.Is(err, migrate.ErrNoChange):
	default:
		return Status{}, fmt.Errorf("apply migrations: %w", err)
	}

	status.Version, status.Dirty, err = migrator.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return Status{}, fmt.Errorf("read schema version: %w", err)
	}
	return status, nil
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}

// Versions lists the embedded migration names without direction suffix, in
// apply order. Each name must ship both an up and a down file.
func Versions() ([]string, error) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, err
	}

	up := map[string]bool{}
	down := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			up[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			down[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			return nil, fmt.Errorf("unexpected migration file %s", name)
		}
	}

	versions := make([]string, 0, len(up))
	for name := range up {
		if !down[name] {
			return nil, fmt.Errorf("migration %s has no down file", name)
		}
		versions = append(versions, name)
	}
	for name := range down {
		if !up[name] {
			return nil, fmt.Errorf("migration %s has no up file", name)
		}
	}
	sort.Strings(versions)
	return versions, nil
}
