package db

import (
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/phiacta/phiacta/errors"
)

//go:embed sqlite/migrations/*.sql
var migrationFS embed.FS

const migrationsDir = "sqlite/migrations"

// Migrate applies all pending schema migrations in filename order.
// Migration 000 bootstraps the schema_migrations bookkeeping table and
// every migration runs in its own transaction together with the row
// recording it, so a failed migration leaves no partial state.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	pending, err := listMigrations()
	if err != nil {
		return err
	}

	applied := 0
	for _, name := range pending {
		version := strings.SplitN(name, "_", 2)[0]

		done, err := alreadyApplied(db, version)
		if err != nil {
			if version != "000" {
				return errors.Wrapf(err, "schema_migrations unavailable before %s", name)
			}
			// Bookkeeping table does not exist yet; 000 creates it.
		} else if done {
			continue
		}

		if err := applyMigration(db, name, version); err != nil {
			return err
		}
		logger.Infow("Applied migration", "migration", name)
		applied++
	}

	logger.Debugw("Schema up to date", "applied", applied, "known", len(pending))
	return nil
}

func listMigrations() ([]string, error) {
	entries, err := migrationFS.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read embedded migrations")
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func alreadyApplied(db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRow(
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)`,
		version).Scan(&exists)
	return exists, err
}

func applyMigration(db *sql.DB, name, version string) error {
	ddl, err := migrationFS.ReadFile(path.Join(migrationsDir, name))
	if err != nil {
		return errors.Wrapf(err, "read %s", name)
	}

	tx, err := db.Begin()
	if err != nil {
		return errors.Wrapf(err, "begin %s", name)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(string(ddl)); err != nil {
		return errors.Wrapf(err, "execute %s", name)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		return errors.Wrapf(err, "record %s", name)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", name)
}
