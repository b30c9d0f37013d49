// Package migrations embeds SQL migration files and provides a function to apply them.
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// FS contains the embedded SQL migration files, one directory per dialect.
//
//go:embed sqlite/*.sql postgres/*.sql
var FS embed.FS

// Dir returns the migration directory for a goose dialect name.
func Dir(gooseDialect string) (string, error) {
	switch gooseDialect {
	case "sqlite3":
		return "sqlite", nil
	case "postgres":
		return "postgres", nil
	}
	return "", fmt.Errorf("no migrations for dialect %q", gooseDialect)
}

// Setup points goose at the embedded files for the given dialect and
// returns the directory to pass to goose commands.
func Setup(gooseDialect string) (string, error) {
	dir, err := Dir(gooseDialect)
	if err != nil {
		return "", err
	}

	goose.SetBaseFS(FS)
	if err := goose.SetDialect(gooseDialect); err != nil {
		return "", fmt.Errorf("set dialect: %w", err)
	}
	return dir, nil
}

// Run applies all pending migrations to the given database.
func Run(db *sql.DB, gooseDialect string) error {
	dir, err := Setup(gooseDialect)
	if err != nil {
		return err
	}

	if err := goose.Up(db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}
