package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MigrateDB runs pending migrations under a file lock. In-memory databases
// skip the lock.
func MigrateDB(db *sql.DB, dbPath string) error {
	if !isMemoryPath(dbPath) {
		lock, err := acquireMigrationLock(dbPath)
		if err != nil {
			return fmt.Errorf("migration lock: %w", err)
		}
		defer lock.release()
	}
	return RunMigrations(db)
}

// SchemaVersion returns the applied and the latest embedded migration
// versions. A fresh database reports current 0.
func SchemaVersion(db *sql.DB) (current int64, latest int64, err error) {
	if err := setupGoose(); err != nil {
		return 0, 0, err
	}

	current, err = goose.GetDBVersion(db)
	if err != nil {
		current = 0
	}

	latest, err = latestMigrationVersion()
	if err != nil {
		return current, 0, fmt.Errorf("determine latest version: %w", err)
	}
	return current, latest, nil
}

// latestMigrationVersion parses "00001_name.sql" prefixes in the embedded
// migrations directory.
func latestMigrationVersion() (int64, error) {
	entries, err := embedMigrations.ReadDir("migrations")
	if err != nil {
		return 0, fmt.Errorf("read migrations dir: %w", err)
	}
	var max int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		idx := strings.IndexByte(name, '_')
		if idx <= 0 {
			continue
		}
		v, err := strconv.ParseInt(name[:idx], 10, 64)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max, nil
}

// RunMigrations applies every pending embedded migration.
func RunMigrations(db *sql.DB) error {
	if err := setupGoose(); err != nil {
		return err
	}
	return goose.Up(db, "migrations")
}

func setupGoose() error {
	goose.SetBaseFS(embedMigrations)
	goose.SetVerbose(false)
	goose.SetLogger(goose.NopLogger())

	// goose names the dialect sqlite3; the registered driver is modernc's "sqlite".
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	return nil
}

// PeekSchemaVersion reports the schema version of the database at dbPath
// without migrating it. A missing database reports current 0.
func PeekSchemaVersion(dbPath string) (current int64, latest int64, err error) {
	if !isMemoryPath(dbPath) {
		if _, statErr := os.Stat(dbPath); errors.Is(statErr, os.ErrNotExist) {
			latest, err = latestMigrationVersion()
			return 0, latest, err
		}
	}
	db, err := sql.Open("sqlite", normalizeSQLiteDSN(dbPath))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	return SchemaVersion(db)
}
