package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/deltaknight858/Eco-sub001/internal/app"
	_ "modernc.org/sqlite"
)

// defaultBusyTimeoutMS is the SQLite busy_timeout in milliseconds.
const defaultBusyTimeoutMS = 5000

type dbEnv struct {
	BusyTimeoutMS int `env:"ECO_BUSY_TIMEOUT_MS"`
}

// busyTimeout returns ECO_BUSY_TIMEOUT_MS when it is a positive integer.
func busyTimeout() int {
	var e dbEnv
	if err := app.ParseEnv(&e); err != nil || e.BusyTimeoutMS <= 0 {
		return defaultBusyTimeoutMS
	}
	return e.BusyTimeoutMS
}

// InitDB opens the configured event store and migrates it.
func InitDB() (*sql.DB, error) {
	dbPath, err := app.GetDBPath()
	if err != nil {
		return nil, err
	}
	return InitDBWithPath(dbPath)
}

// InitDBWithPath opens the event store at dbPath with WAL mode and runs
// pending migrations.
func InitDBWithPath(dbPath string) (*sql.DB, error) {
	if !isMemoryPath(dbPath) {
		if _, err := app.EnsureDBDir(dbPath); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", normalizeSQLiteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer per process; the WAL lets other processes read.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// busy_timeout goes first so the WAL switch waits on locks too.
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout()),
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA journal_mode=WAL",
	}
	for _, pragma := range pragmas {
		if err := RetryWithBackoff(func() error {
			_, err := db.ExecContext(context.Background(), pragma)
			return err
		}); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if err := RetryWithBackoff(func() error { return MigrateDB(db, dbPath) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func isMemoryPath(dbPath string) bool {
	return strings.Contains(dbPath, ":memory:")
}

func normalizeSQLiteDSN(dbPath string) string {
	if strings.HasPrefix(dbPath, "file:") {
		return dbPath
	}
	if dbPath == ":memory:" {
		return "file::memory:?cache=shared"
	}
	// mode=rwc: some environments otherwise open read-only.
	return "file:" + dbPath + "?mode=rwc"
}
