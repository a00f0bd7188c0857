package commands

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/deltaknight858/Eco-sub001/internal/app"
	"github.com/deltaknight858/Eco-sub001/internal/output"
	"github.com/deltaknight858/Eco-sub001/internal/store"
)

// DB is an alias so command code doesn't need to import database/sql.
type DB = sql.DB

type printedError struct {
	err error
}

func (e printedError) Error() string {
	// The JSON error response is the output.
	return "error already printed"
}

func (e printedError) Unwrap() error { return e.err }

func openDB() (*DB, func(), error) {
	dbPath, err := app.GetDBPath()
	if err != nil {
		return nil, nil, err
	}

	db, err := store.InitDBWithPath(dbPath)
	if err != nil {
		return nil, nil, err
	}

	return db, func() { _ = db.Close() }, nil
}

func withDB(fn func(db *DB) error) error {
	db, closeDB, err := openDB()
	if err != nil {
		return cmdErr(err)
	}
	defer closeDB()

	if err := fn(db); err != nil {
		return cmdErr(err)
	}
	return nil
}

// withEngine opens the store and rebuilds the in-memory dispatcher from it.
// live engines persist and broadcast what they accept; read-only engines
// have no sinks.
func withEngine(ctx context.Context, live bool, fn func(db *DB, e *engine) error) error {
	return withDB(func(db *DB) error {
		e, err := openEngine(ctx, db, live)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(db, e)
	})
}

// cmdErr prints err as the JSON error envelope and logs it. The returned
// error only signals failure to cobra.
func cmdErr(err error) error {
	if err == nil {
		return nil
	}
	var pe printedError
	if errors.As(err, &pe) {
		return err
	}

	attrs := []any{"error", err.Error()}
	var re store.RecoverableError
	if errors.As(err, &re) {
		attrs = append(attrs, "error_code", re.ErrorCode())
	}
	slog.Error("command error", attrs...)

	_ = output.PrintError(err)
	return printedError{err: err}
}
