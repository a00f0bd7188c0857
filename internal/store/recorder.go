package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// Recorder persists dispatcher records: accepted events go to the event log
// together with snapshots of the aggregates they produced, rejections go to
// the audit table.
type Recorder struct {
	db *sql.DB
}

// NewRecorder returns a Recorder writing to db.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Record implements dispatch.Sink.
func (r *Recorder) Record(ctx context.Context, rec models.Record) error {
	if !rec.Outcome.Accepted {
		rej := rec.Outcome.Error
		if rej == nil {
			return errors.New("rejected record without an error")
		}
		return Transact(ctx, r.db, func(tx *sql.Tx) error {
			_, err := AppendRejection(ctx, tx, rec.Event, rec.Raw, rej)
			return err
		})
	}

	return Transact(ctx, r.db, func(tx *sql.Tx) error {
		seq, err := AppendAccepted(ctx, tx, rec.Event)
		if err != nil {
			return err
		}
		if a := rec.Outcome.Agent; a != nil {
			if err := UpsertSnapshot(ctx, tx, models.AggregateAgent, a.ID, seq, a); err != nil {
				return err
			}
		}
		if c := rec.Outcome.Capsule; c != nil {
			if err := UpsertSnapshot(ctx, tx, models.AggregateCapsule, c.ID, seq, c); err != nil {
				return err
			}
		}
		return nil
	})
}
