package dispatch

import (
	"context"
	"encoding/json"
)

// ReplayStats summarizes a replay.
type ReplayStats struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

// Replay rebuilds state from previously accepted events, in order, without
// handing anything to sinks. Events rejected on replay (for example after a
// policy change) are logged and counted; they do not stop the replay.
func (d *Dispatcher) Replay(ctx context.Context, events []json.RawMessage) (ReplayStats, error) {
	var stats ReplayStats
	for _, raw := range events {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		ev, rej := d.prepare(raw)
		if rej == nil {
			out := d.dispatch(ev, raw, false)
			if out.Accepted {
				stats.Accepted++
				continue
			}
			rej = out.Error
		}

		stats.Rejected++
		d.logger.Warn("replayed event rejected",
			"code", rej.Code,
			"field", rej.Field,
			"reason", rej.Reason,
		)
	}
	return stats, nil
}
