package dispatch

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/deltaknight858/Eco-sub001/internal/models"
)

// SubmitBatch submits raws, preserving submission order within each
// aggregate and running different aggregates in parallel. Outcomes are
// returned in input order.
//
// Once ctx is done no further events are dispatched: every event not yet
// dispatched gets a Cancelled outcome and ctx's error is returned. Events
// already dispatched keep their outcomes; if every event was dispatched
// before cancellation the error is nil.
func (d *Dispatcher) SubmitBatch(ctx context.Context, raws [][]byte) ([]models.Outcome, error) {
	outcomes := make([]models.Outcome, len(raws))
	events := make([]*models.Event, len(raws))

	groups := make(map[key][]int)
	var order []key
	for i, raw := range raws {
		ev, rej := d.prepare(raw)
		if rej != nil {
			outcomes[i] = d.reject(nil, raw, rej, true)
			continue
		}
		events[i] = ev
		k := routeKey(ev)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	var skipped atomic.Bool
	g := new(errgroup.Group)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, k := range order {
		idx := groups[k]
		g.Go(func() error {
			for n, i := range idx {
				if ctx.Err() != nil {
					for _, j := range idx[n:] {
						outcomes[j] = cancelled(events[j])
					}
					skipped.Store(true)
					return nil
				}
				outcomes[i] = d.dispatch(events[i], raws[i], true)
			}
			return nil
		})
	}
	_ = g.Wait()

	if skipped.Load() {
		return outcomes, ctx.Err()
	}
	return outcomes, nil
}

func cancelled(ev *models.Event) models.Outcome {
	return models.Rejected(ev, models.Reject(models.CodeCancelled, "",
		"batch cancelled before the event was dispatched"))
}
