package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/logging"
)

// Poll attempt outcomes reported to the Observer.
const (
	pollReady       = "ready"
	pollProcessing  = "processing"
	pollNotFound    = "not_found"
	pollUnreachable = "unreachable"
	pollTimedOut    = "timed_out"
)

// startPolling schedules the poll sequence for id unless one is already
// running.
func (o *Orchestrator) startPolling(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if _, running := o.polling[id]; running {
		return
	}
	o.polling[id] = struct{}{}
	o.wg.Add(1)
	go o.poll(id)
}

// poll waits for the initial delay and then asks the metadata service about
// id until the record settles or the attempt cap is reached.
func (o *Orchestrator) poll(id string) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		delete(o.polling, id)
		o.mu.Unlock()
	}()

	ctx, span := logging.StartSpan(o.ctx, "orchestrator.poll", "assetId", id)
	defer span.End()
	logger := span.Logger()

	if !sleepContext(ctx, o.cfg.Poll.InitialDelay) {
		return
	}

	var lastErr error
	for attempt := 1; attempt <= o.cfg.Poll.MaxAttempts; attempt++ {
		if attempt > 1 && !sleepContext(ctx, o.interval(attempt-1)) {
			return
		}
		if !o.beginAttempt(id) {
			logger.Debug("polling stopped", "attempt", attempt)
			return
		}

		remote, found, err := o.meta.Get(ctx, o.cfg.UserID, id)
		if ctx.Err() != nil {
			return
		}

		var outcome string
		switch {
		case err != nil:
			outcome = pollUnreachable
			lastErr = err
			logger.Warn("poll attempt failed", "attempt", attempt, "error", err)
		case !found:
			outcome = pollNotFound
		case remote.Status == assets.StatusReady:
			outcome = pollReady
		default:
			outcome = pollProcessing
		}
		o.observer.RecordPollAttempt(outcome)

		if !found || err != nil {
			continue
		}

		settled, live := o.applyPollResult(id, remote)
		if !live {
			logger.Debug("discarding poll result for settled asset", "attempt", attempt)
			return
		}
		if settled {
			o.observer.RecordTransition(assets.StatusReady)
			if err := o.persist(ctx); err != nil {
				logger.Warn("cache ready record", "error", err)
			}
			logger.Info("asset processed", "attempts", attempt)
			return
		}
	}

	o.timeOut(ctx, id, lastErr)
}

// beginAttempt is the decision point before every attempt. It moves an
// AwaitingProcessing record to Processing and reports whether polling should
// continue.
func (o *Orchestrator) beginAttempt(id string) bool {
	var (
		live     bool
		advanced bool
	)
	o.mutate(func(set *assets.RecordSet) {
		status, known := set.Status(id)
		if !known || status.Terminal() {
			return
		}
		live = true
		if status == assets.StatusAwaitingProcessing {
			_, advanced = set.Update(id, func(r assets.Record) (assets.Record, bool) {
				return r.Advance(assets.StatusProcessing)
			})
		}
	})
	if advanced {
		o.observer.RecordTransition(assets.StatusProcessing)
	}
	return live
}

// applyPollResult applies a remote sighting of id. settled reports whether the
// record became Ready; live is false when the record was already terminal or
// deleted, in which case remote is ignored.
func (o *Orchestrator) applyPollResult(id string, remote assets.Record) (settled, live bool) {
	o.mutate(func(set *assets.RecordSet) {
		status, known := set.Status(id)
		if !known || status.Terminal() {
			return
		}
		live = true
		set.Update(id, func(r assets.Record) (assets.Record, bool) {
			changed := false
			if r.Source != assets.SourceConfirmed {
				r.Source = assets.SourceConfirmed
				changed = true
			}
			if remote.Status != assets.StatusReady {
				return r, changed
			}
			next, ok := r.Advance(assets.StatusReady)
			if !ok {
				return r, changed
			}
			settled = true
			if remote.DerivedKey != "" {
				next.DerivedKey = remote.DerivedKey
			}
			next.ThumbnailURL = remote.ThumbnailURL
			next.ProcessedAt = remote.ProcessedAt
			return next, true
		})
	})
	return settled, live
}

// timeOut runs once the attempt cap is reached. A full listing is fetched
// first so a completion the per-record lookups missed still lands on Ready;
// otherwise id moves to ProcessingTimedOut.
func (o *Orchestrator) timeOut(ctx context.Context, id string, lastErr error) {
	logger := logging.FromContext(ctx)

	remote, listErr := o.meta.List(ctx, o.cfg.UserID)
	if ctx.Err() != nil {
		return
	}
	if listErr != nil {
		logger.Warn("final listing before timeout", "error", listErr)
		lastErr = listErr
	} else if seen, ok := findRecord(remote, id); ok && seen.Status == assets.StatusReady {
		settled, _ := o.applyPollResult(id, seen)
		o.applyListing(remote)
		if settled {
			o.observer.RecordTransition(assets.StatusReady)
			logger.Info("asset processed, found by final listing")
		}
		if err := o.persist(ctx); err != nil {
			logger.Warn("cache ready record", "error", err)
		}
		return
	}

	diagnostic := fmt.Sprintf("%v after %d attempts", assets.ErrProcessingTimeout, o.cfg.Poll.MaxAttempts)
	if lastErr != nil {
		diagnostic = fmt.Sprintf("%s: last error: %v", diagnostic, lastErr)
	}

	var timedOut bool
	o.mutate(func(set *assets.RecordSet) {
		_, timedOut = set.Update(id, func(r assets.Record) (assets.Record, bool) {
			return r.TimeOut(diagnostic)
		})
	})
	if listErr == nil {
		o.applyListing(remote)
	}
	if timedOut {
		o.observer.RecordPollAttempt(pollTimedOut)
		o.observer.RecordTransition(assets.StatusProcessingTimedOut)
		logger.Warn("asset processing timed out", "attempts", o.cfg.Poll.MaxAttempts, "error", lastErr)
	}
	if err := o.persist(ctx); err != nil {
		logger.Warn("cache timed out record", "error", err)
	}
}

func findRecord(records []assets.Record, id string) (assets.Record, bool) {
	for _, rec := range records {
		if rec.ID == id {
			return rec, true
		}
	}
	return assets.Record{}, false
}

// interval returns the delay before attempt n+1.
func (o *Orchestrator) interval(n int) time.Duration {
	d := time.Duration(float64(o.cfg.Poll.Interval) * math.Pow(o.cfg.Poll.Multiplier, float64(n-1)))
	if limit := o.cfg.Poll.MaxInterval; limit > 0 && d > limit {
		d = limit
	}
	return d
}
