package orchestrator

import (
	"context"
	"time"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/logging"
)

// Load returns the records to show in display order.
//
// When the metadata service answers, its listing is authoritative: it replaces
// the visible set and the Local Cache, keeping only local optimistic records
// the service has not seen yet. When it does not answer, Load returns the Local
// Cache contents unchanged.
func (o *Orchestrator) Load(ctx context.Context) ([]assets.Record, error) {
	start := time.Now()
	ctx, span := logging.StartSpan(ctx, "orchestrator.load")
	defer span.End()
	logger := span.Logger()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	o.hydrate(ctx)

	remote, err := o.meta.List(ctx, o.cfg.UserID)
	if err != nil {
		logger.Warn("metadata service unreachable, serving local cache", "error", err)
		defer o.resumePolling()

		cached, cacheErr := o.cache.Get(ctx, o.cfg.UserID)
		if cacheErr != nil {
			logger.Error("read local cache", "error", cacheErr)
			o.observer.RecordLoad(time.Since(start), SourceMemory, cacheErr)
			o.mu.Lock()
			defer o.mu.Unlock()
			return o.records.Durable(), nil
		}
		o.observer.RecordLoad(time.Since(start), SourceCache, nil)
		return cached, nil
	}

	visible := o.applyListing(remote)
	if err := o.persist(ctx); err != nil {
		logger.Warn("cache reconciled records", "error", err)
	}
	o.resumePolling()

	logger.Debug("records reconciled", "remote", len(remote), "visible", len(visible))
	o.observer.RecordLoad(time.Since(start), SourceRemote, nil)
	return visible, nil
}

// applyListing merges an authoritative listing into the record set and
// returns the visible records in display order. The listing supersedes the
// Local Cache, so the set counts as hydrated afterwards.
func (o *Orchestrator) applyListing(remote []assets.Record) []assets.Record {
	var visible []assets.Record
	o.mutate(func(set *assets.RecordSet) {
		set.Replace(assets.Merge(remote, set.List()))
		o.hydrated = true
		visible = set.List()
	})
	return visible
}

// resumePolling starts poll sequences for records still waiting on the
// pipeline, such as those restored from the Local Cache after a restart.
func (o *Orchestrator) resumePolling() {
	o.mu.Lock()
	var pending []string
	for _, rec := range o.records.List() {
		if rec.Status == assets.StatusAwaitingProcessing || rec.Status == assets.StatusProcessing {
			pending = append(pending, rec.ID)
		}
	}
	o.mu.Unlock()

	for _, id := range pending {
		o.startPolling(id)
	}
}

// scheduleReconcile runs one Load after the configured delay.
func (o *Orchestrator) scheduleReconcile() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		if !sleepContext(o.ctx, o.cfg.ReconcileDelay) {
			return
		}
		if _, err := o.Load(o.ctx); err != nil {
			o.logger.Warn("deferred reconciliation", "error", err)
		}
	}()
}
