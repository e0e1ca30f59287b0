package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/logging"
)

// Delete removes an asset from the blob store and the metadata service and
// drops it from the visible set and the Local Cache regardless of the remote
// outcome.
//
// Concurrent calls for the same id share one execution and one result. An id
// that is unknown or already deleted is a no-op. When exactly one remote
// delete fails the error is a *assets.PartialFailureError; when both fail it
// matches assets.ErrTransfer.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	work := context.WithoutCancel(ctx)
	_, err, shared := o.flights.Do("delete:"+id, func() (any, error) {
		return nil, o.deleteAsset(work, id)
	})
	if shared {
		logging.FromContext(ctx).Debug("joined in-flight delete", "assetId", id)
	}
	return err
}

func (o *Orchestrator) deleteAsset(ctx context.Context, id string) error {
	start := time.Now()
	ctx, span := logging.StartSpan(ctx, "orchestrator.delete", "assetId", id)
	defer span.End()
	logger := span.Logger()

	o.hydrate(ctx)

	var (
		rec     assets.Record
		removed bool
	)
	o.mutate(func(set *assets.RecordSet) {
		rec, removed = set.Delete(id)
	})
	if !removed {
		logger.Debug("delete of unknown asset ignored")
		return nil
	}
	o.observer.RecordTransition(assets.StatusDeleted)

	var (
		blobErr error
		metaErr error
		g       errgroup.Group
	)
	g.Go(func() error {
		blobErr = o.blobs.Delete(ctx, rec.BlobKey)
		if blobErr != nil {
			logger.Warn("delete blob", "blobKey", rec.BlobKey, "error", blobErr)
		}
		return nil
	})
	g.Go(func() error {
		metaErr = o.meta.Delete(ctx, o.cfg.UserID, id)
		if metaErr != nil {
			logger.Warn("delete metadata", "error", metaErr)
		}
		return nil
	})
	_ = g.Wait()

	if err := o.persist(ctx); err != nil {
		logger.Warn("cache deletion", "error", err)
	}
	o.scheduleReconcile()

	err := deleteOutcome(id, blobErr, metaErr)
	o.observer.RecordDelete(time.Since(start), err)
	if err == nil {
		logger.Info("asset deleted")
	}
	return err
}

func deleteOutcome(id string, blobErr, metaErr error) error {
	switch {
	case blobErr == nil && metaErr == nil:
		return nil
	case blobErr != nil && metaErr != nil:
		return fmt.Errorf("%w: delete %s: %w", assets.ErrTransfer, id, errors.Join(blobErr, metaErr))
	case blobErr != nil:
		return &assets.PartialFailureError{ID: id, Failed: assets.StoreBlob, Err: blobErr}
	default:
		return &assets.PartialFailureError{ID: id, Failed: assets.StoreMetadata, Err: metaErr}
	}
}
