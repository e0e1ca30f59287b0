package orchestrator

import (
	"context"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/logging"
	"github.com/photoshare/backend/internal/storage"
)

// SubmitRequest describes an image to upload.
type SubmitRequest struct {
	Body         io.Reader
	ContentType  string
	Size         int64
	OriginalName string
	// Progress, when set, receives the transferred fraction in [0,1].
	Progress storage.ProgressFunc
}

// Submit validates the request, streams the bytes to the blob store and
// returns the optimistic record in AwaitingProcessing. The record is written
// to the Local Cache and polled in the background until processing settles.
//
// Invalid requests fail with a *assets.ValidationError before any I/O. A failed
// transfer returns an error matching assets.ErrTransfer and leaves no record
// behind.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (assets.Record, error) {
	start := time.Now()
	contentType, err := o.validate(req)
	if err != nil {
		o.observer.RecordSubmit(time.Since(start), req.Size, err)
		return assets.Record{}, err
	}

	o.hydrate(ctx)

	id, createdAt := o.ids.Next(req.OriginalName)
	rec := assets.NewRecord(id, req.OriginalName, contentType, req.Size, createdAt)

	ctx, span := logging.StartSpan(ctx, "orchestrator.submit", "assetId", id)
	defer span.End()
	logger := span.Logger()

	var insertErr error
	o.mutate(func(set *assets.RecordSet) {
		insertErr = set.Insert(rec)
	})
	if insertErr != nil {
		err := fmt.Errorf("submit %s: %w", id, insertErr)
		o.observer.RecordSubmit(time.Since(start), req.Size, err)
		return assets.Record{}, err
	}
	o.observer.RecordTransition(assets.StatusUploading)

	metadata := map[string]string{
		"user-id":       o.cfg.UserID,
		"original-name": req.OriginalName,
		"upload-time":   createdAt.Format(time.RFC3339Nano),
	}
	if err := o.blobs.Put(ctx, rec.BlobKey, req.Body, req.Size, contentType, metadata, req.Progress); err != nil {
		o.mutate(func(set *assets.RecordSet) {
			set.Discard(id)
		})
		err = fmt.Errorf("%w: upload %s: %w", assets.ErrTransfer, id, err)
		logger.Error("upload failed", "error", err)
		o.observer.RecordSubmit(time.Since(start), req.Size, err)
		return assets.Record{}, err
	}

	var (
		advanced bool
		deleted  bool
	)
	o.mutate(func(set *assets.RecordSet) {
		rec, advanced = set.Update(id, func(r assets.Record) (assets.Record, bool) {
			return r.Advance(assets.StatusAwaitingProcessing)
		})
		deleted = set.Deleted(id)
	})

	if !advanced {
		if deleted {
			// The record was deleted while its bytes were in flight, so the
			// blob may have landed after the delete removed it.
			if err := o.blobs.Delete(ctx, rec.BlobKey); err != nil {
				logger.Warn("remove blob of asset deleted during upload", "error", err)
			}
			rec = assets.NewRecord(id, req.OriginalName, contentType, req.Size, createdAt)
			rec.Status = assets.StatusDeleted
			o.observer.RecordSubmit(time.Since(start), req.Size, nil)
			return rec, nil
		}
		err := fmt.Errorf("submit %s: record vanished during upload", id)
		o.observer.RecordSubmit(time.Since(start), req.Size, err)
		return assets.Record{}, err
	}
	o.observer.RecordTransition(assets.StatusAwaitingProcessing)

	if err := o.persist(ctx); err != nil {
		logger.Warn("cache optimistic record", "error", err)
	}
	o.startPolling(id)

	logger.Info("asset uploaded", "sizeBytes", req.Size, "contentType", contentType)
	o.observer.RecordSubmit(time.Since(start), req.Size, nil)
	return rec, nil
}

func (o *Orchestrator) validate(req SubmitRequest) (string, error) {
	if req.Body == nil {
		return "", &assets.ValidationError{Field: "body", Reason: "no content"}
	}
	mediaType, _, err := mime.ParseMediaType(req.ContentType)
	if err != nil {
		return "", &assets.ValidationError{Field: "contentType", Reason: fmt.Sprintf("unparseable %q", req.ContentType)}
	}
	if !strings.HasPrefix(mediaType, "image/") || len(mediaType) == len("image/") {
		return "", &assets.ValidationError{Field: "contentType", Reason: fmt.Sprintf("%q is not an image type", mediaType)}
	}
	if req.Size <= 0 {
		return "", &assets.ValidationError{Field: "size", Reason: "must be positive"}
	}
	if req.Size > o.cfg.MaxUploadBytes {
		return "", &assets.ValidationError{Field: "size", Reason: fmt.Sprintf("%d bytes exceeds the %d byte limit", req.Size, o.cfg.MaxUploadBytes)}
	}
	return mediaType, nil
}
