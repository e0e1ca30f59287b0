// Package orchestrator drives image assets through upload, remote processing,
// display and deletion for a single user session.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/config"
	"github.com/photoshare/backend/internal/logging"
	"github.com/photoshare/backend/internal/storage"
)

// BlobStore holds original image bytes.
type BlobStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string, progress storage.ProgressFunc) error
	Delete(ctx context.Context, key string) error
}

// MetadataService is the system of record for processed images.
type MetadataService interface {
	List(ctx context.Context, userID string) ([]assets.Record, error)
	Get(ctx context.Context, userID, id string) (assets.Record, bool, error)
	Delete(ctx context.Context, userID, id string) error
}

// LocalCache mirrors the last known record set of a user.
type LocalCache interface {
	Get(ctx context.Context, userID string) ([]assets.Record, error)
	Put(ctx context.Context, userID string, records []assets.Record) error
}

// Observer receives lifecycle measurements.
type Observer interface {
	RecordSubmit(duration time.Duration, sizeBytes int64, err error)
	RecordLoad(duration time.Duration, source string, err error)
	RecordDelete(duration time.Duration, err error)
	RecordPollAttempt(outcome string)
	RecordTransition(status assets.Status)
}

// Config controls a single user session.
type Config struct {
	UserID         string
	MaxUploadBytes int64
	Poll           config.PollConfig
	ReconcileDelay time.Duration
	Observer       Observer
	IDs            *assets.IDGenerator
}

// Load sources reported to the Observer.
const (
	SourceRemote = "remote"
	SourceCache  = "cache"
	SourceMemory = "memory"
)

var errNoUser = errors.New("orchestrator: user id is required")

// Orchestrator owns the in-memory record set of one user. All record
// mutations go through mu, which is never held across I/O. Cache writes are
// serialized by writeMu and always write the latest version of the set.
type Orchestrator struct {
	blobs    BlobStore
	meta     MetadataService
	cache    LocalCache
	cfg      Config
	ids      *assets.IDGenerator
	observer Observer
	logger   *slog.Logger

	mu       sync.Mutex
	records  *assets.RecordSet
	changed  chan struct{}
	polling  map[string]struct{}
	hydrated bool
	closed   bool

	writeMu sync.Mutex
	written uint64

	flights singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// New constructs an orchestrator for cfg.UserID.
func New(blobs BlobStore, meta MetadataService, cache LocalCache, cfg Config, logger *slog.Logger) (*Orchestrator, error) {
	if cfg.UserID == "" {
		return nil, errNoUser
	}
	if blobs == nil || meta == nil || cache == nil {
		return nil, errors.New("orchestrator: blob store, metadata service and cache are required")
	}
	defaults := config.Default()
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaults.Upload.MaxBytes
	}
	if cfg.Poll.MaxAttempts <= 0 {
		cfg.Poll.MaxAttempts = defaults.Poll.MaxAttempts
	}
	if cfg.Poll.Interval <= 0 {
		cfg.Poll.Interval = defaults.Poll.Interval
	}
	if cfg.Poll.Multiplier < 1 {
		cfg.Poll.Multiplier = 1
	}
	if cfg.Poll.InitialDelay < 0 {
		cfg.Poll.InitialDelay = 0
	}
	if cfg.Observer == nil {
		cfg.Observer = nopObserver{}
	}
	if cfg.IDs == nil {
		cfg.IDs = assets.NewIDGenerator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("userId", cfg.UserID)

	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), logger))

	return &Orchestrator{
		blobs:    blobs,
		meta:     meta,
		cache:    cache,
		cfg:      cfg,
		ids:      cfg.IDs,
		observer: cfg.Observer,
		logger:   logger,
		records:  assets.NewRecordSet(),
		changed:  make(chan struct{}),
		polling:  make(map[string]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Records returns a snapshot of every visible record, including those still
// uploading, in display order.
func (o *Orchestrator) Records() []assets.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.records.List()
}

// Await blocks until the record reaches a terminal status and returns it.
func (o *Orchestrator) Await(ctx context.Context, id string) (assets.Record, error) {
	for {
		o.mu.Lock()
		status, known := o.records.Status(id)
		rec, _ := o.records.Get(id)
		changed := o.changed
		o.mu.Unlock()

		if !known {
			return assets.Record{}, fmt.Errorf("asset %s is not tracked", id)
		}
		if status.Terminal() {
			rec.ID = id
			rec.Status = status
			return rec, nil
		}

		select {
		case <-ctx.Done():
			return rec, ctx.Err()
		case <-changed:
		}
	}
}

// Close stops background polling and deferred reconciliation and waits for
// them to exit.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		o.cancel()
	})

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// mutate runs fn with the state lock held and wakes Await callers when fn
// changed the record set.
func (o *Orchestrator) mutate(fn func(set *assets.RecordSet)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	before := o.records.Version()
	fn(o.records)
	if o.records.Version() != before {
		close(o.changed)
		o.changed = make(chan struct{})
	}
}

// hydrate seeds the record set from the Local Cache once per session so
// that the first cache write does not drop records from earlier sessions. A
// failed read leaves the set unhydrated and the next caller tries again.
func (o *Orchestrator) hydrate(ctx context.Context) bool {
	o.mu.Lock()
	done := o.hydrated
	o.mu.Unlock()
	if done {
		return true
	}

	_, _, _ = o.flights.Do("hydrate", func() (any, error) {
		o.mu.Lock()
		done := o.hydrated
		o.mu.Unlock()
		if done {
			return nil, nil
		}

		cached, err := o.cache.Get(ctx, o.cfg.UserID)
		if err != nil {
			logging.FromContext(ctx).Warn("read local cache", "error", err)
			return nil, err
		}

		o.mutate(func(set *assets.RecordSet) {
			o.hydrated = true
			for _, rec := range cached {
				if rec.Status == assets.StatusUploading || rec.Status == assets.StatusDeleted {
					continue
				}
				_ = set.Insert(rec)
			}
		})
		return nil, nil
	})

	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hydrated
}

// persist writes the durable part of the latest record set to the Local
// Cache. Versions already written are skipped. Nothing is written until the
// earlier contents of the cache have been read back into the set.
func (o *Orchestrator) persist(ctx context.Context) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	if !o.hydrate(ctx) {
		logging.FromContext(ctx).Warn("skipping cache write until the cache can be read")
		return nil
	}

	o.mu.Lock()
	version := o.records.Version()
	snapshot := o.records.Durable()
	o.mu.Unlock()

	if version <= o.written {
		return nil
	}
	if err := o.cache.Put(ctx, o.cfg.UserID, snapshot); err != nil {
		logging.FromContext(ctx).Warn("write local cache", "error", err, "version", version)
		return err
	}
	o.written = version
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

type nopObserver struct{}

func (nopObserver) RecordSubmit(time.Duration, int64, error) {}
func (nopObserver) RecordLoad(time.Duration, string, error) {}
func (nopObserver) RecordDelete(time.Duration, error) {}
func (nopObserver) RecordPollAttempt(string) {}
func (nopObserver) RecordTransition(assets.Status) {}
