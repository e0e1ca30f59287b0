package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/config"
	"github.com/photoshare/backend/internal/metadata"
)

func TestLoadFallsBackToCacheWhenServiceFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	client := metadata.NewClient(config.MetadataConfig{BaseURL: srv.URL, Timeout: time.Second})

	base := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	seeded := []assets.Record{
		confirmedRecord("1706774460000-b.png", assets.StatusReady, base.Add(time.Minute)),
		confirmedRecord("1706774400000-a.png", assets.StatusProcessingTimedOut, base),
	}
	seeded[1].LastError = "processing did not finish"
	cache := &cacheStub{data: map[string][]assets.Record{testUser: seeded}}

	logger := testLogger()
	o, err := New(&blobStub{}, client, cache, testConfig(), logger)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(func() { _ = o.Close(context.Background()) })

	records, err := o.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(records, seeded) {
		t.Fatalf("expected cache contents unchanged\n got %+v\nwant %+v", records, seeded)
	}
	if _, puts := cache.counts(); puts != 0 {
		t.Fatalf("expected cache to be left untouched, got %d writes", puts)
	}
}

func TestLoadReplacesVisibleSetWithRemote(t *testing.T) {
	base := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	stale := confirmedRecord("1706774400000-removed.png", assets.StatusReady, base)
	pending := assets.NewRecord("1706774520000-new.png", "new.png", "image/png", 10, base.Add(2*time.Minute))
	pending.Status = assets.StatusAwaitingProcessing
	confirmedLater := assets.NewRecord("1706774460000-seen.png", "seen.png", "image/png", 10, base.Add(time.Minute))
	confirmedLater.Status = assets.StatusProcessing

	cache := &cacheStub{data: map[string][]assets.Record{testUser: {pending, confirmedLater, stale}}}
	remoteSeen := confirmedRecord(confirmedLater.ID, assets.StatusReady, confirmedLater.CreatedAt)
	remoteOther := confirmedRecord("1706774300000-other.png", assets.StatusReady, base.Add(-time.Minute))
	meta := &metadataStub{listed: []assets.Record{remoteOther, remoteSeen}}

	cfg := testConfig()
	cfg.Poll.InitialDelay = time.Hour
	o := newTestOrchestrator(t, &blobStub{}, meta, cache, cfg)

	records, err := o.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	want := []string{pending.ID, remoteSeen.ID, remoteOther.ID}
	if !reflect.DeepEqual(ids, want) {
		t.Fatalf("unexpected order %v want %v", ids, want)
	}
	if records[1].Source != assets.SourceConfirmed || records[1].Status != assets.StatusReady {
		t.Fatalf("expected confirmed copy to win, got %+v", records[1])
	}
	if got := recordIDs(o.Records()); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected Records to match Load order, got %v want %v", got, want)
	}

	cached := cache.snapshot(testUser)
	if len(cached) != 3 {
		t.Fatalf("expected cache to match merged view, got %+v", cached)
	}
	if _, ok := recordByID(cached, stale.ID); ok {
		t.Fatal("expected record missing remotely to be dropped from cache")
	}

	meta.mu.Lock()
	meta.listErr = errUnavailable
	meta.mu.Unlock()
	offline, err := o.Load(context.Background())
	if err != nil {
		t.Fatalf("load offline: %v", err)
	}
	if got := recordIDs(offline); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected cache fallback to keep the same order, got %v want %v", got, want)
	}
}

func TestLoadKeepsCachedRecordsAfterTransientCacheReadFailure(t *testing.T) {
	base := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	old := confirmedRecord("1706774400000-old.png", assets.StatusReady, base)
	cache := &cacheStub{
		data:        map[string][]assets.Record{testUser: {old}},
		getFailures: 1,
	}
	meta := &metadataStub{listErr: errUnavailable}
	cfg := testConfig()
	cfg.Poll.InitialDelay = time.Hour
	o := newTestOrchestrator(t, &blobStub{}, meta, cache, cfg)

	fresh := submitTestImage(t, o, "new.png")

	cached := cache.snapshot(testUser)
	if _, ok := recordByID(cached, old.ID); !ok {
		t.Fatalf("expected earlier record to survive the cache write, got %v", recordIDs(cached))
	}
	if _, ok := recordByID(cached, fresh.ID); !ok {
		t.Fatalf("expected new record in cache, got %v", recordIDs(cached))
	}

	records, err := o.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []string{fresh.ID, old.ID}
	if got := recordIDs(records); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected records %v want %v", got, want)
	}
}

func TestPersistWaitsUntilCacheCanBeRead(t *testing.T) {
	base := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)
	old := confirmedRecord("1706774400000-old.png", assets.StatusReady, base)
	cache := &cacheStub{
		data:   map[string][]assets.Record{testUser: {old}},
		getErr: errUnavailable,
	}
	meta := &metadataStub{listErr: errUnavailable}
	cfg := testConfig()
	cfg.Poll.InitialDelay = time.Hour
	o := newTestOrchestrator(t, &blobStub{}, meta, cache, cfg)

	fresh := submitTestImage(t, o, "new.png")
	if _, puts := cache.counts(); puts != 0 {
		t.Fatalf("expected no cache writes while the cache is unreadable, got %d", puts)
	}

	cache.mu.Lock()
	cache.getErr = nil
	cache.mu.Unlock()

	if err := o.Delete(context.Background(), fresh.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	cached := cache.snapshot(testUser)
	if got := recordIDs(cached); !reflect.DeepEqual(got, []string{old.ID}) {
		t.Fatalf("expected earlier record to remain cached, got %v", got)
	}
}

func recordIDs(records []assets.Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.ID)
	}
	return out
}

func TestLoadUsesMemoryWhenCacheAndServiceFail(t *testing.T) {
	meta := &metadataStub{}
	cache := &cacheStub{}
	cfg := testConfig()
	cfg.Poll.InitialDelay = time.Hour
	o := newTestOrchestrator(t, &blobStub{}, meta, cache, cfg)

	rec := submitTestImage(t, o, "offline.png")

	meta.mu.Lock()
	meta.listErr = errUnavailable
	meta.mu.Unlock()
	cache.mu.Lock()
	cache.getErr = errUnavailable
	cache.mu.Unlock()

	records, err := o.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 1 || records[0].ID != rec.ID {
		t.Fatalf("expected in-memory records, got %+v", records)
	}
}

func TestLoadRejectsCancelledContext(t *testing.T) {
	o := newTestOrchestrator(t, &blobStub{}, &metadataStub{}, &cacheStub{}, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Load(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
