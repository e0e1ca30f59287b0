package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/config"
	"github.com/photoshare/backend/internal/storage"
)

type blobStub struct {
	mu         sync.Mutex
	objects    map[string][]byte
	metadata   map[string]map[string]string
	deletes    []string
	putErr     error
	deleteErr  error
	deleteGate chan struct{}
}

func (b *blobStub) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string, metadata map[string]string, progress storage.ProgressFunc) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if progress != nil {
		progress(0.5)
		progress(1)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return b.putErr
	}
	if b.objects == nil {
		b.objects = make(map[string][]byte)
		b.metadata = make(map[string]map[string]string)
	}
	b.objects[key] = data
	b.metadata[key] = metadata
	return nil
}

func (b *blobStub) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	b.deletes = append(b.deletes, key)
	gate := b.deleteGate
	err := b.deleteErr
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return err
}

func (b *blobStub) deleteCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.deletes)
}

func (b *blobStub) objectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

type metadataStub struct {
	mu          sync.Mutex
	listed      []assets.Record
	listErr     error
	listCalls   int
	getCalls    int
	get         func(call int, id string) (assets.Record, bool, error)
	deleteCalls []string
	deleteErr   error
}

func (m *metadataStub) List(ctx context.Context, userID string) ([]assets.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls++
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]assets.Record, len(m.listed))
	copy(out, m.listed)
	return out, nil
}

func (m *metadataStub) Get(ctx context.Context, userID, id string) (assets.Record, bool, error) {
	m.mu.Lock()
	m.getCalls++
	call := m.getCalls
	get := m.get
	m.mu.Unlock()

	if get == nil {
		return assets.Record{}, false, nil
	}
	return get(call, id)
}

func (m *metadataStub) Delete(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, id)
	return m.deleteErr
}

func (m *metadataStub) counts() (list, get, del int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listCalls, m.getCalls, len(m.deleteCalls)
}

func (m *metadataStub) setListed(records ...assets.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listed = records
}

type cacheStub struct {
	mu     sync.Mutex
	data   map[string][]assets.Record
	gets   int
	puts   int
	getErr error
	putErr error

	// getFailures fails that many reads with errUnavailable before getErr applies.
	getFailures int
}

func (c *cacheStub) Get(ctx context.Context, userID string) ([]assets.Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	if c.getFailures > 0 {
		c.getFailures--
		return nil, errUnavailable
	}
	if c.getErr != nil {
		return nil, c.getErr
	}
	out := make([]assets.Record, len(c.data[userID]))
	copy(out, c.data[userID])
	return out, nil
}

func (c *cacheStub) Put(ctx context.Context, userID string, records []assets.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	if c.data == nil {
		c.data = make(map[string][]assets.Record)
	}
	stored := make([]assets.Record, len(records))
	copy(stored, records)
	c.data[userID] = stored
	return nil
}

func (c *cacheStub) snapshot(userID string) []assets.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]assets.Record, len(c.data[userID]))
	copy(out, c.data[userID])
	return out
}

func (c *cacheStub) counts() (gets, puts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gets, c.puts
}

const testUser = "user-1"

var errUnavailable = errors.New("connection refused")

func testConfig() Config {
	return Config{
		UserID:         testUser,
		MaxUploadBytes: 10 * 1024 * 1024,
		Poll: config.PollConfig{
			InitialDelay: time.Millisecond,
			Interval:     time.Millisecond,
			Multiplier:   1.5,
			MaxInterval:  5 * time.Millisecond,
			MaxAttempts:  6,
		},
		ReconcileDelay: time.Hour,
	}
}

func newTestOrchestrator(t *testing.T, blobs *blobStub, meta *metadataStub, cache *cacheStub, cfg Config) *Orchestrator {
	t.Helper()
	o, err := New(blobs, meta, cache, cfg, testLogger())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := o.Close(ctx); err != nil {
			t.Errorf("close orchestrator: %v", err)
		}
	})
	return o
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func confirmedRecord(id string, status assets.Status, createdAt time.Time) assets.Record {
	rec := assets.NewRecord(id, id, "image/png", 1024, createdAt)
	rec.Status = status
	rec.Source = assets.SourceConfirmed
	return rec
}

func recordByID(records []assets.Record, id string) (assets.Record, bool) {
	for _, rec := range records {
		if rec.ID == id {
			return rec, true
		}
	}
	return assets.Record{}, false
}

func statusOf(o *Orchestrator, id string) assets.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	status, _ := o.records.Status(id)
	return status
}

func waitForCondition(t *testing.T, predicate func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if predicate() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
