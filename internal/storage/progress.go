package storage

import (
	"io"
	"sync"
)

// ProgressFunc receives the fraction of bytes transferred, in [0,1].
type ProgressFunc func(fraction float64)

// progressTracker accumulates transferred bytes and reports the fraction to a
// ProgressFunc. Reports never go backwards and never exceed 1.
type progressTracker struct {
	mu       sync.Mutex
	total    int64
	done     int64
	reported float64
	fn       ProgressFunc
}

func newProgressTracker(total int64, fn ProgressFunc) *progressTracker {
	return &progressTracker{total: total, fn: fn}
}

func (p *progressTracker) add(n int64) {
	if p == nil || p.fn == nil || n <= 0 {
		return
	}
	p.mu.Lock()
	p.done += n
	fraction := 1.0
	if p.total > 0 && p.done < p.total {
		fraction = float64(p.done) / float64(p.total)
	}
	if fraction <= p.reported {
		p.mu.Unlock()
		return
	}
	p.reported = fraction
	p.mu.Unlock()

	p.fn(fraction)
}

// complete reports 1 if it has not been reported yet.
func (p *progressTracker) complete() {
	if p == nil || p.fn == nil {
		return
	}
	p.mu.Lock()
	if p.reported >= 1 {
		p.mu.Unlock()
		return
	}
	p.reported = 1
	p.mu.Unlock()

	p.fn(1)
}

// progressReader counts bytes as the uploader pulls them from the body.
type progressReader struct {
	r       io.Reader
	tracker *progressTracker
}

func (r *progressReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	r.tracker.add(int64(n))
	return n, err
}

// progressSink is handed to clients that push progress by "reading" the
// number of bytes they just sent, as minio-go does with PutObjectOptions.Progress.
type progressSink struct {
	tracker *progressTracker
}

func (s *progressSink) Read(p []byte) (int, error) {
	s.tracker.add(int64(len(p)))
	return len(p), nil
}
