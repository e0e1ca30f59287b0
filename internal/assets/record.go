package assets

import (
	"sort"
	"time"
)

// Status is the lifecycle state of an asset record.
type Status string

const (
	StatusUploading          Status = "uploading"
	StatusAwaitingProcessing Status = "awaiting_processing"
	StatusProcessing         Status = "processing"
	StatusReady              Status = "ready"
	StatusProcessingTimedOut Status = "processing_timed_out"
	StatusDeleted            Status = "deleted"
)

// Source records where the orchestrator learned about a record.
type Source string

const (
	SourceOptimistic Source = "optimistic"
	SourceConfirmed  Source = "confirmed"
)

// DerivedKeyPrefix is prepended to a record id to form the thumbnail key.
const DerivedKeyPrefix = "thumb-"

func (s Status) rank() int {
	switch s {
	case StatusUploading:
		return 0
	case StatusAwaitingProcessing:
		return 1
	case StatusProcessing:
		return 2
	case StatusReady, StatusProcessingTimedOut:
		return 3
	case StatusDeleted:
		return 4
	default:
		return -1
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s.rank() >= 0
}

// Terminal reports whether no further processing transition can leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusReady, StatusProcessingTimedOut, StatusDeleted:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a record may move from one status to another.
// Transitions only move forward; Deleted is reachable from anywhere and is absorbing.
func CanTransition(from, to Status) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if from == StatusDeleted {
		return false
	}
	if to == StatusDeleted {
		return true
	}
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// Record is one user asset tracked through upload, processing and display.
type Record struct {
	ID           string     `json:"id"`
	BlobKey      string     `json:"blobKey"`
	DerivedKey   string     `json:"derivedKey"`
	Status       Status     `json:"status"`
	OriginalName string     `json:"originalName"`
	ContentType  string     `json:"contentType,omitempty"`
	SizeBytes    int64      `json:"sizeBytes"`
	CreatedAt    time.Time  `json:"createdAt"`
	Source       Source     `json:"source"`
	LastError    string     `json:"lastError,omitempty"`
	ThumbnailURL string     `json:"thumbnailUrl,omitempty"`
	ProcessedAt  *time.Time `json:"processedAt,omitempty"`
}

// DerivedKey returns the key where the processed thumbnail for id is published.
func DerivedKey(id string) string {
	return DerivedKeyPrefix + id
}

// NewRecord builds the initial optimistic record for a submission.
func NewRecord(id, originalName, contentType string, size int64, createdAt time.Time) Record {
	return Record{
		ID:           id,
		BlobKey:      id,
		DerivedKey:   DerivedKey(id),
		Status:       StatusUploading,
		OriginalName: originalName,
		ContentType:  contentType,
		SizeBytes:    size,
		CreatedAt:    createdAt.UTC(),
		Source:       SourceOptimistic,
	}
}

// Advance returns a copy of r moved to status to. The second result is false
// and r is returned unchanged when the transition is not allowed.
func (r Record) Advance(to Status) (Record, bool) {
	if !CanTransition(r.Status, to) {
		return r, false
	}
	r.Status = to
	if to != StatusProcessingTimedOut {
		r.LastError = ""
	}
	return r, true
}

// TimeOut moves r to ProcessingTimedOut with the provided diagnostic.
func (r Record) TimeOut(diagnostic string) (Record, bool) {
	next, ok := r.Advance(StatusProcessingTimedOut)
	if !ok {
		return r, false
	}
	next.LastError = diagnostic
	return next, true
}

// SortNewestFirst orders records by creation time, most recent first. Ties are
// broken by id so the order is total.
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return newer(records[i], records[j])
	})
}

// SortForDisplay orders records the way they are shown: optimistic records
// the metadata service has not confirmed yet come first, and each group is
// newest first.
func SortForDisplay(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		pi, pj := records[i].Source == SourceOptimistic, records[j].Source == SourceOptimistic
		if pi != pj {
			return pi
		}
		return newer(records[i], records[j])
	})
}

func newer(a, b Record) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
