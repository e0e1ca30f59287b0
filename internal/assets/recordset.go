package assets

// RecordSet is the in-memory record set owned by one user session. Records are
// indexed by id and every mutation bumps a version counter so that writers of
// derived state (the local cache) can tell stale snapshots from fresh ones.
//
// Deleted ids are kept as tombstones for the lifetime of the set: they are
// absent from List but every later operation on them is refused.
//
// RecordSet is not safe for concurrent use; callers serialize access.
type RecordSet struct {
	records    map[string]Record
	tombstones map[string]struct{}
	version    uint64
}

// NewRecordSet returns an empty record set.
func NewRecordSet() *RecordSet {
	return &RecordSet{
		records:    make(map[string]Record),
		tombstones: make(map[string]struct{}),
	}
}

// Version returns the mutation counter.
func (s *RecordSet) Version() uint64 {
	return s.version
}

// Len returns the number of visible records.
func (s *RecordSet) Len() int {
	return len(s.records)
}

// Get returns the visible record for id.
func (s *RecordSet) Get(id string) (Record, bool) {
	rec, ok := s.records[id]
	return rec, ok
}

// Status returns the current status for id, reporting StatusDeleted for
// tombstoned ids. The second result is false when the id was never seen.
func (s *RecordSet) Status(id string) (Status, bool) {
	if _, ok := s.tombstones[id]; ok {
		return StatusDeleted, true
	}
	rec, ok := s.records[id]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// Deleted reports whether id has been tombstoned.
func (s *RecordSet) Deleted(id string) bool {
	_, ok := s.tombstones[id]
	return ok
}

// Insert adds a new record. It fails with ErrDuplicateID when the id is already
// visible or was deleted earlier in the session.
func (s *RecordSet) Insert(rec Record) error {
	if _, ok := s.records[rec.ID]; ok {
		return ErrDuplicateID
	}
	if _, ok := s.tombstones[rec.ID]; ok {
		return ErrDuplicateID
	}
	s.records[rec.ID] = rec
	s.version++
	return nil
}

// Update applies fn to the visible record for id. fn reports whether it
// changed the record; the version only moves when it did.
func (s *RecordSet) Update(id string, fn func(Record) (Record, bool)) (Record, bool) {
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	next, changed := fn(rec)
	if !changed {
		return rec, false
	}
	next.ID = rec.ID
	next.CreatedAt = rec.CreatedAt
	s.records[id] = next
	s.version++
	return next, true
}

// Discard drops a record without leaving a tombstone. It is used to roll back
// submissions that never reached the blob store.
func (s *RecordSet) Discard(id string) {
	if _, ok := s.records[id]; !ok {
		return
	}
	delete(s.records, id)
	s.version++
}

// Delete tombstones id and removes it from the visible set. It returns the
// removed record and whether the id was visible.
func (s *RecordSet) Delete(id string) (Record, bool) {
	if _, ok := s.tombstones[id]; ok {
		return Record{}, false
	}
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	delete(s.records, id)
	s.tombstones[id] = struct{}{}
	s.version++
	rec.Status = StatusDeleted
	return rec, true
}

// Replace swaps the visible set for records. Tombstoned ids are skipped and
// the first record wins when ids repeat.
func (s *RecordSet) Replace(records []Record) {
	next := make(map[string]Record, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if _, ok := s.tombstones[rec.ID]; ok {
			continue
		}
		if _, ok := next[rec.ID]; ok {
			continue
		}
		next[rec.ID] = rec
	}
	s.records = next
	s.version++
}

// List returns the visible records in display order.
func (s *RecordSet) List() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	SortForDisplay(out)
	return out
}

// Durable returns the records that belong in the local cache: every visible
// record except those whose bytes are still in transit.
func (s *RecordSet) Durable() []Record {
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Status == StatusUploading {
			continue
		}
		out = append(out, rec)
	}
	SortForDisplay(out)
	return out
}
