package assets

// Merge combines the authoritative record set returned by the metadata
// service with the locally known records and returns the list to show in
// display order (see SortForDisplay).
//
// Remote records replace local ones. Local optimistic records whose id is not
// present remotely are kept and placed ahead of the remote set. A remote record
// never moves a known record backwards: when the local copy already holds a
// later status (for example a poll observed completion before the listing
// caught up, or the record timed out) the local status wins.
//
// Merge does not modify its inputs and returns the same output for the same
// inputs.
func Merge(remote, local []Record) []Record {
	localByID := make(map[string]Record, len(local))
	for _, rec := range local {
		if _, seen := localByID[rec.ID]; seen {
			continue
		}
		localByID[rec.ID] = rec
	}

	confirmed := make([]Record, 0, len(remote))
	remoteIDs := make(map[string]struct{}, len(remote))
	for _, rec := range remote {
		if rec.ID == "" {
			continue
		}
		if _, dup := remoteIDs[rec.ID]; dup {
			continue
		}
		remoteIDs[rec.ID] = struct{}{}

		rec.Source = SourceConfirmed
		if prev, ok := localByID[rec.ID]; ok {
			rec = carryLocalProgress(rec, prev)
		}
		confirmed = append(confirmed, rec)
	}

	pending := make([]Record, 0)
	kept := make(map[string]struct{})
	for _, rec := range local {
		if rec.Source != SourceOptimistic {
			continue
		}
		if _, ok := remoteIDs[rec.ID]; ok {
			continue
		}
		if _, ok := kept[rec.ID]; ok {
			continue
		}
		if first := localByID[rec.ID]; first.Source != SourceOptimistic {
			continue
		}
		kept[rec.ID] = struct{}{}
		pending = append(pending, localByID[rec.ID])
	}

	out := make([]Record, 0, len(pending)+len(confirmed))
	out = append(out, pending...)
	out = append(out, confirmed...)
	SortForDisplay(out)
	return out
}

func carryLocalProgress(remote, local Record) Record {
	if local.Status == StatusDeleted {
		return remote
	}
	if local.Status.Terminal() || local.Status.rank() > remote.Status.rank() {
		remote.Status = local.Status
		remote.LastError = local.LastError
	}
	if remote.Status == StatusProcessingTimedOut {
		remote.ThumbnailURL = ""
		remote.ProcessedAt = nil
	}
	if remote.CreatedAt.IsZero() {
		remote.CreatedAt = local.CreatedAt
	}
	if remote.BlobKey == "" {
		remote.BlobKey = local.BlobKey
	}
	if remote.DerivedKey == "" {
		remote.DerivedKey = local.DerivedKey
	}
	return remote
}
