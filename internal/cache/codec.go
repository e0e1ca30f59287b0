// Package cache persists a user's last known asset records between sessions.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/photoshare/backend/internal/assets"
)

const formatVersion = 1

// ErrCorrupt indicates the cached document could not be decoded.
var ErrCorrupt = errors.New("cache document is corrupt")

type document struct {
	Version int                      `json:"version"`
	Records map[string]assets.Record `json:"records"`
}

func encode(records []assets.Record) ([]byte, error) {
	doc := document{Version: formatVersion, Records: make(map[string]assets.Record, len(records))}
	for _, rec := range records {
		if rec.ID == "" || rec.Status == assets.StatusUploading || rec.Status == assets.StatusDeleted {
			continue
		}
		doc.Records[rec.ID] = rec
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode cache document: %w", err)
	}
	return data, nil
}

func decode(data []byte) ([]assets.Record, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if doc.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, doc.Version)
	}

	out := make([]assets.Record, 0, len(doc.Records))
	for id, rec := range doc.Records {
		rec.ID = id
		out = append(out, rec)
	}
	assets.SortForDisplay(out)
	return out, nil
}
