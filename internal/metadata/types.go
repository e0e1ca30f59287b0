// Package metadata holds the wire types of the image metadata service and an
// HTTP client for it.
package metadata

import (
	"time"

	"github.com/photoshare/backend/internal/assets"
)

// ImageView is the JSON representation of one image served by the metadata
// service.
type ImageView struct {
	ID            string     `json:"id"`
	OriginalKey   string     `json:"originalKey"`
	ThumbnailKey  string     `json:"thumbnailKey"`
	ThumbnailURL  string     `json:"thumbnailUrl,omitempty"`
	OriginalName  string     `json:"originalName"`
	ContentType   string     `json:"contentType,omitempty"`
	Size          int64      `json:"size"`
	Width         int        `json:"width,omitempty"`
	Height        int        `json:"height,omitempty"`
	UploadTime    time.Time  `json:"uploadTime"`
	ProcessedTime *time.Time `json:"processedTime,omitempty"`
	Processing    bool       `json:"processing"`
}

// ListResponse is returned by GET /user/{userId}/images.
type ListResponse struct {
	Images []ImageView `json:"images"`
	Count  int         `json:"count"`
	UserID string      `json:"user_id"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ToRecord converts the view into a confirmed asset record. An image the
// service still marks as processing, or one without a thumbnail, is reported
// as StatusProcessing; everything else is ready.
func (v ImageView) ToRecord() assets.Record {
	status := assets.StatusReady
	if v.Processing || v.ThumbnailKey == "" {
		status = assets.StatusProcessing
	}

	blobKey := v.OriginalKey
	if blobKey == "" {
		blobKey = v.ID
	}
	derivedKey := v.ThumbnailKey
	if derivedKey == "" {
		derivedKey = assets.DerivedKey(v.ID)
	}

	rec := assets.Record{
		ID:           v.ID,
		BlobKey:      blobKey,
		DerivedKey:   derivedKey,
		Status:       status,
		OriginalName: v.OriginalName,
		ContentType:  v.ContentType,
		SizeBytes:    v.Size,
		CreatedAt:    v.UploadTime.UTC(),
		Source:       assets.SourceConfirmed,
		ThumbnailURL: v.ThumbnailURL,
	}
	if v.ProcessedTime != nil {
		processed := v.ProcessedTime.UTC()
		rec.ProcessedAt = &processed
	}
	return rec
}
