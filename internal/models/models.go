package models

import "time"

// Image is one uploaded image as stored by the metadata service.
type Image struct {
	UserID       string
	ID           string
	OriginalKey  string
	ThumbnailKey string
	OriginalName string
	ContentType  string
	Size         int64
	Width        int
	Height       int
	// Processing is true until the pipeline has published the thumbnail.
	Processing  bool
	UploadedAt  time.Time
	ProcessedAt *time.Time
	UpdatedAt   time.Time
}
