package handlers

import (
	"context"

	"github.com/photoshare/backend/internal/models"
)

// ImageStore captures the persistence operations required by the image handlers.
type ImageStore interface {
	Upsert(ctx context.Context, image models.Image) error
	ListForUser(ctx context.Context, userID string) ([]models.Image, error)
	Find(ctx context.Context, userID, id string) (models.Image, error)
	Delete(ctx context.Context, userID, id string) error
}

// ThumbnailStore removes derived objects and resolves their public URLs.
type ThumbnailStore interface {
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// Pinger reports whether the database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
