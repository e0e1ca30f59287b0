package repositories

import (
	"context"

	"github.com/photoshare/backend/internal/models"
)

// ImageRepository exposes data access for image metadata.
type ImageRepository interface {
	Upsert(ctx context.Context, image models.Image) error
	ListForUser(ctx context.Context, userID string) ([]models.Image, error)
	Find(ctx context.Context, userID, id string) (models.Image, error)
	Delete(ctx context.Context, userID, id string) error
}
