package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/photoshare/backend/internal/db"
	"github.com/photoshare/backend/internal/models"
)

const listLimit = 1000

// PostgresImageRepository provides PostgreSQL-backed persistence for image metadata.
type PostgresImageRepository struct {
	pool db.Pool
}

// NewPostgresImageRepository constructs an image repository backed by PostgreSQL.
func NewPostgresImageRepository(pool db.Pool) *PostgresImageRepository {
	return &PostgresImageRepository{pool: pool}
}

// Upsert inserts an image or updates the existing row with the same user and id.
// The upload time of an existing row is never changed.
func (r *PostgresImageRepository) Upsert(ctx context.Context, image models.Image) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	updatedAt := image.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = conn.Exec(ctx, `
        INSERT INTO images (user_id, id, original_key, thumbnail_key, original_name, content_type, size_bytes, width, height, processing, uploaded_at, processed_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
        ON CONFLICT (user_id, id) DO UPDATE SET
            original_key = EXCLUDED.original_key,
            thumbnail_key = EXCLUDED.thumbnail_key,
            original_name = EXCLUDED.original_name,
            content_type = EXCLUDED.content_type,
            size_bytes = EXCLUDED.size_bytes,
            width = EXCLUDED.width,
            height = EXCLUDED.height,
            processing = EXCLUDED.processing,
            processed_at = EXCLUDED.processed_at,
            updated_at = EXCLUDED.updated_at
    `, image.UserID, image.ID, image.OriginalKey, image.ThumbnailKey, image.OriginalName, image.ContentType,
		image.Size, image.Width, image.Height, image.Processing, image.UploadedAt, image.ProcessedAt, updatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("upsert image: %w", err)
	}

	return nil
}

// ListForUser returns the user's images, newest first.
func (r *PostgresImageRepository) ListForUser(ctx context.Context, userID string) ([]models.Image, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	rows, err := conn.Query(ctx, `
        SELECT user_id, id, original_key, thumbnail_key, original_name, content_type, size_bytes, width, height, processing, uploaded_at, processed_at, updated_at
        FROM images
        WHERE user_id = $1
        ORDER BY uploaded_at DESC, id DESC
        LIMIT $2
    `, userID, listLimit)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	images := make([]models.Image, 0)
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		images = append(images, image)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w", err)
	}

	return images, nil
}

// Find fetches a single image.
func (r *PostgresImageRepository) Find(ctx context.Context, userID, id string) (models.Image, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Image{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	row := conn.QueryRow(ctx, `
        SELECT user_id, id, original_key, thumbnail_key, original_name, content_type, size_bytes, width, height, processing, uploaded_at, processed_at, updated_at
        FROM images
        WHERE user_id = $1 AND id = $2
    `, userID, id)

	image, err := scanImage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Image{}, ErrNotFound
		}
		return models.Image{}, fmt.Errorf("select image: %w", err)
	}

	return image, nil
}

// Delete removes an image row.
func (r *PostgresImageRepository) Delete(ctx context.Context, userID, id string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM images WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return fmt.Errorf("delete image: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

func scanImage(row pgx.Row) (models.Image, error) {
	var (
		image       models.Image
		processedAt sql.NullTime
	)
	if err := row.Scan(&image.UserID, &image.ID, &image.OriginalKey, &image.ThumbnailKey, &image.OriginalName, &image.ContentType,
		&image.Size, &image.Width, &image.Height, &image.Processing, &image.UploadedAt, &processedAt, &image.UpdatedAt); err != nil {
		return models.Image{}, err
	}

	image.UploadedAt = image.UploadedAt.UTC()
	image.UpdatedAt = image.UpdatedAt.UTC()
	if processedAt.Valid {
		t := processedAt.Time.UTC()
		image.ProcessedAt = &t
	}
	return image, nil
}

var _ ImageRepository = (*PostgresImageRepository)(nil)
