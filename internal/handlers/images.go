package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/photoshare/backend/internal/assets"
	"github.com/photoshare/backend/internal/logging"
	"github.com/photoshare/backend/internal/metadata"
	"github.com/photoshare/backend/internal/models"
	"github.com/photoshare/backend/internal/repositories"
)

const maxIDLength = 256

// ImageHandler serves the per-user image metadata API.
type ImageHandler struct {
	Images     ImageStore
	Thumbnails ThumbnailStore
	NowFunc    func() time.Time
}

// UpsertImageRequest is the body of PUT /user/{userId}/images/{imageId}. The
// processing pipeline calls it when it starts and when it finishes.
type UpsertImageRequest struct {
	OriginalKey   string     `json:"originalKey"`
	ThumbnailKey  string     `json:"thumbnailKey"`
	OriginalName  string     `json:"originalName"`
	ContentType   string     `json:"contentType"`
	Size          int64      `json:"size"`
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	Processing    *bool      `json:"processing"`
	UploadTime    *time.Time `json:"uploadTime"`
	ProcessedTime *time.Time `json:"processedTime"`
}

func (h ImageHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc().UTC()
	}
	return time.Now().UTC()
}

// List handles GET /user/{userId}/images.
func (h ImageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := pathID(r, "userId")
	if !ok {
		respondError(ctx, w, http.StatusBadRequest, "user_id is required")
		return
	}

	images, err := h.Images.ListForUser(ctx, userID)
	if err != nil {
		logging.FromContext(ctx).Error("list images", "userId", userID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to retrieve images")
		return
	}

	views := make([]metadata.ImageView, 0, len(images))
	for _, image := range images {
		views = append(views, h.toView(image))
	}

	respondJSON(ctx, w, http.StatusOK, metadata.ListResponse{
		Images: views,
		Count:  len(views),
		UserID: userID,
	})
}

// Get handles GET /user/{userId}/images/{imageId}.
func (h ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, imageID, ok := imagePath(r)
	if !ok {
		respondError(ctx, w, http.StatusBadRequest, "user_id and image_id are required")
		return
	}

	image, err := h.Images.Find(ctx, userID, imageID)
	if errors.Is(err, repositories.ErrNotFound) {
		respondError(ctx, w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		logging.FromContext(ctx).Error("find image", "userId", userID, "imageId", imageID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to retrieve image")
		return
	}

	respondJSON(ctx, w, http.StatusOK, h.toView(image))
}

// Put handles PUT /user/{userId}/images/{imageId}.
func (h ImageHandler) Put(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, imageID, ok := imagePath(r)
	if !ok {
		respondError(ctx, w, http.StatusBadRequest, "user_id and image_id are required")
		return
	}

	var req UpsertImageRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64*1024))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Size < 0 || req.Width < 0 || req.Height < 0 {
		respondError(ctx, w, http.StatusBadRequest, "size and dimensions must not be negative")
		return
	}

	now := h.now()
	image := models.Image{
		UserID:       userID,
		ID:           imageID,
		OriginalKey:  strings.TrimSpace(req.OriginalKey),
		ThumbnailKey: strings.TrimSpace(req.ThumbnailKey),
		OriginalName: req.OriginalName,
		ContentType:  req.ContentType,
		Size:         req.Size,
		Width:        req.Width,
		Height:       req.Height,
		Processing:   req.Processing != nil && *req.Processing,
		UploadedAt:   now,
		UpdatedAt:    now,
	}
	if image.OriginalKey == "" {
		image.OriginalKey = imageID
	}
	if req.UploadTime != nil && !req.UploadTime.IsZero() {
		image.UploadedAt = req.UploadTime.UTC()
	}
	if !image.Processing {
		if image.ThumbnailKey == "" {
			image.ThumbnailKey = assets.DerivedKey(imageID)
		}
		processed := now
		if req.ProcessedTime != nil && !req.ProcessedTime.IsZero() {
			processed = req.ProcessedTime.UTC()
		}
		image.ProcessedAt = &processed
	}

	if err := h.Images.Upsert(ctx, image); err != nil {
		logging.FromContext(ctx).Error("upsert image", "userId", userID, "imageId", imageID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to store image")
		return
	}

	stored, err := h.Images.Find(ctx, userID, imageID)
	if err != nil {
		stored = image
	}
	respondJSON(ctx, w, http.StatusOK, h.toView(stored))
}

// Delete handles DELETE /user/{userId}/images/{imageId}. The thumbnail object
// is removed first on a best-effort basis, then the metadata row.
func (h ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)
	userID, imageID, ok := imagePath(r)
	if !ok {
		respondError(ctx, w, http.StatusBadRequest, "user_id and image_id are required")
		return
	}

	image, err := h.Images.Find(ctx, userID, imageID)
	if errors.Is(err, repositories.ErrNotFound) {
		respondError(ctx, w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		logger.Error("find image for delete", "userId", userID, "imageId", imageID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to delete image")
		return
	}

	if image.ThumbnailKey != "" && h.Thumbnails != nil {
		if err := h.Thumbnails.Delete(ctx, image.ThumbnailKey); err != nil {
			logger.Warn("delete thumbnail", "thumbnailKey", image.ThumbnailKey, "error", err)
		}
	}

	if err := h.Images.Delete(ctx, userID, imageID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			respondError(ctx, w, http.StatusNotFound, "image not found")
			return
		}
		logger.Error("delete image", "userId", userID, "imageId", imageID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "failed to delete image")
		return
	}

	respondJSON(ctx, w, http.StatusOK, map[string]string{
		"message": "image deleted",
		"imageId": imageID,
	})
}

func (h ImageHandler) toView(image models.Image) metadata.ImageView {
	view := metadata.ImageView{
		ID:            image.ID,
		OriginalKey:   image.OriginalKey,
		ThumbnailKey:  image.ThumbnailKey,
		OriginalName:  image.OriginalName,
		ContentType:   image.ContentType,
		Size:          image.Size,
		Width:         image.Width,
		Height:        image.Height,
		UploadTime:    image.UploadedAt,
		ProcessedTime: image.ProcessedAt,
		Processing:    image.Processing,
	}
	if image.ThumbnailKey != "" && !image.Processing && h.Thumbnails != nil {
		view.ThumbnailURL = h.Thumbnails.URL(image.ThumbnailKey)
	}
	return view
}

func pathID(r *http.Request, name string) (string, bool) {
	value := strings.TrimSpace(r.PathValue(name))
	if value == "" || len(value) > maxIDLength {
		return "", false
	}
	return value, true
}

func imagePath(r *http.Request) (string, string, bool) {
	userID, ok := pathID(r, "userId")
	if !ok {
		return "", "", false
	}
	imageID, ok := pathID(r, "imageId")
	if !ok {
		return "", "", false
	}
	return userID, imageID, true
}
