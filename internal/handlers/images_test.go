package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/photoshare/backend/internal/metadata"
	"github.com/photoshare/backend/internal/models"
	"github.com/photoshare/backend/internal/repositories"
)

type imageStoreStub struct {
	mu      sync.Mutex
	images  map[string]models.Image
	listErr error
}

func newImageStoreStub(images ...models.Image) *imageStoreStub {
	stub := &imageStoreStub{images: make(map[string]models.Image)}
	for _, image := range images {
		stub.images[image.UserID+"/"+image.ID] = image
	}
	return stub
}

func (s *imageStoreStub) Upsert(_ context.Context, image models.Image) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.images[image.UserID+"/"+image.ID]; ok {
		image.UploadedAt = existing.UploadedAt
	}
	s.images[image.UserID+"/"+image.ID] = image
	return nil
}

func (s *imageStoreStub) ListForUser(_ context.Context, userID string) ([]models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []models.Image
	for _, image := range s.images {
		if image.UserID == userID {
			out = append(out, image)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

func (s *imageStoreStub) Find(_ context.Context, userID, id string) (models.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	image, ok := s.images[userID+"/"+id]
	if !ok {
		return models.Image{}, repositories.ErrNotFound
	}
	return image, nil
}

func (s *imageStoreStub) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.images[userID+"/"+id]; !ok {
		return repositories.ErrNotFound
	}
	delete(s.images, userID+"/"+id)
	return nil
}

type thumbnailStub struct {
	deleted []string
	err     error
}

func (t *thumbnailStub) Delete(_ context.Context, key string) error {
	t.deleted = append(t.deleted, key)
	return t.err
}

func (t *thumbnailStub) URL(key string) string {
	return "https://cdn.example.com/" + key
}

func newImageMux(store ImageStore, thumbs ThumbnailStore) *http.ServeMux {
	mux := http.NewServeMux()
	RegisterRoutes(mux, Dependencies{Images: store, Thumbnails: thumbs})
	return mux
}

func TestImageHandlerListReturnsNewestFirst(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	processed := now.Add(time.Minute)
	store := newImageStoreStub(
		models.Image{UserID: "user-1", ID: "old.png", ThumbnailKey: "thumb-old.png", UploadedAt: now.Add(-time.Hour), ProcessedAt: &processed},
		models.Image{UserID: "user-1", ID: "new.png", Processing: true, UploadedAt: now},
		models.Image{UserID: "user-2", ID: "other.png", UploadedAt: now},
	)

	rec := httptest.NewRecorder()
	newImageMux(store, &thumbnailStub{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/user-1/images", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}

	var resp metadata.ListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Count != 2 || resp.UserID != "user-1" {
		t.Fatalf("unexpected response envelope: %+v", resp)
	}
	if resp.Images[0].ID != "new.png" || !resp.Images[0].Processing || resp.Images[0].ThumbnailURL != "" {
		t.Fatalf("unexpected first image: %+v", resp.Images[0])
	}
	if resp.Images[1].ThumbnailURL != "https://cdn.example.com/thumb-old.png" {
		t.Fatalf("expected thumbnail url for processed image, got %+v", resp.Images[1])
	}
}

func TestImageHandlerListFailure(t *testing.T) {
	store := newImageStoreStub()
	store.listErr = errors.New("db down")

	rec := httptest.NewRecorder()
	newImageMux(store, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/user-1/images", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500 got %d", rec.Code)
	}
	var resp metadata.ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil || resp.Error == "" {
		t.Fatalf("expected error body, got %q (%v)", rec.Body.String(), err)
	}
}

func TestImageHandlerGetMissing(t *testing.T) {
	rec := httptest.NewRecorder()
	newImageMux(newImageStoreStub(), nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/user/user-1/images/none.png", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 got %d", rec.Code)
	}
}

func TestImageHandlerPutCompletesProcessing(t *testing.T) {
	uploaded := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newImageStoreStub(models.Image{
		UserID: "user-1", ID: "a.png", OriginalKey: "a.png", Processing: true, UploadedAt: uploaded,
	})
	now := uploaded.Add(5 * time.Second)
	handler := ImageHandler{Images: store, Thumbnails: &thumbnailStub{}, NowFunc: func() time.Time { return now }}

	body := `{"originalName":"a.png","contentType":"image/png","size":1024,"width":640,"height":480,"processing":false}`
	req := httptest.NewRequest(http.MethodPut, "/user/user-1/images/a.png", strings.NewReader(body))
	req.SetPathValue("userId", "user-1")
	req.SetPathValue("imageId", "a.png")
	rec := httptest.NewRecorder()

	handler.Put(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d: %s", rec.Code, rec.Body.String())
	}
	var view metadata.ImageView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Processing || view.ThumbnailKey != "thumb-a.png" {
		t.Fatalf("expected processed image with derived key, got %+v", view)
	}
	if view.ProcessedTime == nil || !view.ProcessedTime.Equal(now) {
		t.Fatalf("expected processed time %v got %v", now, view.ProcessedTime)
	}
	if !view.UploadTime.Equal(uploaded) {
		t.Fatalf("expected upload time to be preserved, got %v", view.UploadTime)
	}
	if view.ThumbnailURL != "https://cdn.example.com/thumb-a.png" {
		t.Fatalf("unexpected thumbnail url %q", view.ThumbnailURL)
	}
}

func TestImageHandlerPutRejectsInvalidBody(t *testing.T) {
	for name, body := range map[string]string{
		"malformed":     `{`,
		"unknown field": `{"colour":"red"}`,
		"negative size": `{"size":-1}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPut, "/user/user-1/images/a.png", strings.NewReader(body))
			newImageMux(newImageStoreStub(), nil).ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400 got %d", rec.Code)
			}
		})
	}
}

func TestImageHandlerDeleteRemovesThumbnailAndRow(t *testing.T) {
	store := newImageStoreStub(models.Image{UserID: "user-1", ID: "a.png", ThumbnailKey: "thumb-a.png"})
	thumbs := &thumbnailStub{err: errors.New("bucket unavailable")}
	mux := newImageMux(store, thumbs)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/user/user-1/images/a.png", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200 got %d", rec.Code)
	}
	if len(thumbs.deleted) != 1 || thumbs.deleted[0] != "thumb-a.png" {
		t.Fatalf("expected thumbnail delete attempt, got %v", thumbs.deleted)
	}
	if _, err := store.Find(context.Background(), "user-1", "a.png"); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected row to be removed, got %v", err)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/user/user-1/images/a.png", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 on second delete got %d", rec.Code)
	}
}
