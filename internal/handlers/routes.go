package handlers

import "net/http"

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{DB: deps.DB}
	images := ImageHandler{Images: deps.Images, Thumbnails: deps.Thumbnails}

	mux.HandleFunc("GET /healthz", health.Handle)
	mux.HandleFunc("GET /user/{userId}/images", images.List)
	mux.HandleFunc("GET /user/{userId}/images/{imageId}", images.Get)
	mux.HandleFunc("PUT /user/{userId}/images/{imageId}", images.Put)
	mux.HandleFunc("DELETE /user/{userId}/images/{imageId}", images.Delete)
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics)
	}
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Images     ImageStore
	Thumbnails ThumbnailStore
	DB         Pinger
	Metrics    http.Handler
}
