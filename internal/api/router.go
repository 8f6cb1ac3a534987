package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ankiport/internal/importservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
// maxUpload bounds the size of an uploaded package in bytes.
func NewRouter(svc *importservice.Service, authEnabled bool, token string, sseHandler http.Handler, maxUpload int64) chi.Router {
	h := NewHandler(svc, maxUpload)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Imports.
	r.Post("/imports", h.Upload)
	r.Get("/imports", h.ListImports)
	r.Get("/imports/{id}", h.GetImport)

	// Collection.
	r.Get("/collection/stats", h.Stats)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
