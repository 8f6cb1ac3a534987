package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/ankiport/internal/apperr"
	"github.com/starford/ankiport/internal/importservice"
	"github.com/starford/ankiport/internal/jobs"
)

// Handler holds API route handlers.
type Handler struct {
	svc       *importservice.Service
	maxUpload int64
}

// NewHandler creates a new Handler.
func NewHandler(svc *importservice.Service, maxUpload int64) *Handler {
	if maxUpload <= 0 {
		maxUpload = 512 << 20
	}
	return &Handler{svc: svc, maxUpload: maxUpload}
}

// Upload handles POST /api/imports (multipart/form-data, field "file").
//
//	@Summary		Upload a package or collection and queue it for import
//	@Tags			imports
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	".apkg, .colpkg or .anki2 file"
//	@Success		202		{object}	Job
//	@Failure		400		{object}	errResponse
//	@Failure		503		{object}	errResponse
//	@Failure		507		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/imports [post]
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)

	mr, err := r.MultipartReader()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid multipart body"))
		return
	}
	for {
		part, err := mr.NextPart()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("file too large"))
				return
			}
			writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
			return
		}
		if part.FormName() != "file" {
			part.Close()
			continue
		}

		job, err := h.svc.Upload(r.Context(), part.FileName(), part)
		part.Close()
		if err != nil {
			writeUploadError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, job)
		return
	}
}

func writeUploadError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, jobs.ErrUnsupported):
		writeJSON(w, http.StatusBadRequest, errorBody("expected an .apkg, .colpkg or .anki2 file"))
	case errors.Is(err, jobs.ErrQueueFull):
		writeJSON(w, http.StatusServiceUnavailable, errorBody("import queue is full"))
	case errors.Is(err, apperr.ErrNoSpace):
		writeJSON(w, http.StatusInsufficientStorage, errorBody("no space left on device"))
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("file too large"))
	default:
		writeInternal(w, r, err)
	}
}

// ListImports handles GET /api/imports.
//
//	@Summary		List import jobs, newest first
//	@Tags			imports
//	@Produce		json
//	@Success		200	{object}	JobListResponse
//	@Security		BearerAuth
//	@Router			/imports [get]
func (h *Handler) ListImports(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, JobListResponse{Jobs: h.svc.Jobs()})
}

// GetImport handles GET /api/imports/{id}.
//
//	@Summary		Get one import job with its result and log
//	@Tags			imports
//	@Produce		json
//	@Param			id	path		string	true	"Job id"
//	@Success		200	{object}	Job
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/imports/{id} [get]
func (h *Handler) GetImport(w http.ResponseWriter, r *http.Request) {
	job, err := h.svc.Job(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
			return
		}
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Stats handles GET /api/collection/stats.
//
//	@Summary		Collection counters, read between imports
//	@Tags			collection
//	@Produce		json
//	@Success		200	{object}	StatsResponse
//	@Security		BearerAuth
//	@Router			/collection/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Stats(r.Context())
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
