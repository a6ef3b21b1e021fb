package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/comigor/queryhub-go/internal/dataset"
	"github.com/comigor/queryhub-go/internal/pipeline"
	"github.com/comigor/queryhub-go/internal/workspace"
)

// multipart framing allowance on top of the dataset ceiling
const uploadOverhead = 1 << 20

func (h *handler) loadDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes+uploadOverhead)

	name := r.URL.Query().Get("name")
	var body io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if strings.HasPrefix(mediaType, "multipart/") {
		file, header, err := r.FormFile("file")
		if err != nil {
			h.datasetError(w, r, err)
			return
		}
		defer file.Close()
		body = file
		if name == "" {
			name = header.Filename
		}
	}
	if name == "" {
		name = "upload.csv"
	}

	schema, err := h.deps.Workspace.Load(r.Context(), name, body)
	if err != nil {
		h.datasetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"name":   name,
		"schema": schema,
	})
}

func (h *handler) datasetError(w http.ResponseWriter, r *http.Request, err error) {
	failure := pipeline.DatasetLoadFailure(err)
	extra := map[string]any{"kind": failure.Kind, "details": err.Error()}

	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, dataset.ErrTooLarge), errors.As(err, &maxBytes):
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "DATASET_TOO_LARGE", "dataset exceeds the configured size limit", extra)
	case errors.Is(err, dataset.ErrMalformed), errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		writeError(r.Context(), w, http.StatusBadRequest, "DATASET_MALFORMED", "dataset could not be parsed", extra)
	case errors.Is(err, workspace.ErrClosed):
		writeError(r.Context(), w, http.StatusServiceUnavailable, "SESSION_CLOSED", "session is shutting down", extra)
	default:
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_LOAD_FAILED", "dataset could not be loaded", extra)
	}
}

func (h *handler) schema(w http.ResponseWriter, r *http.Request) {
	schema, err := h.deps.Workspace.Schema()
	if err != nil {
		writeError(r.Context(), w, http.StatusNotFound, "NO_DATASET", "no dataset is loaded", nil)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}
