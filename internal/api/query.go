package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/comigor/queryhub-go/internal/llm"
	"github.com/comigor/queryhub-go/internal/logger"
	"github.com/comigor/queryhub-go/internal/pipeline"
	"github.com/comigor/queryhub-go/internal/workspace"
)

type queryRequest struct {
	Question string         `json:"question"`
	Options  map[string]any `json:"options"`
}

// query answers with the logged Outcome. Pipeline failures are part of the
// outcome and still return 200.
func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	var request queryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid query request body", map[string]any{"details": err.Error()})
		return
	}

	var opts *llm.Options
	if request.Options != nil {
		parsed, err := llm.ParseOptions(request.Options, h.deps.Options)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_OPTIONS", "invalid generation options", map[string]any{"details": err.Error()})
			return
		}
		opts = &parsed
	}

	outcome, err := h.deps.Runner.Run(r.Context(), request.Question, opts)
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuestion):
		writeError(r.Context(), w, http.StatusBadRequest, "QUESTION_REQUIRED", "question is required", nil)
	case errors.Is(err, workspace.ErrNoDataset):
		writeError(r.Context(), w, http.StatusConflict, "NO_DATASET", "load a dataset before asking questions", nil)
	case err != nil && outcome == nil:
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
	case err != nil:
		logger.L.Error("pipeline fault", "request_id", outcome.RequestID, "error", err)
		writeJSON(w, http.StatusInternalServerError, outcome)
	default:
		writeJSON(w, http.StatusOK, outcome)
	}
}
