// Package api exposes the query pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/comigor/queryhub-go/internal/history"
	"github.com/comigor/queryhub-go/internal/llm"
	"github.com/comigor/queryhub-go/internal/metrics"
	"github.com/comigor/queryhub-go/internal/pipeline"
	"github.com/comigor/queryhub-go/internal/workspace"
)

// HistoryLister reads the durable history mirror.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
}

// Dependencies wires the handler to the session.
type Dependencies struct {
	Workspace      *workspace.Workspace
	Runner         *pipeline.Runner
	Ledger         *history.Ledger
	Archive        HistoryLister // optional
	Options        llm.Options
	MaxUploadBytes int64
}

type handler struct {
	deps Dependencies
}

// NewHandler returns the routed API.
func NewHandler(deps Dependencies) http.Handler {
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/datasets", h.loadDataset)
		r.Get("/schema", h.schema)
		r.Post("/query", h.query)
		r.Get("/history", h.listHistory)
		r.Get("/history/export", h.exportHistory)
	})
	return r
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	_, err := h.deps.Workspace.Schema()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"dataset_loaded": err == nil,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"context":    extra,
		"request_id": chimw.GetReqID(ctx),
	})
}
