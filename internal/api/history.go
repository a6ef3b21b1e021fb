package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/comigor/queryhub-go/internal/history"
	"github.com/comigor/queryhub-go/internal/logger"
)

type historyEntry struct {
	history.Entry
	DurationMs int64 `json:"duration_ms"`
}

func toView(entries []history.Entry) []historyEntry {
	out := make([]historyEntry, len(entries))
	for i, e := range entries {
		out[i] = historyEntry{Entry: e, DurationMs: e.DurationMs()}
	}
	return out
}

// listHistory serves the in-memory ledger, or the durable mirror with
// ?source=archive.
func (h *handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("source") == "archive" {
		if h.deps.Archive == nil {
			writeError(r.Context(), w, http.StatusNotFound, "ARCHIVE_DISABLED", "no history database is configured", nil)
			return
		}
		limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
		if err != nil {
			limit = 100
		}
		entries, err := h.deps.Archive.List(r.Context(), limit)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "ARCHIVE_READ_FAILED", "failed to read history database", map[string]any{"details": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": toView(entries)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": toView(h.deps.Ledger.Snapshot()),
		"evicted": h.deps.Ledger.Evicted(),
	})
}

func (h *handler) exportHistory(w http.ResponseWriter, r *http.Request) {
	name := history.ExportFileName(time.Now())
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	if err := h.deps.Ledger.WriteCSV(w); err != nil {
		logger.L.Error("history export failed", "error", err)
	}
}
