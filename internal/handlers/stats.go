package handlers

import (
	"net/http"

	"photo-indexer/internal/metrics"
	"photo-indexer/internal/pipeline"
)

// StatsResponse combines library counts with the pipeline snapshot.
type StatsResponse struct {
	metrics.LibraryStats
	Pipeline pipeline.Status `json:"pipeline"`
}

// GetStats returns library statistics.
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.LibraryStats(r.Context())
	if err != nil {
		log.Error("Failed to load stats: %v", err)
		writeJSONError(w, "Failed to load stats", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, StatsResponse{LibraryStats: stats, Pipeline: h.pipeline.Status()})
}
