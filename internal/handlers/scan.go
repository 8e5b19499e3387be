package handlers

import (
	"net/http"
	"strconv"

	"photo-indexer/internal/pipeline"
)

// ScanResponse acknowledges a scan request.
type ScanResponse struct {
	Status string        `json:"status"`
	RunID  string        `json:"runId,omitempty"`
	Kind   pipeline.Kind `json:"kind,omitempty"`
}

// StartScan starts a library scan, or a full scan with ?full=true. A request
// while a run is active is refused, never queued.
func (h *Handlers) StartScan(w http.ResponseWriter, r *http.Request) {
	kind := pipeline.LibraryScan
	if raw := r.URL.Query().Get("full"); raw != "" {
		full, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, "Invalid full parameter", http.StatusBadRequest)
			return
		}
		if full {
			kind = pipeline.FullScan
		}
	}

	runID, started := h.pipeline.Start(kind)
	if !started {
		writeJSONStatusCode(w, ScanResponse{Status: "already_running"}, http.StatusConflict)
		return
	}
	log.Info("Scan %s (%s) requested", runID, kind)
	writeJSONStatusCode(w, ScanResponse{Status: "started", RunID: runID, Kind: kind}, http.StatusAccepted)
}

// CancelScan cancels the active run.
func (h *Handlers) CancelScan(w http.ResponseWriter, _ *http.Request) {
	if !h.pipeline.Cancel() {
		writeJSONStatusCode(w, ScanResponse{Status: "idle"}, http.StatusConflict)
		return
	}
	writeJSONStatus(w, "cancelling")
}

// ScanStatus returns the latest pipeline snapshot.
func (h *Handlers) ScanStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, h.pipeline.Status())
}
