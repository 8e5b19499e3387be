package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"photo-indexer/internal/faults"
	"photo-indexer/internal/identity"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 64 << 10

// writeJSON encodes v as JSON and writes it to the response writer.
// Encoding errors are logged since the status line is already out.
func writeJSON(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode JSON response: %v", err)
	}
}

// writeJSONStatusCode writes v with the given status code.
func writeJSONStatusCode(w http.ResponseWriter, v interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	writeJSON(w, v)
}

// writeJSONError writes an error response as JSON with the given status code.
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONStatusCode(w, map[string]string{"error": message}, statusCode)
}

// writeJSONStatus writes a simple status response as JSON.
func writeJSONStatus(w http.ResponseWriter, status string) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": status})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// pathID parses the {id} route variable.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeIdentityError maps identity errors onto status codes.
func writeIdentityError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, faults.ErrNotFound):
		writeJSONError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, identity.ErrEmptyName), errors.Is(err, identity.ErrSamePerson):
		writeJSONError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, identity.ErrNameTaken):
		writeJSONError(w, err.Error(), http.StatusConflict)
	case faults.Retryable(err):
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, "Database busy, try again", http.StatusServiceUnavailable)
	default:
		log.Error("%s failed: %v", op, err)
		writeJSONError(w, "Internal error", http.StatusInternalServerError)
	}
}
