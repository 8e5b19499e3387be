package handlers

import (
	"net/http"

	"photo-indexer/internal/database"
)

// MergeRequest folds Absorbed into Keep.
type MergeRequest struct {
	Keep     int64 `json:"keep"`
	Absorbed int64 `json:"absorbed"`
}

// RenameRequest sets a person's name.
type RenameRequest struct {
	Name string `json:"name"`
}

// ListPersons returns every person ordered by photo count.
func (h *Handlers) ListPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.people.ListPersons(r.Context())
	if err != nil {
		writeIdentityError(w, "list persons", err)
		return
	}
	if persons == nil {
		persons = []database.Person{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, persons)
}

// MergePersons moves every face of one person onto another and deletes the
// absorbed person.
func (h *Handlers) MergePersons(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Keep <= 0 || req.Absorbed <= 0 {
		writeJSONError(w, "keep and absorbed are required", http.StatusBadRequest)
		return
	}
	if err := h.people.MergePersons(r.Context(), req.Keep, req.Absorbed); err != nil {
		writeIdentityError(w, "merge persons", err)
		return
	}
	writeJSONStatus(w, "merged")
}

// DeletePerson deletes a person; its faces return to the review queue.
func (h *Handlers) DeletePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.people.DeletePerson(r.Context(), id); err != nil {
		writeIdentityError(w, "delete person", err)
		return
	}
	writeJSONStatus(w, "deleted")
}

// PrunePersons deletes every person without faces.
func (h *Handlers) PrunePersons(w http.ResponseWriter, r *http.Request) {
	n, err := h.people.DeleteEmpty(r.Context())
	if err != nil {
		writeIdentityError(w, "prune persons", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]int{"deleted": n})
}

// RenamePerson sets a person's display name.
func (h *Handlers) RenamePerson(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req RenameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.people.RenamePerson(r.Context(), id, req.Name); err != nil {
		writeIdentityError(w, "rename person", err)
		return
	}
	writeJSONStatus(w, "renamed")
}
