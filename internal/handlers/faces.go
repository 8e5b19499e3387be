package handlers

import (
	"net/http"

	"photo-indexer/internal/database"
)

// NextFaceResponse carries the next face to review. Face is null when the
// queue is exhausted for the session.
type NextFaceResponse struct {
	Session string         `json:"session"`
	Face    *database.Face `json:"face"`
	Skipped int            `json:"skipped"`
}

// IdentifyRequest names a face.
type IdentifyRequest struct {
	Name string `json:"name"`
}

// NextFace returns the oldest pending face not skipped in the session given
// by ?session=. A missing or expired session starts a new one.
func (h *Handlers) NextFace(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Get(r.URL.Query().Get("session"))
	face, err := s.Next(r.Context())
	if err != nil {
		writeIdentityError(w, "next face", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, NextFaceResponse{Session: s.ID, Face: face, Skipped: s.Skipped()})
}

// IdentifyFace assigns a face to the person with the given name, creating
// the person when needed.
func (h *Handlers) IdentifyFace(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req IdentifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	person, err := h.people.Identify(r.Context(), id, req.Name)
	if err != nil {
		writeIdentityError(w, "identify face", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, person)
}

// SkipFace hides a face for the rest of the session given by ?session=.
func (h *Handlers) SkipFace(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s := h.sessions.Get(r.URL.Query().Get("session"))
	s.Skip(id)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]interface{}{"status": "skipped", "session": s.ID, "skipped": s.Skipped()})
}

// IgnoreFace marks a face as not a person.
func (h *Handlers) IgnoreFace(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.people.MarkIgnored(r.Context(), id); err != nil {
		writeIdentityError(w, "ignore face", err)
		return
	}
	writeJSONStatus(w, "ignored")
}
