package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/aluiziolira/go-price-watch/picker"
	"github.com/go-chi/chi/v5"
)

type openSessionRequest struct {
	URL  string `json:"url"`
	Link string `json:"link"`
}

type selectFieldRequest struct {
	Field string `json:"field"`
}

// GET /open?url= is the deep link entry point.
func (s *Server) openDeepLink(w http.ResponseWriter, r *http.Request) {
	target, err := picker.ParseDeepLink(r.URL.String())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.startSession(w, r, target)
}

// POST /sessions
func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	target := req.URL
	if req.Link != "" {
		parsed, err := picker.ParseDeepLink(req.Link)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		target = parsed
	}
	if target == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "url or link required")
		return
	}
	s.startSession(w, r, target)
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request, target string) {
	sess, err := s.sessions.Open(target)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	w.Header().Set("Location", "/sessions/"+sess.ID())
	writeJSON(w, http.StatusCreated, snap)
}

// GET /sessions/{id}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	snap, err := sess.Snapshot(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// DELETE /sessions/{id} discards the draft.
func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /sessions/{id}/messages takes the raw descriptor posted by the page.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "MESSAGE_TOO_LARGE", err.Error())
		return
	}
	snap, err := sess.Submit(r.Context(), payload)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// PUT /sessions/{id}/field
func (s *Server) selectField(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var req selectFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	field, err := picker.ParseField(req.Field)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	snap, err := sess.Select(r.Context(), field)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// POST /sessions/{id}/save
func (s *Server) saveSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	item, err := sess.Save(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}
