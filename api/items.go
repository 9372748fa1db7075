package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/aluiziolira/go-price-watch/models"
	"github.com/aluiziolira/go-price-watch/notify"
	"github.com/aluiziolira/go-price-watch/store"
	"github.com/go-chi/chi/v5"
)

const maxPageSize = 100

// GET /items?page=&page_size=
// Pages are one based.
func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	page := 1
	pageSize := store.DefaultPageSize
	if v := r.URL.Query().Get("page"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			page = n
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= maxPageSize {
			pageSize = n
		}
	}

	items, total := s.store.Page(r.Context(), page-1, pageSize)
	if items == nil {
		items = []models.TrackedItem{}
	}
	writePage(w, items, page, pageSize, total)
}

// GET /items/{id}
func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DELETE /items/{id} marks the item inactive.
func (s *Server) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /items/{id}/refresh checks one item now.
func (s *Server) refreshItem(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "monitor not running")
		return
	}
	item, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	result, err := s.checker.CheckItems(r.Context(), []models.TrackedItem{item})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if s.notifier != nil {
		n := notify.New("Item Refreshed", "Tracked item has been refreshed.")
		if err := s.notifier.Notify(r.Context(), n); err != nil {
			s.logger.Warn("refresh notification failed", slog.String("item_id", item.ID), slog.Any("error", err))
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"itemId":    item.ID,
		"checked":   result.Checked,
		"changed":   result.Changed,
		"unchanged": result.Unchanged,
		"noMatch":   result.NoMatch,
		"errors":    result.ErrorCount,
	})
}
