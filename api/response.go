package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/aluiziolira/go-price-watch/parser"
	"github.com/aluiziolira/go-price-watch/picker"
	"github.com/aluiziolira/go-price-watch/store"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Error describes a failed request.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Meta carries pagination details.
type Meta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	writeResponse(w, statusCode, Response{
		Success: statusCode >= 200 && statusCode < 300,
		Data:    data,
	})
}

func writePage(w http.ResponseWriter, data interface{}, page, pageSize, total int) {
	totalPages := 0
	if pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	writeResponse(w, http.StatusOK, Response{
		Success: true,
		Data:    data,
		Meta:    &Meta{Page: page, PageSize: pageSize, Total: total, TotalPages: totalPages},
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeResponse(w, statusCode, Response{
		Error: &Error{Code: code, Message: message},
	})
}

func writeResponse(w http.ResponseWriter, statusCode int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// writeDomainError maps package errors onto status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var verr *parser.ValidationError
	switch {
	case errors.As(err, &verr):
		writeResponse(w, http.StatusUnprocessableEntity, Response{
			Error: &Error{Code: "VALIDATION_ERROR", Message: verr.Message, Field: verr.Field},
		})
	case errors.Is(err, picker.ErrMalformedMessage):
		writeError(w, http.StatusBadRequest, "MALFORMED_MESSAGE", err.Error())
	case errors.Is(err, picker.ErrInvalidTarget):
		writeError(w, http.StatusBadRequest, "INVALID_TARGET", err.Error())
	case errors.Is(err, picker.ErrPriceMissing):
		writeError(w, http.StatusUnprocessableEntity, "PRICE_MISSING", err.Error())
	case errors.Is(err, picker.ErrInboxFull):
		writeError(w, http.StatusTooManyRequests, "INBOX_FULL", err.Error())
	case errors.Is(err, picker.ErrSessionClosed):
		writeError(w, http.StatusGone, "SESSION_CLOSED", err.Error())
	case errors.Is(err, picker.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "item not found")
	case errors.Is(err, store.ErrInvalidFrequency):
		writeError(w, http.StatusBadRequest, "INVALID_FREQUENCY", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR", err.Error())
	}
}
