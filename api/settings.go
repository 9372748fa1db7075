package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aluiziolira/go-price-watch/notify"
	"github.com/aluiziolira/go-price-watch/scheduler"
	"github.com/aluiziolira/go-price-watch/store"
)

type settings struct {
	ChecksPerDay int   `json:"checksPerDay"`
	Options      []int `json:"options,omitempty"`
}

// GET /settings
func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, settings{
		ChecksPerDay: s.store.ChecksPerDay(r.Context()),
		Options:      store.FrequencyOptions,
	})
}

// PUT /settings stores the frequency, reschedules and notifies.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var req settings
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body")
		return
	}
	if err := s.store.SetChecksPerDay(r.Context(), req.ChecksPerDay); err != nil {
		writeDomainError(w, err)
		return
	}

	if s.scheduler != nil && !s.fixedInterval {
		if err := s.scheduler.SetPeriod(scheduler.PeriodForFrequency(req.ChecksPerDay)); err != nil {
			writeDomainError(w, err)
			return
		}
	}

	if s.notifier != nil {
		n := notify.New("Settings Updated", fmt.Sprintf("Check frequency set to %d times/day", req.ChecksPerDay))
		if err := s.notifier.Notify(r.Context(), n); err != nil {
			s.logger.Warn("settings notification failed", slog.Any("error", err))
		}
	}

	writeJSON(w, http.StatusOK, settings{
		ChecksPerDay: req.ChecksPerDay,
		Options:      store.FrequencyOptions,
	})
}
