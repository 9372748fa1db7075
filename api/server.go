// Package api exposes the watchlist, picking sessions and settings over HTTP.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/aluiziolira/go-price-watch/models"
	"github.com/aluiziolira/go-price-watch/notify"
	"github.com/aluiziolira/go-price-watch/picker"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxMessageBytes = 64 << 10

// ItemStore is the slice of the item store the API reads and writes.
type ItemStore interface {
	Page(ctx context.Context, page, size int) ([]models.TrackedItem, int)
	Get(ctx context.Context, id string) (models.TrackedItem, error)
	Deactivate(ctx context.Context, id string) error
	ChecksPerDay(ctx context.Context) int
	SetChecksPerDay(ctx context.Context, value int) error
}

// Checker runs an on-demand check of selected items.
type Checker interface {
	CheckItems(ctx context.Context, items []models.TrackedItem) (*models.TickResult, error)
}

// Rescheduler applies a new tick period.
type Rescheduler interface {
	SetPeriod(period time.Duration) error
}

// Options wires the server's collaborators. Checker, Scheduler and Notifier
// are optional.
type Options struct {
	Store    ItemStore
	Sessions *picker.Registry
	Checker  Checker
	// Scheduler is left alone on settings changes when FixedInterval is set.
	Scheduler     Rescheduler
	FixedInterval bool
	Notifier      notify.Notifier
	Logger        *slog.Logger
	Timeout       time.Duration
}

// Server holds the HTTP handlers.
type Server struct {
	store         ItemStore
	sessions      *picker.Registry
	checker       Checker
	scheduler     Rescheduler
	fixedInterval bool
	notifier      notify.Notifier
	logger        *slog.Logger
	timeout       time.Duration
}

// NewServer builds a server from opts.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Server{
		store:         opts.Store,
		sessions:      opts.Sessions,
		checker:       opts.Checker,
		scheduler:     opts.Scheduler,
		fixedInterval: opts.FixedInterval,
		notifier:      opts.Notifier,
		logger:        logger,
		timeout:       timeout,
	}
}

// Routes returns the router with all endpoints mounted.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/healthz", s.health)
	r.Get("/open", s.openDeepLink)

	r.Route("/items", func(r chi.Router) {
		r.Get("/", s.listItems)
		r.Get("/{id}", s.getItem)
		r.Delete("/{id}", s.deleteItem)
		r.Post("/{id}/refresh", s.refreshItem)
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.openSession)
		r.Get("/{id}", s.getSession)
		r.Delete("/{id}", s.closeSession)
		r.Post("/{id}/messages", s.postMessage)
		r.Put("/{id}/field", s.selectField)
		r.Post("/{id}/save", s.saveSession)
	})

	r.Get("/settings", s.getSettings)
	r.Put("/settings", s.putSettings)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "ok",
		"sessions": s.sessions.Len(),
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}
