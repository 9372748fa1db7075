package picker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-price-watch/models"
)

var (
	// ErrInboxFull is returned when a session's command queue is at capacity.
	ErrInboxFull = errors.New("session inbox full")
	// ErrSessionClosed is returned for commands sent after Close.
	ErrSessionClosed = errors.New("session closed")
)

// DefaultInboxSize bounds the command queue when none is configured.
const DefaultInboxSize = 16

// Saver appends a finished item to durable storage.
type Saver interface {
	SaveItem(ctx context.Context, item models.TrackedItem) (models.TrackedItem, error)
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID          string                `json:"id"`
	URL         string                `json:"url"`
	State       State                 `json:"state"`
	Next        Field                 `json:"next"`
	Draft       models.SelectionDraft `json:"draft"`
	SaveEnabled bool                  `json:"saveEnabled"`
	CanSave     bool                  `json:"canSave"`
	OpenedAt    time.Time             `json:"openedAt"`
}

type command func(m *Machine)

// Session is one picking session. Every read and write of its Machine runs
// on a single goroutine draining a bounded queue.
type Session struct {
	id       string
	url      string
	openedAt time.Time
	saver    Saver
	logger   *slog.Logger
	now      func() time.Time

	// unix nanoseconds of the last accepted command
	lastActive atomic.Int64

	inbox     chan command
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession starts a session for url. inboxSize bounds queued commands.
func NewSession(id, url string, saver Saver, inboxSize int, logger *slog.Logger) *Session {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:       id,
		url:      url,
		openedAt: time.Now(),
		saver:    saver,
		logger:   logger.With(slog.String("session_id", id)),
		now:      time.Now,
		inbox:    make(chan command, inboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.lastActive.Store(s.openedAt.UnixNano())
	go s.loop()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// URL returns the page being picked.
func (s *Session) URL() string { return s.url }

// LastActive returns when the session last accepted a command.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) loop() {
	defer close(s.done)
	m := NewMachine()
	for {
		select {
		case <-s.quit:
			return
		case cmd := <-s.inbox:
			cmd(m)
		}
	}
}

// do enqueues fn and waits for it to run. It never blocks on a full queue.
// A command whose ctx ends while queued is skipped, so a caller that gave up
// never has its command applied later.
func (s *Session) do(ctx context.Context, fn func(m *Machine)) error {
	select {
	case <-s.quit:
		return ErrSessionClosed
	default:
	}

	const (
		pending int32 = iota
		running
		abandoned
	)
	var state atomic.Int32
	ran := make(chan struct{})
	cmd := func(m *Machine) {
		defer close(ran)
		if ctx.Err() != nil || !state.CompareAndSwap(pending, running) {
			return
		}
		fn(m)
	}
	select {
	case s.inbox <- cmd:
		s.lastActive.Store(s.now().UnixNano())
	default:
		return ErrInboxFull
	}

	select {
	case <-ran:
		if state.Load() != running {
			return ctx.Err()
		}
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		if state.CompareAndSwap(pending, abandoned) {
			return ctx.Err()
		}
		// already running: report its outcome
		select {
		case <-ran:
			return nil
		case <-s.done:
			return ErrSessionClosed
		}
	}
}

// Submit decodes a raw descriptor message and feeds it to the machine.
// Malformed payloads are rejected before reaching the queue. A descriptor
// failing validation returns the unchanged snapshot and a
// *parser.ValidationError.
func (s *Session) Submit(ctx context.Context, payload []byte) (Snapshot, error) {
	d, err := DecodeDescriptor(payload)
	if err != nil {
		s.logger.Debug("discarding element message", slog.Any("error", err))
		return Snapshot{}, err
	}
	return s.Handle(ctx, d)
}

// Handle feeds an already decoded descriptor to the machine.
func (s *Session) Handle(ctx context.Context, d models.ElementDescriptor) (Snapshot, error) {
	var (
		snap   Snapshot
		handle error
	)
	err := s.do(ctx, func(m *Machine) {
		_, handle = m.Handle(d)
		snap = s.snapshot(m)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, handle
}

// Select chooses which field the next descriptor fills.
func (s *Session) Select(ctx context.Context, field Field) (Snapshot, error) {
	var (
		snap   Snapshot
		selErr error
	)
	err := s.do(ctx, func(m *Machine) {
		selErr = m.Select(field)
		snap = s.snapshot(m)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, selErr
}

// Snapshot returns the current state and draft.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	if err := s.do(ctx, func(m *Machine) { snap = s.snapshot(m) }); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Save builds an item from the draft, appends it to storage and resets the
// draft. The draft is kept when building or storing fails.
func (s *Session) Save(ctx context.Context) (models.TrackedItem, error) {
	var (
		saved   models.TrackedItem
		saveErr error
	)
	err := s.do(ctx, func(m *Machine) {
		item, err := m.Build(s.url, s.now())
		if err != nil {
			saveErr = err
			return
		}
		saved, err = s.saver.SaveItem(ctx, item)
		if err != nil {
			saveErr = fmt.Errorf("save item: %w", err)
			return
		}
		m.Reset()
		s.logger.Info("item saved", slog.String("item_id", saved.ID), slog.String("url", saved.URL))
	})
	if err != nil {
		return models.TrackedItem{}, err
	}
	return saved, saveErr
}

// Close stops the session and discards its draft. It is idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.quit)
	})
	<-s.done
}

func (s *Session) snapshot(m *Machine) Snapshot {
	return Snapshot{
		ID:          s.id,
		URL:         s.url,
		State:       m.State(),
		Next:        m.State().Field(),
		Draft:       m.Draft(),
		SaveEnabled: m.SaveEnabled(),
		CanSave:     m.CanSave(),
		OpenedAt:    s.openedAt,
	}
}
