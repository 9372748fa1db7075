// Package notify delivers best-effort, at-most-once notifications.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Notification is one immediate message.
type Notification struct {
	Title  string    `json:"title"`
	Body   string    `json:"body"`
	Sound  bool      `json:"sound"`
	ItemID string    `json:"item_id,omitempty"`
	SentAt time.Time `json:"sent_at"`
}

// Notifier sends a notification. Implementations never retry.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Preparer is implemented by notifiers needing one-time setup at start.
type Preparer interface {
	Prepare(ctx context.Context) error
}

// Setup runs Prepare when n supports it.
func Setup(ctx context.Context, n Notifier) error {
	if p, ok := n.(Preparer); ok {
		return p.Prepare(ctx)
	}
	return nil
}

// New fills the defaults of a notification.
func New(title, body string) Notification {
	return Notification{Title: title, Body: body, Sound: true, SentAt: time.Now()}
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		slog.String("title", n.Title),
		slog.String("body", n.Body),
		slog.String("item_id", n.ItemID),
	)
	return nil
}

// Multi fans a notification out to every notifier.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Prepare(ctx context.Context) error {
	var errs []error
	for _, notifier := range m {
		if err := Setup(ctx, notifier); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
