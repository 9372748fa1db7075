package pipeline

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-price-watch/config"
	"github.com/aluiziolira/go-price-watch/models"
	"github.com/aluiziolira/go-price-watch/notify"
	"github.com/microcosm-cc/bluemonday"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

var drainTimeout = 30 * time.Second

// OutputWriter receives batches of applied changes.
type OutputWriter interface {
	Write(changes []*models.Change) error
	Close() error
}

// Applier persists a change and reports whether it was applied.
type Applier interface {
	ApplyChange(ctx context.Context, change *models.Change) (bool, error)
}

// Pipeline applies detected changes to the store, notifies, and journals them.
type Pipeline struct {
	ctx       context.Context
	applier   Applier
	notifier  notify.Notifier
	writer    OutputWriter
	changeCh  chan *models.Change
	batchSize int
	policy    *bluemonday.Policy

	wg sync.WaitGroup

	metrics metrics

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	writerOnce   sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg. A nil writer disables the journal.
func NewPipeline(ctx context.Context, applier Applier, notifier notify.Notifier, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if writer == nil {
		writer = discardWriter{}
	}
	bufferSize := cfg.PipelineBufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	return &Pipeline{
		ctx:       ctx,
		applier:   applier,
		notifier:  notifier,
		writer:    writer,
		changeCh:  make(chan *models.Change, bufferSize),
		batchSize: batchSize,
		policy:    bluemonday.StrictPolicy(),
		metrics:   newMetrics(),
		shutdown:  make(chan struct{}),
	}
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues changes for downstream processing.
func (p *Pipeline) Process(changes ...*models.Change) error {
	if len(changes) == 0 {
		return nil
	}

	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, change := range changes {
		if change == nil {
			continue
		}
		if err := p.enqueue(change); err != nil {
			return err
		}
	}
	return nil
}

// Close stops accepting changes and waits for workers to drain.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
	}
	p.mu.Unlock()

	p.closeOnce.Do(func() {
		close(p.changeCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drainTimeout):
		p.signalShutdown()
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, drainTimeout)
	}
	p.signalShutdown()

	p.writerOnce.Do(func() {
		if err := p.writer.Close(); err != nil {
			p.setErr(fmt.Errorf("close journal: %w", err))
		}
	})
	return p.Err()
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GetMetrics returns a snapshot of the internal counters.
func (p *Pipeline) GetMetrics() map[string]interface{} {
	return p.metrics.snapshot()
}

// StartMetricsReporting emits periodic progress logs.
func (p *Pipeline) StartMetricsReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				metrics := p.GetMetrics()
				slog.Debug("pipeline progress",
					slog.Int64("applied", metrics["applied_changes"].(int64)),
					slog.Int64("notify_errors", metrics["notify_errors"].(int64)),
					slog.Any("validation", metrics["validation_errors"]),
				)
			case <-p.shutdown:
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.Change, 0, p.batchSize)
	// A failed journal write drops that batch only; changes keep being
	// applied and notified.
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := p.writer.Write(batch); err != nil {
			p.metrics.addJournalErrors(len(batch))
			slog.Error("write journal batch", slog.Int("changes", len(batch)), slog.Any("error", err))
		}
		batch = batch[:0]
	}

	for change := range p.changeCh {
		applied := p.apply(change)
		if applied == nil {
			continue
		}
		batch = append(batch, applied)
		if len(batch) >= p.batchSize {
			flush()
		}
	}
	flush()
}

func (p *Pipeline) apply(change *models.Change) *models.Change {
	if err := ValidateChange(change); err != nil {
		p.metrics.addValidation("invalid_change")
		return nil
	}

	applied, err := p.applier.ApplyChange(p.ctx, change)
	if err != nil {
		p.metrics.addValidation("apply_failed")
		slog.Error("apply change", slog.String("item_id", change.ItemID), slog.Any("error", err))
		return nil
	}
	if !applied {
		p.metrics.addValidation("stale_change")
		return nil
	}
	p.metrics.incrementApplied()

	n := notify.New("Price Changed!", "New value: "+p.displayText(change.NewText))
	n.ItemID = change.ItemID
	if err := p.notifier.Notify(p.ctx, n); err != nil {
		p.metrics.incrementNotifyErrors()
		slog.Warn("notification failed", slog.String("item_id", change.ItemID), slog.Any("error", err))
	}
	return change
}

// displayText strips markup the class-scoped match may have captured.
func (p *Pipeline) displayText(text string) string {
	clean := strings.TrimSpace(html.UnescapeString(p.policy.Sanitize(text)))
	if clean == "" {
		return text
	}
	return clean
}

// ValidateChange ensures a change can be applied.
func ValidateChange(c *models.Change) error {
	if c == nil {
		return fmt.Errorf("change is nil")
	}
	if c.ItemID == "" {
		return fmt.Errorf("change missing item id")
	}
	if strings.TrimSpace(c.NewText) == "" {
		return fmt.Errorf("change missing new text for %s", c.ItemID)
	}
	if c.NewText == c.OldText {
		return fmt.Errorf("change for %s does not change text", c.ItemID)
	}
	return nil
}

func (p *Pipeline) enqueue(change *models.Change) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.changeCh <- change:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type discardWriter struct{}

func (discardWriter) Write([]*models.Change) error { return nil }
func (discardWriter) Close() error                 { return nil }

type metrics struct {
	mu           sync.Mutex
	applied      int64
	notifyErrors int64
	journalDrops int64
	validation   map[string]int
}

func newMetrics() metrics {
	return metrics{
		validation: make(map[string]int),
	}
}

func (m *metrics) incrementApplied() {
	m.mu.Lock()
	m.applied++
	m.mu.Unlock()
}

func (m *metrics) incrementNotifyErrors() {
	m.mu.Lock()
	m.notifyErrors++
	m.mu.Unlock()
}

func (m *metrics) addJournalErrors(n int) {
	m.mu.Lock()
	m.journalDrops += int64(n)
	m.mu.Unlock()
}

func (m *metrics) addValidation(kind string) {
	m.mu.Lock()
	m.validation[kind]++
	m.mu.Unlock()
}

func (m *metrics) snapshot() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	copyValidation := make(map[string]int, len(m.validation))
	for k, v := range m.validation {
		copyValidation[k] = v
	}

	return map[string]interface{}{
		"applied_changes":   m.applied,
		"notify_errors":     m.notifyErrors,
		"journal_dropped":   m.journalDrops,
		"validation_errors": copyValidation,
	}
}
