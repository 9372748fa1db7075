package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-price-watch/config"
	"github.com/aluiziolira/go-price-watch/models"
	"github.com/aluiziolira/go-price-watch/notify"
	"github.com/aluiziolira/go-price-watch/store"
)

type mockWriter struct {
	mu      sync.Mutex
	batches [][]*models.Change
	closed  bool
}

func (mw *mockWriter) Write(changes []*models.Change) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	copyBatch := make([]*models.Change, len(changes))
	copy(copyBatch, changes)
	mw.batches = append(mw.batches, copyBatch)
	return nil
}

func (mw *mockWriter) Close() error {
	mw.mu.Lock()
	mw.closed = true
	mw.mu.Unlock()
	return nil
}

func (mw *mockWriter) totalWritten() int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	total := 0
	for _, batch := range mw.batches {
		total += len(batch)
	}
	return total
}

func (mw *mockWriter) batchSizes() []int {
	mw.mu.Lock()
	defer mw.mu.Unlock()
	sizes := make([]int, 0, len(mw.batches))
	for _, batch := range mw.batches {
		sizes = append(sizes, len(batch))
	}
	return sizes
}

type blockingWriter struct {
	blockCh chan struct{}
}

func (bw *blockingWriter) Write(changes []*models.Change) error {
	<-bw.blockCh
	return nil
}

func (bw *blockingWriter) Close() error {
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	err  error
}

func (rn *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	rn.sent = append(rn.sent, n)
	return rn.err
}

func (rn *recordingNotifier) count() int {
	rn.mu.Lock()
	defer rn.mu.Unlock()
	return len(rn.sent)
}

// acceptAll applies every change without a backing store.
type acceptAll struct{}

func (acceptAll) ApplyChange(context.Context, *models.Change) (bool, error) { return true, nil }

func seedStore(t *testing.T, n int) (*store.Store, []models.TrackedItem) {
	t.Helper()
	s := store.New(store.NewMemoryBackend(), nil)
	items := make([]models.TrackedItem, 0, n)
	for i := 0; i < n; i++ {
		item, err := s.SaveItem(context.Background(), models.TrackedItem{
			URL:       "http://shop.test/p/" + strconv.Itoa(i),
			ClassName: "price",
			LastText:  "$10",
			Timestamp: 1,
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
		items = append(items, item)
	}
	return s, items
}

func TestPipelineAppliesNotifiesAndJournals(t *testing.T) {
	cfg := config.DefaultConfig()
	s, items := seedStore(t, 1)
	writer := &mockWriter{}
	notifier := &recordingNotifier{}
	p := NewPipeline(context.Background(), s, notifier, writer, cfg)
	p.Start(1)

	change := &models.Change{ItemID: items[0].ID, OldText: "$10", NewText: "<b>$12</b>", DetectedAt: time.UnixMilli(42)}
	if err := p.Process(change); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := s.Get(context.Background(), items[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastText != "<b>$12</b>" || got.Timestamp != 42 {
		t.Fatalf("stored item = %+v", got)
	}
	if notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.count())
	}
	if n := notifier.sent[0]; n.Title != "Price Changed!" || n.Body != "New value: $12" || n.ItemID != items[0].ID {
		t.Fatalf("notification = %+v", n)
	}
	if writer.totalWritten() != 1 || !writer.closed {
		t.Fatalf("journal should hold one change and be closed")
	}
}

func TestPipelineRejectsInvalidAndStaleChanges(t *testing.T) {
	cfg := config.DefaultConfig()
	s, items := seedStore(t, 1)
	writer := &mockWriter{}
	notifier := &recordingNotifier{}
	p := NewPipeline(context.Background(), s, notifier, writer, cfg)
	p.Start(1)

	invalid := &models.Change{ItemID: "", OldText: "$10", NewText: "$11"}
	noop := &models.Change{ItemID: items[0].ID, OldText: "$10", NewText: "$10"}
	stale := &models.Change{ItemID: "deleted-item", OldText: "$10", NewText: "$11"}

	if err := p.Process(invalid, noop, stale); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 0 {
		t.Fatalf("written changes = %d, want 0", got)
	}
	if notifier.count() != 0 {
		t.Fatalf("no notification expected")
	}

	validation, ok := p.GetMetrics()["validation_errors"].(map[string]int)
	if !ok {
		t.Fatalf("expected validation errors map")
	}
	if validation["invalid_change"] != 2 {
		t.Fatalf("invalid_change = %d, want 2", validation["invalid_change"])
	}
	if validation["stale_change"] != 1 {
		t.Fatalf("stale_change = %d, want 1", validation["stale_change"])
	}
}

func TestPipelineNotifyFailureStillJournals(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	notifier := &recordingNotifier{err: errors.New("offline")}
	p := NewPipeline(context.Background(), acceptAll{}, notifier, writer, cfg)
	p.Start(1)

	if err := p.Process(&models.Change{ItemID: "a", OldText: "$1", NewText: "$2"}); err != nil {
		t.Fatalf("process: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if writer.totalWritten() != 1 {
		t.Fatalf("change should be journaled despite notify failure")
	}
	if got := p.GetMetrics()["notify_errors"].(int64); got != 1 {
		t.Fatalf("notify_errors = %d, want 1", got)
	}
}

func TestPipelineBatchFlushThreshold(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 64
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), acceptAll{}, &recordingNotifier{}, writer, cfg)
	p.Start(1)

	for i := 0; i < 65; i++ {
		change := &models.Change{ItemID: "item-" + strconv.Itoa(i), OldText: "$1", NewText: "$2"}
		if err := p.Process(change); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	sizes := writer.batchSizes()
	if len(sizes) != 2 {
		t.Fatalf("batch writes = %d, want 2", len(sizes))
	}
	if sizes[0] != 64 || sizes[1] != 1 {
		t.Fatalf("batch sizes = %v, want [64 1]", sizes)
	}
}

func TestPipelineCloseDrainsPendingItems(t *testing.T) {
	cfg := config.DefaultConfig()
	writer := &mockWriter{}
	p := NewPipeline(context.Background(), acceptAll{}, &recordingNotifier{}, writer, cfg)
	p.Start(2)

	for i := 0; i < 100; i++ {
		change := &models.Change{ItemID: "item-" + strconv.Itoa(i+200), OldText: "$1", NewText: "$2"}
		if err := p.Process(change); err != nil {
			t.Fatalf("process: %v", err)
		}
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if got := writer.totalWritten(); got != 100 {
		t.Fatalf("written changes = %d, want 100", got)
	}
}

func TestPipelineProcessAfterClose(t *testing.T) {
	p := NewPipeline(context.Background(), acceptAll{}, &recordingNotifier{}, nil, config.DefaultConfig())
	p.Start(1)
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	err := p.Process(&models.Change{ItemID: "a", OldText: "$1", NewText: "$2"})
	if !errors.Is(err, ErrPipelineClosed) {
		t.Fatalf("process after close = %v, want ErrPipelineClosed", err)
	}
}

func TestPipelineCloseTimeout(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1

	writer := &blockingWriter{blockCh: make(chan struct{})}
	p := NewPipeline(context.Background(), acceptAll{}, &recordingNotifier{}, writer, cfg)
	p.Start(1)

	change := &models.Change{ItemID: "blocked", OldText: "$1", NewText: "$2"}
	if err := p.Process(change); err != nil {
		t.Fatalf("process: %v", err)
	}

	previousTimeout := drainTimeout
	drainTimeout = 25 * time.Millisecond
	t.Cleanup(func() {
		drainTimeout = previousTimeout
		close(writer.blockCh)
	})

	if err := p.Close(); err == nil || !errors.Is(err, ErrPipelineCloseTimeout) {
		t.Fatalf("expected close timeout error, got %v", err)
	}
}

type failOnceWriter struct {
	mockWriter
	failed bool
}

func (fw *failOnceWriter) Write(changes []*models.Change) error {
	fw.mu.Lock()
	if !fw.failed {
		fw.failed = true
		fw.mu.Unlock()
		return errors.New("disk full")
	}
	fw.mu.Unlock()
	return fw.mockWriter.Write(changes)
}

func TestPipelineJournalFailureKeepsApplying(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BatchSize = 1
	s, items := seedStore(t, 2)
	writer := &failOnceWriter{}
	notifier := &recordingNotifier{}
	p := NewPipeline(context.Background(), s, notifier, writer, cfg)
	p.Start(1)

	if err := p.Process(&models.Change{ItemID: items[0].ID, OldText: "$10", NewText: "$11"}); err != nil {
		t.Fatalf("process first: %v", err)
	}
	waitFor(t, func() bool { return notifier.count() == 1 })

	if err := p.Process(&models.Change{ItemID: items[1].ID, OldText: "$10", NewText: "$12"}); err != nil {
		t.Fatalf("process after journal failure: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := s.Get(context.Background(), items[1].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastText != "$12" {
		t.Fatalf("second change not applied: %+v", got)
	}
	if notifier.count() != 2 {
		t.Fatalf("notifications = %d, want 2", notifier.count())
	}
	if writer.totalWritten() != 1 {
		t.Fatalf("journaled = %d, want 1", writer.totalWritten())
	}
	if dropped := p.GetMetrics()["journal_dropped"].(int64); dropped != 1 {
		t.Fatalf("journal_dropped = %d, want 1", dropped)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
