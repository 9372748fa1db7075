package picker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aluiziolira/go-price-watch/models"
	"github.com/aluiziolira/go-price-watch/parser"
	"github.com/aluiziolira/go-price-watch/store"
)

type failingSaver struct{}

func (failingSaver) SaveItem(context.Context, models.TrackedItem) (models.TrackedItem, error) {
	return models.TrackedItem{}, errors.New("disk full")
}

func newTestStore() *store.Store {
	return store.New(store.NewMemoryBackend(), nil)
}

func TestSessionSubmitFlow(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	s := NewSession("s1", "https://shop.example/w", st, 4, nil)
	defer s.Close()

	snap, err := s.Submit(ctx, []byte(`{"innerText":"$10","className":"a-price","tagName":"SPAN","id":"","src":""}`))
	if err != nil {
		t.Fatalf("submit price: %v", err)
	}
	if snap.State != AwaitingTitle || snap.Next != FieldTitle || !snap.CanSave {
		t.Fatalf("snapshot after price: %+v", snap)
	}

	snap, err = s.Submit(ctx, []byte(`{"innerText":"   ","className":"t"}`))
	var verr *parser.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if snap.State != AwaitingTitle {
		t.Fatalf("state=%s after rejected title", snap.State)
	}

	if _, err := s.Submit(ctx, []byte(`not json`)); !errors.Is(err, ErrMalformedMessage) {
		t.Fatalf("expected ErrMalformedMessage, got %v", err)
	}
	snap, err = s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != AwaitingTitle || snap.Draft.Title != nil {
		t.Fatalf("malformed message changed state: %+v", snap)
	}
}

func TestSessionSaveWithOnlyPrice(t *testing.T) {
	ctx := context.Background()
	st := newTestStore()
	s := NewSession("s1", "https://shop.example/w", st, 4, nil)
	defer s.Close()

	if _, err := s.Save(ctx); !errors.Is(err, ErrPriceMissing) {
		t.Fatalf("expected ErrPriceMissing, got %v", err)
	}
	if got := len(st.GetItems(ctx)); got != 0 {
		t.Fatalf("items=%d after failed save", got)
	}

	if _, err := s.Handle(ctx, models.ElementDescriptor{InnerText: "$10", ClassName: "a-price"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	saved, err := s.Save(ctx)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" || saved.Title != "" || saved.Image != "" {
		t.Fatalf("unexpected saved item %+v", saved)
	}

	items := st.GetItems(ctx)
	if len(items) != 1 || items[0].ClassName != "a-price" || items[0].LastText != "$10" {
		t.Fatalf("items=%+v", items)
	}

	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.State != AwaitingPrice || snap.CanSave {
		t.Fatalf("draft not reset: %+v", snap)
	}
}

func TestSessionSaveFailureKeepsDraft(t *testing.T) {
	ctx := context.Background()
	s := NewSession("s1", "https://shop.example/w", failingSaver{}, 4, nil)
	defer s.Close()

	if _, err := s.Handle(ctx, models.ElementDescriptor{InnerText: "$10", ClassName: "a-price"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if _, err := s.Save(ctx); err == nil {
		t.Fatalf("expected save error")
	}
	snap, err := s.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Draft.Price == nil {
		t.Fatalf("draft lost after failed save")
	}
}

func TestSessionSelect(t *testing.T) {
	ctx := context.Background()
	s := NewSession("s1", "https://shop.example/w", newTestStore(), 4, nil)
	defer s.Close()

	if _, err := s.Handle(ctx, models.ElementDescriptor{InnerText: "$10", ClassName: "a-price"}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	snap, err := s.Select(ctx, FieldImage)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if snap.State != AwaitingImage || snap.Draft.Price == nil {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestSessionInboxFull(t *testing.T) {
	s := NewSession("s1", "https://shop.example/w", newTestStore(), 2, nil)
	defer s.Close()

	release := make(chan struct{})
	entered := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.do(context.Background(), func(*Machine) {
			close(entered)
			<-release
		})
	}()
	<-entered

	for i := 0; i < cap(s.inbox); i++ {
		s.inbox <- func(*Machine) {}
	}

	_, err := s.Submit(context.Background(), []byte(`{"innerText":"$1"}`))
	if !errors.Is(err, ErrInboxFull) {
		t.Fatalf("expected ErrInboxFull, got %v", err)
	}

	close(release)
	wg.Wait()
}

func TestSessionClose(t *testing.T) {
	s := NewSession("s1", "https://shop.example/w", newTestStore(), 2, nil)
	s.Close()
	s.Close()

	if _, err := s.Snapshot(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestSessionContextCancel(t *testing.T) {
	s := NewSession("s1", "https://shop.example/w", newTestStore(), 2, nil)
	defer s.Close()

	release := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = s.do(context.Background(), func(*Machine) {
			close(entered)
			<-release
		})
	}()
	<-entered
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Snapshot(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(newTestStore(), 4, nil)

	if _, err := r.Open("/not-absolute"); !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}

	a, err := r.Open("https://shop.example/a")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := r.Open("https://shop.example/b")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if a.ID() == b.ID() {
		t.Fatalf("duplicate session id %s", a.ID())
	}
	if r.Len() != 2 {
		t.Fatalf("len=%d, want 2", r.Len())
	}

	got, err := r.Get(a.ID())
	if err != nil || got != a {
		t.Fatalf("get: %v", err)
	}

	if err := r.Close(a.ID()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := r.Get(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := r.Close(a.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second close, got %v", err)
	}

	r.CloseAll()
	if r.Len() != 0 {
		t.Fatalf("len=%d after CloseAll", r.Len())
	}
	if _, err := b.Snapshot(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected closed session, got %v", err)
	}
}

func TestSessionAbandonedSaveIsSkipped(t *testing.T) {
	st := newTestStore()
	s := NewSession("s1", "https://shop.example/w", st, 4, nil)
	defer s.Close()

	if _, err := s.Handle(context.Background(), models.ElementDescriptor{InnerText: "$10", ClassName: "a-price"}); err != nil {
		t.Fatalf("handle: %v", err)
	}

	release := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = s.do(context.Background(), func(*Machine) {
			close(entered)
			<-release
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Save(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	close(release)

	snap, err := s.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if got := len(st.GetItems(context.Background())); got != 0 {
		t.Fatalf("items=%d, abandoned save was applied", got)
	}
	if snap.Draft.Price == nil {
		t.Fatalf("draft reset by abandoned save")
	}
}

func TestRegistrySweepClosesIdleSessions(t *testing.T) {
	r := NewRegistry(newTestStore(), 4, nil)
	defer r.CloseAll()

	idle, err := r.Open("https://shop.example/idle")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	busy, err := r.Open("https://shop.example/busy")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	idle.lastActive.Store(time.Now().Add(-time.Hour).UnixNano())

	if n := r.Sweep(0); n != 0 {
		t.Fatalf("sweep with no ttl closed %d sessions", n)
	}
	if n := r.Sweep(30 * time.Minute); n != 1 {
		t.Fatalf("sweep closed %d sessions, want 1", n)
	}
	if _, err := r.Get(idle.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected idle session removed, got %v", err)
	}
	if _, err := idle.Snapshot(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected idle session closed, got %v", err)
	}
	if _, err := busy.Snapshot(context.Background()); err != nil {
		t.Fatalf("busy session should stay open: %v", err)
	}
}

func TestSessionCommandsRefreshActivity(t *testing.T) {
	s := NewSession("s1", "https://shop.example/w", newTestStore(), 4, nil)
	defer s.Close()

	stale := time.Now().Add(-time.Hour)
	s.lastActive.Store(stale.UnixNano())
	if _, err := s.Snapshot(context.Background()); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !s.LastActive().After(stale) {
		t.Fatalf("last active %v not refreshed", s.LastActive())
	}
}
