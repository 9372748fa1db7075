// Package store persists the watchlist as one JSON array under a single key
// of a pluggable key/value backend.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-price-watch/models"
	"github.com/google/uuid"
)

const (
	// ItemsKey holds the JSON encoded tracked items.
	ItemsKey = "tracked_items"
	// FrequencyKey holds the checks-per-day preference.
	FrequencyKey = "check_frequency_per_day"

	// DefaultChecksPerDay applies when no preference was stored.
	DefaultChecksPerDay = 8
	// DefaultPageSize is the watchlist page size.
	DefaultPageSize = 10
)

var (
	// ErrNotFound is returned for out-of-range indexes and unknown ids.
	ErrNotFound = errors.New("store: item not found")
	// ErrInvalidFrequency is returned for unsupported checks-per-day values.
	ErrInvalidFrequency = errors.New("store: unsupported check frequency")
	// ErrCorrupt is returned by mutations when the stored list is not a
	// JSON array of items. The value is left in place.
	ErrCorrupt = errors.New("store: tracked items are malformed")
)

// FrequencyOptions lists the accepted checks-per-day values.
var FrequencyOptions = []int{1, 2, 4, 6, 8, 12, 24}

// Store provides whole-list read/modify/write of tracked items. Mutations are
// serialized within the process; separate processes sharing a backend are
// last-write-wins.
type Store struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	mu sync.Mutex
}

// New wraps backend.
func New(backend Backend, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		backend: backend,
		logger:  logger,
		now:     time.Now,
	}
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// GetItems returns the full list. A missing, unreadable or malformed value
// yields an empty list.
func (s *Store) GetItems(ctx context.Context) []models.TrackedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// ActiveItems returns the items not marked inactive, in list order.
func (s *Store) ActiveItems(ctx context.Context) []models.TrackedItem {
	items := s.GetItems(ctx)
	active := make([]models.TrackedItem, 0, len(items))
	for _, item := range items {
		if !item.Inactive {
			active = append(active, item)
		}
	}
	return active
}

// Page returns one page of active items along with the active total.
// Pages are zero based.
func (s *Store) Page(ctx context.Context, page, size int) ([]models.TrackedItem, int) {
	if size <= 0 {
		size = DefaultPageSize
	}
	if page < 0 {
		page = 0
	}
	active := s.ActiveItems(ctx)
	total := len(active)
	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return active[start:end], total
}

// SaveItem appends item, assigning an id when it has none.
func (s *Store) SaveItem(ctx context.Context, item models.TrackedItem) (models.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	items, err := s.loadForWrite(ctx)
	if err != nil {
		return models.TrackedItem{}, err
	}
	items = append(items, item)
	if err := s.persist(ctx, items); err != nil {
		return models.TrackedItem{}, err
	}
	return item, nil
}

// UpdateItem overwrites the item at index.
func (s *Store) UpdateItem(ctx context.Context, index int, item models.TrackedItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadForWrite(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(items) {
		return fmt.Errorf("update index %d of %d: %w", index, len(items), ErrNotFound)
	}
	if item.ID == "" {
		item.ID = items[index].ID
	}
	items[index] = item
	return s.persist(ctx, items)
}

// RemoveItem physically deletes the item at index.
func (s *Store) RemoveItem(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadForWrite(ctx)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(items) {
		return fmt.Errorf("remove index %d of %d: %w", index, len(items), ErrNotFound)
	}
	items = append(items[:index], items[index+1:]...)
	return s.persist(ctx, items)
}

// Get returns the item with id.
func (s *Store) Get(ctx context.Context, id string) (models.TrackedItem, error) {
	for _, item := range s.GetItems(ctx) {
		if item.ID == id {
			return item, nil
		}
	}
	return models.TrackedItem{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
}

// Update applies fn to the item with id and persists the result. Returning
// an error from fn aborts without writing.
func (s *Store) Update(ctx context.Context, id string, fn func(*models.TrackedItem) error) (models.TrackedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadForWrite(ctx)
	if err != nil {
		return models.TrackedItem{}, err
	}
	idx := indexOf(items, id)
	if idx < 0 {
		return models.TrackedItem{}, fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	updated := items[idx]
	if err := fn(&updated); err != nil {
		return models.TrackedItem{}, err
	}
	updated.ID = id
	items[idx] = updated
	if err := s.persist(ctx, items); err != nil {
		return models.TrackedItem{}, err
	}
	return updated, nil
}

// Deactivate soft-deletes the item with id.
func (s *Store) Deactivate(ctx context.Context, id string) error {
	_, err := s.Update(ctx, id, func(item *models.TrackedItem) error {
		item.Inactive = true
		return nil
	})
	return err
}

// Remove physically deletes the item with id.
func (s *Store) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadForWrite(ctx)
	if err != nil {
		return err
	}
	idx := indexOf(items, id)
	if idx < 0 {
		return fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}
	items = append(items[:idx], items[idx+1:]...)
	return s.persist(ctx, items)
}

// ApplyChange records a detected change on the item it belongs to. It
// reports false without writing when the item is gone or already carries the
// new text.
func (s *Store) ApplyChange(ctx context.Context, change *models.Change) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.loadForWrite(ctx)
	if err != nil {
		return false, err
	}
	idx := indexOf(items, change.ItemID)
	if idx < 0 || items[idx].LastText == change.NewText {
		return false, nil
	}
	ts := change.DetectedAt
	if ts.IsZero() {
		ts = s.now()
	}
	items[idx].LastText = change.NewText
	items[idx].Timestamp = ts.UnixMilli()
	if err := s.persist(ctx, items); err != nil {
		return false, err
	}
	return true, nil
}

// ChecksPerDay returns the stored preference or DefaultChecksPerDay.
func (s *Store) ChecksPerDay(ctx context.Context) int {
	raw, ok, err := s.backend.Get(ctx, FrequencyKey)
	if err != nil {
		s.logger.Warn("read check frequency", slog.Any("error", err))
		return DefaultChecksPerDay
	}
	if !ok {
		return DefaultChecksPerDay
	}
	value, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || !validFrequency(value) {
		s.logger.Warn("ignoring malformed check frequency", slog.String("value", string(raw)))
		return DefaultChecksPerDay
	}
	return value
}

// SetChecksPerDay stores the preference.
func (s *Store) SetChecksPerDay(ctx context.Context, value int) error {
	if !validFrequency(value) {
		return fmt.Errorf("%d: %w", value, ErrInvalidFrequency)
	}
	return s.backend.Set(ctx, FrequencyKey, []byte(strconv.Itoa(value)))
}

func validFrequency(value int) bool {
	for _, opt := range FrequencyOptions {
		if opt == value {
			return true
		}
	}
	return false
}

// load is the lenient read used by queries: any failure yields an empty
// list.
func (s *Store) load(ctx context.Context) []models.TrackedItem {
	items, err := s.loadForWrite(ctx)
	if err != nil {
		s.logger.Warn("read tracked items, treating as empty", slog.Any("error", err))
		return []models.TrackedItem{}
	}
	return items
}

// loadForWrite is the strict read used before every mutation. A backend
// error or a malformed value aborts the write so data that could not be
// read is never replaced.
func (s *Store) loadForWrite(ctx context.Context) ([]models.TrackedItem, error) {
	raw, ok, err := s.backend.Get(ctx, ItemsKey)
	if err != nil {
		return nil, fmt.Errorf("read tracked items: %w", err)
	}
	if !ok || len(raw) == 0 {
		return []models.TrackedItem{}, nil
	}

	var items []models.TrackedItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if items == nil {
		return []models.TrackedItem{}, nil
	}

	// records written before ids existed get one and are written back
	missing := false
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
			missing = true
		}
	}
	if missing {
		if err := s.persist(ctx, items); err != nil {
			s.logger.Warn("backfill item ids", slog.Any("error", err))
		}
	}
	return items, nil
}

func (s *Store) persist(ctx context.Context, items []models.TrackedItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode tracked items: %w", err)
	}
	if err := s.backend.Set(ctx, ItemsKey, data); err != nil {
		return fmt.Errorf("write tracked items: %w", err)
	}
	return nil
}

func indexOf(items []models.TrackedItem, id string) int {
	if id == "" {
		return -1
	}
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}
