// Package models defines data structures shared by the picker, store and monitor.
package models

import "time"

// TrackedItem is one watched page element persisted in the store.
type TrackedItem struct {
	ID        string `json:"itemId"`
	URL       string `json:"url"`
	ClassName string `json:"className"`
	LastText  string `json:"lastText"`
	Timestamp int64  `json:"timestamp"`
	TagName   string `json:"tagName,omitempty"`
	ElementID string `json:"id,omitempty"`
	Image     string `json:"image,omitempty"`
	Title     string `json:"title,omitempty"`
	Inactive  bool   `json:"inactive,omitempty"`
}

// UpdatedAt converts the epoch millisecond timestamp.
func (t TrackedItem) UpdatedAt() time.Time {
	return time.UnixMilli(t.Timestamp)
}

// ElementDescriptor is the snapshot of one DOM node posted by the embedded page.
type ElementDescriptor struct {
	InnerText string `json:"innerText"`
	ClassName string `json:"className"`
	TagName   string `json:"tagName"`
	ID        string `json:"id"`
	Src       string `json:"src"`
}

// SelectionDraft holds the descriptors captured during one picking session.
type SelectionDraft struct {
	Price *ElementDescriptor `json:"price,omitempty"`
	Title *ElementDescriptor `json:"title,omitempty"`
	Image *ElementDescriptor `json:"image,omitempty"`
}

// Clone returns a deep copy so callers never share descriptors with a session.
func (d SelectionDraft) Clone() SelectionDraft {
	return SelectionDraft{
		Price: cloneDescriptor(d.Price),
		Title: cloneDescriptor(d.Title),
		Image: cloneDescriptor(d.Image),
	}
}

func cloneDescriptor(d *ElementDescriptor) *ElementDescriptor {
	if d == nil {
		return nil
	}
	out := *d
	return &out
}

// Change records a detected drift of an item's matched text.
type Change struct {
	ItemID     string    `csv:"item_id" json:"item_id"`
	URL        string    `csv:"url" json:"url"`
	ClassName  string    `csv:"class_name" json:"class_name"`
	Title      string    `csv:"title" json:"title,omitempty"`
	OldText    string    `csv:"old_text" json:"old_text"`
	NewText    string    `csv:"new_text" json:"new_text"`
	DetectedAt time.Time `csv:"detected_at" json:"detected_at"`
}

// TickResult holds the outcome of one monitoring pass.
type TickResult struct {
	StartTime    time.Time
	EndTime      time.Time
	Checked      int
	Changed      int
	Unchanged    int
	NoMatch      int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
}
