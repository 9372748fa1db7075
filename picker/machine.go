// Package picker turns descriptors of clicked page elements into tracked
// items. A Machine walks price, title and image selection; a Session owns one
// Machine behind a bounded command queue.
package picker

import (
	"errors"
	"fmt"
	"time"

	"github.com/aluiziolira/go-price-watch/models"
	"github.com/aluiziolira/go-price-watch/parser"
)

// ErrPriceMissing is returned when saving a draft without a price.
var ErrPriceMissing = errors.New("select a price element before saving")

// Field names one slot of the selection draft.
type Field string

const (
	FieldPrice Field = "price"
	FieldTitle Field = "title"
	FieldImage Field = "image"
)

// ParseField converts a user supplied field name.
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldPrice, FieldTitle, FieldImage:
		return f, nil
	}
	return "", fmt.Errorf("unknown field %q", s)
}

// State is the current picking step.
type State int

const (
	AwaitingPrice State = iota
	AwaitingTitle
	AwaitingImage
	Complete
)

func (s State) String() string {
	switch s {
	case AwaitingPrice:
		return "awaiting_price"
	case AwaitingTitle:
		return "awaiting_title"
	case AwaitingImage:
		return "awaiting_image"
	case Complete:
		return "complete"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	for _, candidate := range []State{AwaitingPrice, AwaitingTitle, AwaitingImage, Complete} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Field reports which slot the next descriptor fills. Complete re-picks the
// image.
func (s State) Field() Field {
	switch s {
	case AwaitingPrice:
		return FieldPrice
	case AwaitingTitle:
		return FieldTitle
	default:
		return FieldImage
	}
}

// Machine is not safe for concurrent use; Session serializes access.
type Machine struct {
	state State
	draft models.SelectionDraft
}

// NewMachine returns a machine awaiting a price with an empty draft.
func NewMachine() *Machine {
	return &Machine{state: AwaitingPrice}
}

// State returns the current step.
func (m *Machine) State() State {
	return m.state
}

// Draft returns a copy of the captured descriptors.
func (m *Machine) Draft() models.SelectionDraft {
	return m.draft.Clone()
}

// Handle validates d for the current step. On success the descriptor is
// stored verbatim and the machine moves to the first field still missing.
// On failure a *parser.ValidationError is returned and nothing changes.
func (m *Machine) Handle(d models.ElementDescriptor) (State, error) {
	field := m.state.Field()
	if err := validate(field, &d); err != nil {
		return m.state, err
	}
	m.set(field, &d)
	m.state = m.next()
	return m.state, nil
}

// Select points the machine at field, clearing only that slot.
func (m *Machine) Select(field Field) error {
	switch field {
	case FieldPrice:
		m.state = AwaitingPrice
	case FieldTitle:
		m.state = AwaitingTitle
	case FieldImage:
		m.state = AwaitingImage
	default:
		return fmt.Errorf("unknown field %q", field)
	}
	m.set(field, nil)
	return nil
}

// SaveEnabled reports whether all three fields were picked.
func (m *Machine) SaveEnabled() bool {
	return m.state == Complete
}

// CanSave reports whether Build would succeed.
func (m *Machine) CanSave() bool {
	return m.draft.Price != nil
}

// Build converts the draft into a tracked item for url.
func (m *Machine) Build(url string, now time.Time) (models.TrackedItem, error) {
	price := m.draft.Price
	if price == nil {
		return models.TrackedItem{}, ErrPriceMissing
	}
	item := models.TrackedItem{
		URL:       url,
		ClassName: price.ClassName,
		LastText:  price.InnerText,
		TagName:   price.TagName,
		ElementID: price.ID,
		Timestamp: now.UnixMilli(),
	}
	if m.draft.Title != nil {
		item.Title = m.draft.Title.InnerText
	}
	if m.draft.Image != nil {
		item.Image = m.draft.Image.Src
	}
	return item, nil
}

// Reset empties the draft and restarts from the price.
func (m *Machine) Reset() {
	m.draft = models.SelectionDraft{}
	m.state = AwaitingPrice
}

func (m *Machine) set(field Field, d *models.ElementDescriptor) {
	switch field {
	case FieldPrice:
		m.draft.Price = d
	case FieldTitle:
		m.draft.Title = d
	case FieldImage:
		m.draft.Image = d
	}
}

func (m *Machine) next() State {
	switch {
	case m.draft.Price == nil:
		return AwaitingPrice
	case m.draft.Title == nil:
		return AwaitingTitle
	case m.draft.Image == nil:
		return AwaitingImage
	default:
		return Complete
	}
}

func validate(field Field, d *models.ElementDescriptor) error {
	switch field {
	case FieldPrice:
		return parser.ValidatePrice(d)
	case FieldTitle:
		return parser.ValidateTitle(d)
	default:
		return parser.ValidateImage(d)
	}
}
