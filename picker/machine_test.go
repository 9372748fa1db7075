package picker

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/aluiziolira/go-price-watch/models"
	"github.com/aluiziolira/go-price-watch/parser"
)

var (
	priceDesc = models.ElementDescriptor{InnerText: "$10.99", ClassName: "a-price", TagName: "SPAN", ID: "price"}
	titleDesc = models.ElementDescriptor{InnerText: "  Blue Widget ", ClassName: "title", TagName: "H1"}
	imageDesc = models.ElementDescriptor{ClassName: "hero", TagName: "IMG", Src: "https://cdn.example/widget.png"}
)

func TestMachineHappyPath(t *testing.T) {
	m := NewMachine()
	steps := []struct {
		desc models.ElementDescriptor
		want State
	}{
		{desc: priceDesc, want: AwaitingTitle},
		{desc: titleDesc, want: AwaitingImage},
		{desc: imageDesc, want: Complete},
	}
	for _, step := range steps {
		got, err := m.Handle(step.desc)
		if err != nil {
			t.Fatalf("handle %+v: %v", step.desc, err)
		}
		if got != step.want {
			t.Fatalf("state=%s, want %s", got, step.want)
		}
	}
	if !m.SaveEnabled() {
		t.Fatalf("save should be enabled once complete")
	}
}

func TestMachineRecordsPriceVerbatim(t *testing.T) {
	prices := []string{"$10", "1", "EUR 1.299,00", "  9 items  ", "abc2"}
	for _, text := range prices {
		m := NewMachine()
		desc := models.ElementDescriptor{InnerText: text, ClassName: "p", TagName: "B", ID: "x", Src: "ignored"}
		state, err := m.Handle(desc)
		if err != nil {
			t.Fatalf("handle %q: %v", text, err)
		}
		if state != AwaitingTitle {
			t.Fatalf("state=%s after %q, want awaiting_title", state, text)
		}
		if got := m.Draft().Price; got == nil || *got != desc {
			t.Fatalf("price=%+v, want %+v", got, desc)
		}
	}
}

func TestMachineRejectsInvalidDescriptors(t *testing.T) {
	tests := []struct {
		name  string
		setup []models.ElementDescriptor
		input models.ElementDescriptor
		state State
		field string
	}{
		{name: "empty price", input: models.ElementDescriptor{}, state: AwaitingPrice, field: "price"},
		{name: "price without digit", input: models.ElementDescriptor{InnerText: "Free"}, state: AwaitingPrice, field: "price"},
		{name: "blank title", setup: []models.ElementDescriptor{priceDesc}, input: models.ElementDescriptor{InnerText: " \n\t"}, state: AwaitingTitle, field: "title"},
		{name: "image without src", setup: []models.ElementDescriptor{priceDesc, titleDesc}, input: models.ElementDescriptor{TagName: "IMG"}, state: AwaitingImage, field: "image"},
		{name: "relative image", setup: []models.ElementDescriptor{priceDesc, titleDesc}, input: models.ElementDescriptor{Src: "/img/a.png"}, state: AwaitingImage, field: "image"},
		{name: "data image", setup: []models.ElementDescriptor{priceDesc, titleDesc}, input: models.ElementDescriptor{Src: "data:image/png;base64,AAAA"}, state: AwaitingImage, field: "image"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine()
			for _, d := range tt.setup {
				if _, err := m.Handle(d); err != nil {
					t.Fatalf("setup: %v", err)
				}
			}
			before := m.Draft()

			state, err := m.Handle(tt.input)
			var verr *parser.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("field=%q, want %q", verr.Field, tt.field)
			}
			if state != tt.state || m.State() != tt.state {
				t.Fatalf("state=%s, want %s", m.State(), tt.state)
			}
			if !reflect.DeepEqual(before, m.Draft()) {
				t.Fatalf("draft changed: %+v -> %+v", before, m.Draft())
			}
		})
	}
}

func TestMachineSelectClearsOnlyThatField(t *testing.T) {
	m := NewMachine()
	for _, d := range []models.ElementDescriptor{priceDesc, titleDesc, imageDesc} {
		if _, err := m.Handle(d); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	if err := m.Select(FieldPrice); err != nil {
		t.Fatalf("select: %v", err)
	}
	if m.State() != AwaitingPrice {
		t.Fatalf("state=%s, want awaiting_price", m.State())
	}
	draft := m.Draft()
	if draft.Price != nil || draft.Title == nil || draft.Image == nil {
		t.Fatalf("unexpected draft after select: %+v", draft)
	}

	newPrice := models.ElementDescriptor{InnerText: "$8", ClassName: "sale"}
	state, err := m.Handle(newPrice)
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if state != Complete {
		t.Fatalf("state=%s, want complete", state)
	}
	if got := m.Draft().Price; got == nil || got.ClassName != "sale" {
		t.Fatalf("price=%+v", got)
	}

	if err := m.Select(Field("colour")); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestMachineCompleteRepicksImage(t *testing.T) {
	m := NewMachine()
	for _, d := range []models.ElementDescriptor{priceDesc, titleDesc, imageDesc} {
		if _, err := m.Handle(d); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	other := models.ElementDescriptor{Src: "http://cdn.example/other.jpg"}
	if _, err := m.Handle(other); err != nil {
		t.Fatalf("re-pick: %v", err)
	}
	if got := m.Draft().Image.Src; got != other.Src {
		t.Fatalf("image=%q, want %q", got, other.Src)
	}
	if _, err := m.Handle(models.ElementDescriptor{InnerText: "$5"}); err == nil {
		t.Fatalf("expected image validation error")
	}
}

func TestMachineBuild(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)

	m := NewMachine()
	if _, err := m.Build("https://shop.example/w", now); !errors.Is(err, ErrPriceMissing) {
		t.Fatalf("expected ErrPriceMissing, got %v", err)
	}
	if m.CanSave() {
		t.Fatalf("CanSave without price")
	}

	if _, err := m.Handle(priceDesc); err != nil {
		t.Fatalf("handle: %v", err)
	}
	item, err := m.Build("https://shop.example/w", now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := models.TrackedItem{
		URL:       "https://shop.example/w",
		ClassName: "a-price",
		LastText:  "$10.99",
		TagName:   "SPAN",
		ElementID: "price",
		Timestamp: now.UnixMilli(),
	}
	if item != want {
		t.Fatalf("item=%+v, want %+v", item, want)
	}

	for _, d := range []models.ElementDescriptor{titleDesc, imageDesc} {
		if _, err := m.Handle(d); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	item, err = m.Build("https://shop.example/w", now)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if item.Title != titleDesc.InnerText || item.Image != imageDesc.Src {
		t.Fatalf("title/image=%q/%q", item.Title, item.Image)
	}

	m.Reset()
	if m.State() != AwaitingPrice || m.CanSave() {
		t.Fatalf("reset left state=%s canSave=%v", m.State(), m.CanSave())
	}
}

func TestParseField(t *testing.T) {
	for _, name := range []string{"price", "title", "image"} {
		if _, err := ParseField(name); err != nil {
			t.Fatalf("ParseField(%q): %v", name, err)
		}
	}
	if _, err := ParseField("Price"); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}
