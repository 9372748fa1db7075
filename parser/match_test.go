package parser

import "testing"

func TestMatcherMatch(t *testing.T) {
	m, err := NewMatcher(8)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	tests := []struct {
		name      string
		body      string
		className string
		want      string
		wantOK    bool
	}{
		{
			name:      "double quotes",
			body:      `<div><span class="price">$12</span></div>`,
			className: "price",
			want:      "$12",
			wantOK:    true,
		},
		{
			name:      "single quotes and attributes",
			body:      `<p id='x' class='amount' data-x="1">  19,90 € </p>`,
			className: "amount",
			want:      "19,90 €",
			wantOK:    true,
		},
		{
			name:      "case and newlines",
			body:      "<SPAN CLASS=\"Price\">\n  $7\n</SPAN>",
			className: "price",
			want:      "$7",
			wantOK:    true,
		},
		{
			name:      "first occurrence wins",
			body:      `<b class="p">1</b><b class="p">2</b>`,
			className: "p",
			want:      "1",
			wantOK:    true,
		},
		{
			name:      "captures up to first closing tag",
			body:      `<div class="price"><b>$5</b> now</div>`,
			className: "price",
			want:      "<b>$5",
			wantOK:    true,
		},
		{
			name:      "multi class attribute",
			body:      `<span class="a-price a-text">$3</span>`,
			className: "a-price a-text",
			want:      "$3",
			wantOK:    true,
		},
		{
			name:      "meta characters are literal",
			body:      `<span class="price.now">$4</span><span class="priceXnow">$9</span>`,
			className: "priceXnow",
			want:      "$9",
			wantOK:    true,
		},
		{
			name:      "class missing",
			body:      `<span class="cost">$12</span>`,
			className: "price",
			wantOK:    false,
		},
		{
			name:      "empty capture",
			body:      `<span class="price">   </span>`,
			className: "price",
			wantOK:    false,
		},
		{
			name:      "empty class name",
			body:      `<span class="">$1</span>`,
			className: "",
			wantOK:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Match([]byte(tt.body), tt.className)
			if ok != tt.wantOK {
				t.Fatalf("Match ok = %v, want %v (got %q)", ok, tt.wantOK, got)
			}
			if ok && got != tt.want {
				t.Fatalf("Match = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMatcherCachesPatterns(t *testing.T) {
	m, err := NewMatcher(2)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	first := m.Pattern("price")
	if second := m.Pattern("price"); second != first {
		t.Fatalf("expected cached pattern to be reused")
	}
	m.Pattern("title")
	m.Pattern("stock")
	if got := m.Len(); got != 2 {
		t.Fatalf("cached patterns = %d, want 2", got)
	}
}
