package textfile

import (
	"testing"
	"time"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Line
		ok   bool
	}{
		{
			name: "plain open task",
			raw:  "- [ ] Buy milk",
			want: Line{Content: "Buy milk"},
			ok:   true,
		},
		{
			name: "completed with everything",
			raw:  "- [x] Buy milk 📅2026-09-01 #Groceries ^42",
			want: Line{ID: "42", Content: "Buy milk", IsCompleted: true, ProjectName: "Groceries", DueDate: "2026-09-01"},
			ok:   true,
		},
		{
			name: "star bullet and spaced date",
			raw:  "* [X] Call dentist 📅 2026-09-15",
			want: Line{Content: "Call dentist", IsCompleted: true, DueDate: "2026-09-15"},
			ok:   true,
		},
		{
			name: "temporary anchor",
			raw:  "- [ ] New idea ^local-1756160000000000000-1a2b",
			want: Line{ID: "local-1756160000000000000-1a2b", Content: "New idea"},
			ok:   true,
		},
		{
			name: "indented task",
			raw:  "  - [ ] Nested item #Work",
			want: Line{Content: "Nested item", ProjectName: "Work"},
			ok:   true,
		},
		{
			name: "invalid date dropped",
			raw:  "- [ ] Pay rent 📅2026-13-99",
			want: Line{Content: "Pay rent"},
			ok:   true,
		},
		{name: "heading", raw: "# Today", ok: false},
		{name: "prose", raw: "Some notes about milk", ok: false},
		{name: "blank", raw: "", ok: false},
		{name: "unchecked box without content marker", raw: "- [] broken", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLine(tt.raw)
			if ok != tt.ok {
				t.Fatalf("ParseLine(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			}
			if !ok {
				return
			}
			if got != tt.want {
				t.Errorf("ParseLine(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRenderLineRoundTrip(t *testing.T) {
	raw := RenderLine("Buy milk", true, "2026-09-01", "Groceries", "42")
	got, ok := ParseLine(raw)
	if !ok {
		t.Fatalf("rendered line %q did not parse", raw)
	}
	if got.ID != "42" || got.Content != "Buy milk" || !got.IsCompleted ||
		got.ProjectName != "Groceries" || got.DueDate != "2026-09-01" {
		t.Errorf("round trip = %+v", got)
	}
}

func TestParseDueDate(t *testing.T) {
	now := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)

	if got := ParseDueDate("2026-09-01", now); got != "2026-09-01" {
		t.Errorf("exact date = %q", got)
	}
	if got := ParseDueDate("tomorrow", now); got != "2026-08-27" {
		t.Errorf("tomorrow = %q, want 2026-08-27", got)
	}
	if got := ParseDueDate("complete gibberish qzx", now); got != "" {
		t.Errorf("gibberish = %q, want empty", got)
	}
	if got := ParseDueDate("", now); got != "" {
		t.Errorf("empty = %q, want empty", got)
	}
}
