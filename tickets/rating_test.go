package tickets

import (
	"testing"
)

func TestParseRating(t *testing.T) {
	tests := []struct {
		raw     string
		want    int
		wantErr bool
	}{
		{"1", 1, false},
		{"5", 5, false},
		{" 3 ", 3, false},
		{"0", 0, true},
		{"6", 0, true},
		{"-1", 0, true},
		{"2.5", 0, true},
		{"five", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseRating(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRating(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRating(%q) = %d, want %d", tt.raw, got, tt.want)
		}
		if err != nil {
			if v, ok := isValidation(err); !ok || v.Key != "rating_invalid" {
				t.Errorf("ParseRating(%q) error = %v, want rating_invalid", tt.raw, err)
			}
		}
	}
}

func TestCatalogResolve(t *testing.T) {
	h := newHarness(t)
	cat, err := h.o.Catalog().Resolve("report")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if got := h.o.Catalog().Priority(cat); got != "urgent" {
		t.Errorf("Priority() = %s, want urgent", got)
	}
	if _, err := h.o.Catalog().Resolve("missing"); err == nil {
		t.Error("Resolve() accepted unknown category")
	}
	if got := h.o.Catalog().Label("billing"); got != "💳 Billing" {
		t.Errorf("Label() = %q", got)
	}
}
