package id

import (
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	id := Generate()

	// Check format
	if !strings.HasPrefix(id, "job-") {
		t.Errorf("expected ID to start with 'job-', got %s", id)
	}
	if !Valid(id) {
		t.Errorf("expected %s to be valid", id)
	}

	// Check uniqueness
	id2 := Generate()
	if id == id2 {
		t.Error("expected different IDs for consecutive calls")
	}
}

func TestGenerate_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generate()
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"job-3f2c1a9e-7b5d-4e8f-9a10-2b3c4d5e6f70", true},
		{"3f2c1a9e-7b5d-4e8f-9a10-2b3c4d5e6f70", false},
		{"job-", false},
		{"job-../../etc/passwd", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := Valid(tt.in); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
