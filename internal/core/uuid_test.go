package core

import "testing"

func TestNewUUIDv7_ValidAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := NewUUIDv7()
		if !IsValidUUIDv7(id) {
			t.Fatalf("NewUUIDv7() = %q, not a valid UUIDv7", id)
		}
		if seen[id] {
			t.Fatalf("NewUUIDv7() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestIsValidUUIDv7(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"01908a9c-e4a5-7c8b-8d3e-0a1b2c3d4e5f", true},
		{"550e8400-e29b-41d4-a716-446655440000", false}, // v4
		{"01908a9c-e4a5-7c8b-0d3e-0a1b2c3d4e5f", false}, // variant
		{"", false},
		{"cycle-1", false},
	}

	for _, tt := range tests {
		if got := IsValidUUIDv7(tt.input); got != tt.want {
			t.Errorf("IsValidUUIDv7(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
