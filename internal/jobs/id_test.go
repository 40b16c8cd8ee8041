package jobs

import "testing"

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Errorf("run IDs collide: %s", a)
	}
	for _, id := range []string{a, b} {
		if !IsRunID(id) {
			t.Errorf("IsRunID(%q) = false", id)
		}
	}
}

func TestIsRunID(t *testing.T) {
	tests := map[string]bool{
		"import-0123456789abcdef0123456789abcdef": true,
		"triage-0123456789abcdef0123456789abcdef": false,
		"import-xyz":                              false,
		"":                                        false,
	}
	for id, want := range tests {
		if got := IsRunID(id); got != want {
			t.Errorf("IsRunID(%q) = %v, want %v", id, got, want)
		}
	}
}
