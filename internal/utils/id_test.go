package utils

import "testing"

func TestNewCorrelationIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewCorrelationID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}

func TestSequence(t *testing.T) {
	next := Sequence("c")
	if a, b := next(), next(); a != "c-1" || b != "c-2" {
		t.Fatalf("unexpected sequence %s, %s", a, b)
	}
}
