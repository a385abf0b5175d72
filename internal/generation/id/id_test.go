package id

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestGeneration(t *testing.T) {
	id := Generation()

	if !strings.HasPrefix(id, "gen_") {
		t.Errorf("expected ID to start with 'gen_', got %s", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "gen_")); err != nil {
		t.Errorf("expected UUID suffix, got %s: %v", id, err)
	}
}

func TestSegment(t *testing.T) {
	id := Segment()

	if !strings.HasPrefix(id, "seg_") {
		t.Errorf("expected ID to start with 'seg_', got %s", id)
	}
}

func TestGeneration_Uniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := Generation()
		if seen[id] {
			t.Errorf("duplicate ID generated: %s", id)
		}
		seen[id] = true
	}
}
