package store

import (
	"sort"
	"testing"
)

func TestNewStreamIDOrdering(t *testing.T) {
	ids := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		id, err := NewStreamID()
		if err != nil {
			t.Fatalf("NewStreamID: %v", err)
		}
		if len(id) != 32 {
			t.Fatalf("expected 32-character id, got %q (%d)", id, len(id))
		}
		ids = append(ids, id)
	}
	if !sort.StringsAreSorted(ids) {
		t.Fatal("ids issued in sequence should sort lexicographically")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
