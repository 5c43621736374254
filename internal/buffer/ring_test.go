package buffer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRingKeepsNewestEntries(t *testing.T) {
	ring := NewRing[int](3)
	for i := 1; i <= 5; i++ {
		ring.Add(i)
	}
	if ring.Len() != 3 {
		t.Fatalf("expected len 3, got %d", ring.Len())
	}
	if diff := cmp.Diff([]int{3, 4, 5}, ring.List()); diff != "" {
		t.Fatalf("unexpected entries (-want +got):\n%s", diff)
	}
}

func TestRingLastReturnsTail(t *testing.T) {
	ring := NewRing[string](4)
	for _, value := range []string{"a", "b", "c", "d", "e"} {
		ring.Add(value)
	}
	if diff := cmp.Diff([]string{"d", "e"}, ring.Last(2)); diff != "" {
		t.Fatalf("unexpected tail (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"b", "c", "d", "e"}, ring.Last(10)); diff != "" {
		t.Fatalf("unexpected oversized tail (-want +got):\n%s", diff)
	}
}

func TestRingReset(t *testing.T) {
	ring := NewRing[int](0)
	if ring.Cap() != 1 {
		t.Fatalf("expected minimum capacity 1, got %d", ring.Cap())
	}
	ring.Add(7)
	ring.Reset()
	if ring.Len() != 0 || ring.List() != nil {
		t.Fatalf("expected empty ring after reset, got %v", ring.List())
	}
}
