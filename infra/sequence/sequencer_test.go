package sequence

import (
	"sync"
	"testing"
)

func TestNextIsMonotonic(t *testing.T) {
	s := New(0)
	prev := uint64(0)
	for i := 0; i < 1000; i++ {
		n := s.Next()
		if n != prev+1 {
			t.Fatalf("got %d after %d", n, prev)
		}
		prev = n
	}
}

func TestResumesAboveStart(t *testing.T) {
	s := New(42)
	if got := s.Current(); got != 42 {
		t.Fatalf("Current = %d, want 42", got)
	}
	if got := s.Next(); got != 43 {
		t.Fatalf("Next = %d, want 43", got)
	}
}

func TestConcurrentNextNeverRepeats(t *testing.T) {
	s := New(0)
	const workers, each = 8, 10000

	var wg sync.WaitGroup
	results := make([][]uint64, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ids := make([]uint64, 0, each)
			for i := 0; i < each; i++ {
				ids = append(ids, s.Next())
			}
			results[w] = ids
		}(w)
	}
	wg.Wait()

	seen := make(map[uint64]bool, workers*each)
	for _, ids := range results {
		for _, id := range ids {
			if seen[id] {
				t.Fatalf("id %d issued twice", id)
			}
			seen[id] = true
		}
	}
	if s.Current() != workers*each {
		t.Fatalf("Current = %d, want %d", s.Current(), workers*each)
	}
}
