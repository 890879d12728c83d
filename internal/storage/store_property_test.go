package storage

import (
	"math/rand"
	"testing"
)

// TestState_Property_NoDuplication delivers random values, with repeats,
// through both Append and Merge and checks len(log) equals the number of
// distinct values seen.
func TestState_Property_NoDuplication(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	for iter := 0; iter < 100; iter++ {
		s := NewState()
		distinct := make(map[int]bool)

		for step := 0; step < 100; step++ {
			if rng.Intn(2) == 0 {
				v := rng.Intn(30)
				s.Append(v)
				distinct[v] = true
				continue
			}
			batch := make([]int, rng.Intn(5))
			for i := range batch {
				batch[i] = rng.Intn(30)
				distinct[batch[i]] = true
			}
			s.Merge(batch)
		}

		if s.Len() != len(distinct) {
			t.Fatalf("iter %d: log has %d entries, saw %d distinct values", iter, s.Len(), len(distinct))
		}
	}
}

// TestState_Property_CursorBounded checks cursors[p] <= len(log) under random
// acknowledgements, including ones that overshoot the log.
func TestState_Property_CursorBounded(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	s := NewState()
	if err := s.Init("a", []string{"a", "b", "c"}); err != nil {
		t.Fatal(err)
	}

	prev := map[string]int{}
	for step := 0; step < 1000; step++ {
		s.Append(rng.Intn(500))
		peer := []string{"b", "c"}[rng.Intn(2)]
		s.AdvanceCursor(peer, rng.Intn(s.Len()+10))

		for _, p := range []string{"b", "c"} {
			c := s.PeerCursor(p)
			if c > s.Len() {
				t.Fatalf("step %d: cursor %s=%d exceeds log length %d", step, p, c, s.Len())
			}
			if c < prev[p] {
				t.Fatalf("step %d: cursor %s decreased %d -> %d", step, p, prev[p], c)
			}
			prev[p] = c
		}
	}
}
