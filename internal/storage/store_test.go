package storage

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

func newInitialized(t *testing.T) *State {
	t.Helper()
	s := NewState()
	if err := s.Init("n1", []string{"n1", "n2", "n3"}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	return s
}

func TestState_Init(t *testing.T) {
	s := NewState()
	if err := s.Init("n1", []string{"n1", "n2", "n3", "n2", ""}); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	if s.ID() != "n1" {
		t.Errorf("Expected id n1, got %s", s.ID())
	}
	if !reflect.DeepEqual(s.Peers(), []string{"n2", "n3"}) {
		t.Errorf("Expected peers [n2 n3], got %v", s.Peers())
	}
	cursors := s.Cursors()
	if len(cursors) != 2 || cursors.Get("n2") != 0 || cursors.Get("n3") != 0 {
		t.Errorf("Expected zero cursors for n2, n3, got %v", cursors)
	}

	err := s.Init("n9", nil)
	if !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("Expected ErrAlreadyInitialized, got %v", err)
	}
	if s.ID() != "n1" {
		t.Errorf("Second Init must not change the id, got %s", s.ID())
	}
}

func TestState_InitEmptyID(t *testing.T) {
	if err := NewState().Init("", []string{"n1"}); err == nil {
		t.Error("Expected error for empty node id")
	}
}

func TestState_AppendDeduplicates(t *testing.T) {
	s := newInitialized(t)

	off, added := s.Append(5)
	if off != 0 || !added {
		t.Errorf("Expected (0, true), got (%d, %v)", off, added)
	}
	off, added = s.Append(7)
	if off != 1 || !added {
		t.Errorf("Expected (1, true), got (%d, %v)", off, added)
	}
	off, added = s.Append(5)
	if off != 0 || added {
		t.Errorf("Duplicate append should return (0, false), got (%d, %v)", off, added)
	}

	if !reflect.DeepEqual(s.Snapshot(), []int{5, 7}) {
		t.Errorf("Expected [5 7], got %v", s.Snapshot())
	}
	if !s.Contains(7) || s.Contains(8) {
		t.Error("Contains reports the wrong membership")
	}
}

func TestState_MergeIdempotent(t *testing.T) {
	s := newInitialized(t)
	s.Append(1)

	if n := s.Merge([]int{1, 2, 3, 2}); n != 2 {
		t.Errorf("Expected 2 new values, got %d", n)
	}
	first := s.Snapshot()

	if n := s.Merge([]int{1, 2, 3, 2}); n != 0 {
		t.Errorf("Re-merge should add nothing, got %d", n)
	}
	if !reflect.DeepEqual(s.Snapshot(), first) {
		t.Errorf("Re-merge changed the log: %v -> %v", first, s.Snapshot())
	}
	if !reflect.DeepEqual(first, []int{1, 2, 3}) {
		t.Errorf("Expected [1 2 3], got %v", first)
	}
}

func TestState_SnapshotIsCopy(t *testing.T) {
	s := newInitialized(t)
	s.Append(1)

	snap := s.Snapshot()
	snap[0] = 99
	if s.Snapshot()[0] != 1 {
		t.Error("Snapshot should return an independent copy")
	}

	empty := NewState().Snapshot()
	if empty == nil || len(empty) != 0 {
		t.Errorf("Expected non-nil empty snapshot, got %#v", empty)
	}
}

func TestState_AdvanceCursor(t *testing.T) {
	s := newInitialized(t)
	s.Merge([]int{1, 2, 3})

	if !s.AdvanceCursor("n2", 2) {
		t.Error("Expected cursor to advance")
	}
	if s.AdvanceCursor("n2", 1) {
		t.Error("Backwards advance must be a no-op")
	}
	if s.PeerCursor("n2") != 2 {
		t.Errorf("Expected cursor 2, got %d", s.PeerCursor("n2"))
	}

	// clamp to log length
	s.AdvanceCursor("n3", 10)
	if s.PeerCursor("n3") != 3 {
		t.Errorf("Expected cursor clamped to 3, got %d", s.PeerCursor("n3"))
	}

	if s.AdvanceCursor("n1", 1) {
		t.Error("Self must never get a cursor")
	}
}

func TestState_AdvanceCursorIgnoresNonPeers(t *testing.T) {
	s := newInitialized(t)
	s.Append(1)

	if s.AdvanceCursor("c1", 1) {
		t.Error("Ack from a non-peer must not create a cursor")
	}
	s.Append(2)

	for _, o := range s.Pending() {
		if o.Peer == "c1" {
			t.Fatalf("Non-peer became a gossip target: %+v", o)
		}
	}
	if got := s.Cursors().String(); got != "{n2:0, n3:0}" {
		t.Errorf("Expected only peer cursors, got %s", got)
	}
}

func TestState_PendingSuffixes(t *testing.T) {
	s := newInitialized(t)
	if p := s.Pending(); len(p) != 0 {
		t.Fatalf("Empty log should produce no pending work, got %v", p)
	}

	s.Merge([]int{10, 20, 30})
	s.AdvanceCursor("n3", 2)

	pending := s.Pending()
	if len(pending) != 2 {
		t.Fatalf("Expected 2 outbound, got %d", len(pending))
	}

	want := []Outbound{
		{Peer: "n2", Values: []int{10, 20, 30}, StartIdx: 0},
		{Peer: "n3", Values: []int{30}, StartIdx: 2},
	}
	seen := make(map[int]bool)
	for i, o := range pending {
		if o.Peer != want[i].Peer || o.StartIdx != want[i].StartIdx || !reflect.DeepEqual(o.Values, want[i].Values) {
			t.Errorf("Outbound %d: expected %+v, got %+v", i, want[i], o)
		}
		if seen[o.MsgID] {
			t.Errorf("Duplicate msg id %d", o.MsgID)
		}
		seen[o.MsgID] = true
	}

	// log is untouched and a second pass resends the same suffixes
	again := s.Pending()
	if len(again) != 2 || again[1].StartIdx != 2 {
		t.Errorf("Expected the same suffixes again, got %+v", again)
	}
	if again[0].MsgID <= pending[1].MsgID {
		t.Errorf("Expected fresh ids on resend, got %d after %d", again[0].MsgID, pending[1].MsgID)
	}

	s.AdvanceCursor("n2", 3)
	s.AdvanceCursor("n3", 3)
	if p := s.Pending(); len(p) != 0 {
		t.Errorf("Caught-up peers should get nothing, got %+v", p)
	}
}

func TestState_PendingValuesAreCopies(t *testing.T) {
	s := newInitialized(t)
	s.Append(1)
	p := s.Pending()
	p[0].Values[0] = 42
	if s.Snapshot()[0] != 1 {
		t.Error("Pending values must not alias the log")
	}
}

func TestState_NextMsgIDMonotonic(t *testing.T) {
	s := NewState()
	prev := 0
	for i := 0; i < 100; i++ {
		id := s.NextMsgID()
		if id <= prev {
			t.Fatalf("Expected increasing ids, got %d after %d", id, prev)
		}
		prev = id
	}
}

func TestState_RecordTopologyKeepsCursors(t *testing.T) {
	s := newInitialized(t)
	s.Merge([]int{1, 2})
	s.AdvanceCursor("n2", 2)

	graph := map[string][]string{"n1": {"n2"}, "n2": {"n1"}, "n3": {}}
	s.RecordTopology(graph)

	if s.PeerCursor("n2") != 2 {
		t.Errorf("Topology must not reset cursors, got %d", s.PeerCursor("n2"))
	}
	if !reflect.DeepEqual(s.Peers(), []string{"n2", "n3"}) {
		t.Errorf("Topology must not shrink the peer set, got %v", s.Peers())
	}

	graph["n1"][0] = "mutated"
	if s.Topology()["n1"][0] != "n2" {
		t.Error("RecordTopology should keep its own copy")
	}
}

func TestState_ConcurrentAccess(t *testing.T) {
	s := newInitialized(t)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				s.Append(i % 50)
				s.Merge([]int{w, i})
				s.AdvanceCursor("n2", i)
				_ = s.Pending()
				_ = s.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	seen := make(map[int]bool)
	for _, v := range snap {
		if seen[v] {
			t.Fatalf("Value %d appears twice", v)
		}
		seen[v] = true
	}
	if len(snap) != 200 {
		t.Errorf("Expected 200 distinct values, got %d", len(snap))
	}
	if s.PeerCursor("n2") > len(snap) {
		t.Errorf("Cursor %d exceeds log length %d", s.PeerCursor("n2"), len(snap))
	}
}
