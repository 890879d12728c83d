package storage

import (
	"errors"
	"fmt"
	"sync"

	"broadcast/internal/cursor"
)

// ErrAlreadyInitialized is returned when Init is called twice.
var ErrAlreadyInitialized = errors.New("node already initialized")

// Outbound is one replication request the scheduler should emit: the
// suffix of the log a peer has not acknowledged yet.
type Outbound struct {
	Peer     string
	Values   []int
	StartIdx int
	MsgID    int
}

// Store defines the node state operations used by the handler and the
// gossip scheduler.
type Store interface {
	// Append stores value unless already present and returns its offset.
	Append(value int) (offset int, added bool)
	// Merge appends every absent value in order and returns how many were new.
	Merge(values []int) int
	// Snapshot returns a copy of the log.
	Snapshot() []int
	// Len returns the log length.
	Len() int
	// PeerCursor returns how many entries peer is believed to hold.
	PeerCursor(peer string) int
	// AdvanceCursor moves peer's cursor forward to offset; never backwards.
	AdvanceCursor(peer string, offset int) bool
	// NextMsgID issues a fresh correlation id.
	NextMsgID() int
	// Pending returns one Outbound per lagging peer, each with a fresh id.
	Pending() []Outbound
}

// State is the in-memory implementation of Store.
type State struct {
	mu        sync.Mutex
	id        string
	peers     []string
	topology  map[string][]string
	log       []int
	index     map[int]int // value -> offset
	cursors   cursor.Map
	nextMsgID int
}

// NewState creates an empty, uninitialized state.
func NewState() *State {
	return &State{
		index:     make(map[int]int),
		cursors:   cursor.New(),
		nextMsgID: 1,
	}
}

// Init assigns the node identity and its peers (every node id other than
// self), materializing a zero cursor for each peer.
func (s *State) Init(id string, nodeIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.id != "" {
		return fmt.Errorf("%w as %s", ErrAlreadyInitialized, s.id)
	}
	if id == "" {
		return fmt.Errorf("node id cannot be empty")
	}

	s.id = id
	seen := make(map[string]bool, len(nodeIDs))
	for _, n := range nodeIDs {
		if n == id || n == "" || seen[n] {
			continue
		}
		seen[n] = true
		s.peers = append(s.peers, n)
		s.cursors.Ensure(n)
	}
	return nil
}

// ID returns the node id, or "" before Init.
func (s *State) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Peers returns a copy of the peer list assigned at Init.
func (s *State) Peers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.peers...)
}

// RecordTopology stores the topology graph. The peer set is not restricted
// by it; peers of this node that somehow have no cursor get one at zero.
func (s *State) RecordTopology(graph map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.topology = make(map[string][]string, len(graph))
	for k, v := range graph {
		s.topology[k] = append([]string(nil), v...)
	}
	for _, p := range s.peers {
		s.cursors.Ensure(p)
	}
}

// Topology returns a copy of the last recorded topology.
func (s *State) Topology() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.topology == nil {
		return nil
	}
	cp := make(map[string][]string, len(s.topology))
	for k, v := range s.topology {
		cp[k] = append([]string(nil), v...)
	}
	return cp
}

// Append stores value if it is not present yet.
func (s *State) Append(value int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(value)
}

func (s *State) appendLocked(value int) (int, bool) {
	if off, ok := s.index[value]; ok {
		return off, false
	}
	off := len(s.log)
	s.log = append(s.log, value)
	s.index[value] = off
	return off, true
}

// Merge appends each value not already present, preserving input order.
func (s *State) Merge(values []int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, v := range values {
		if _, ok := s.appendLocked(v); ok {
			added++
		}
	}
	return added
}

// Contains reports whether value is in the log.
func (s *State) Contains(value int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.index[value]
	return ok
}

// Snapshot returns a copy of the log. The result is never nil.
func (s *State) Snapshot() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int, len(s.log))
	copy(out, s.log)
	return out
}

// Len returns the number of values in the log.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.log)
}

// PeerCursor returns the cursor for peer, 0 if unknown.
func (s *State) PeerCursor(peer string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors.Get(peer)
}

// Cursors returns a copy of every cursor.
func (s *State) Cursors() cursor.Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors.Copy()
}

// AdvanceCursor moves peer's cursor to offset if that is ahead of it.
// Offsets past the end of the log are clamped to the log length. Only peers
// assigned at Init have a cursor; acknowledgements from anyone else are
// ignored so they never become gossip targets.
func (s *State) AdvanceCursor(peer string, offset int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cursors.Has(peer) {
		return false
	}
	if offset > len(s.log) {
		offset = len(s.log)
	}
	return s.cursors.Advance(peer, offset)
}

// NextMsgID returns a fresh, never reused message id.
func (s *State) NextMsgID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextMsgIDLocked()
}

func (s *State) nextMsgIDLocked() int {
	id := s.nextMsgID
	s.nextMsgID++
	return id
}

// Pending returns, for every peer strictly behind the log, the unacknowledged
// suffix together with a fresh message id. Nothing is removed from the log.
func (s *State) Pending() []Outbound {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.log) == 0 {
		return nil
	}

	var out []Outbound
	for _, p := range s.cursors.Lagging(len(s.log)) {
		start := s.cursors.Get(p)
		values := make([]int, len(s.log)-start)
		copy(values, s.log[start:])
		out = append(out, Outbound{
			Peer:     p,
			Values:   values,
			StartIdx: start,
			MsgID:    s.nextMsgIDLocked(),
		})
	}
	return out
}
