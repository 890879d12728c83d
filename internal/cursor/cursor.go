package cursor

import (
	"fmt"
	"sort"
	"strings"
)

// Map maps a peer ID to the count of log entries delivered to it.
// Thread-safe operations should be handled by the caller.
type Map map[string]int

// New creates a cursor map with every given peer materialized at zero.
func New(peers ...string) Map {
	m := make(Map, len(peers))
	for _, p := range peers {
		m[p] = 0
	}
	return m
}

// Get returns the cursor for the given peer, or 0 if not present.
func (m Map) Get(peer string) int {
	return m[peer]
}

// Has reports whether the peer has a materialized cursor.
func (m Map) Has(peer string) bool {
	_, ok := m[peer]
	return ok
}

// Ensure materializes a zero cursor for peer if it has none.
// It never resets an existing cursor. Returns true if a cursor was created.
func (m Map) Ensure(peer string) bool {
	if _, ok := m[peer]; ok {
		return false
	}
	m[peer] = 0
	return true
}

// Advance moves the cursor for peer to offset if offset is ahead of it.
// Smaller (or negative) offsets are ignored. Returns true if the cursor moved.
func (m Map) Advance(peer string, offset int) bool {
	if offset < 0 {
		return false
	}
	cur, ok := m[peer]
	if ok && offset <= cur {
		return false
	}
	m[peer] = offset
	return true
}

// Copy creates a deep copy of the cursor map.
func (m Map) Copy() Map {
	cp := make(Map, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Peers returns the peer IDs in sorted order.
func (m Map) Peers() []string {
	peers := make([]string, 0, len(m))
	for p := range m {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// Lagging returns, in sorted order, the peers whose cursor is strictly
// behind a log of length n.
func (m Map) Lagging(n int) []string {
	var out []string
	for _, p := range m.Peers() {
		if m[p] < n {
			out = append(out, p)
		}
	}
	return out
}

// String returns a string representation of the cursor map.
func (m Map) String() string {
	if len(m) == 0 {
		return "{}"
	}

	var parts []string
	for _, p := range m.Peers() {
		parts = append(parts, fmt.Sprintf("%s:%d", p, m[p]))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
