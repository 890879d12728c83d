package transport

import (
	"io"
	"math/rand"
	"sync"

	"broadcast/internal/proto"
)

const inboxSize = 4096

// Network is an in-process, unreliable envelope fabric. Every registered
// endpoint has a bounded inbox; a full inbox drops the envelope.
type Network struct {
	mu        sync.Mutex
	rng       *rand.Rand
	endpoints map[string]*Endpoint
	dropRate  float64
	dupRate   float64
	blocked   map[[2]string]bool
	delivered int
	dropped   int
	closed    bool
}

// NewNetwork creates a network whose fault injection is driven by seed.
func NewNetwork(seed int64) *Network {
	return &Network{
		rng:       rand.New(rand.NewSource(seed)),
		endpoints: make(map[string]*Endpoint),
		blocked:   make(map[[2]string]bool),
	}
}

// SetDropRate sets the probability that an envelope is silently lost.
func (n *Network) SetDropRate(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropRate = p
}

// SetDuplicateRate sets the probability that an envelope is delivered twice.
func (n *Network) SetDuplicateRate(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dupRate = p
}

// Block drops every envelope from src to dest until Unblock.
func (n *Network) Block(src, dest string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocked[[2]string{src, dest}] = true
}

// Unblock restores delivery from src to dest.
func (n *Network) Unblock(src, dest string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.blocked, [2]string{src, dest})
}

// Stats returns how many envelopes were delivered and dropped so far.
func (n *Network) Stats() (delivered, dropped int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delivered, n.dropped
}

// Endpoint registers (or returns the existing) endpoint for id.
func (n *Network) Endpoint(id string) *Endpoint {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ep, ok := n.endpoints[id]; ok {
		return ep
	}
	ep := &Endpoint{
		id:    id,
		net:   n,
		inbox: make(chan proto.Message, inboxSize),
	}
	n.endpoints[id] = ep
	return ep
}

// Close closes every inbox; pending Recv calls drain and then return io.EOF.
func (n *Network) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for _, ep := range n.endpoints {
		close(ep.inbox)
	}
}

func (n *Network) deliver(m proto.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	dest, ok := n.endpoints[m.Dest]
	if !ok || n.blocked[[2]string{m.Src, m.Dest}] || n.rng.Float64() < n.dropRate {
		n.dropped++
		return nil
	}

	copies := 1
	if n.rng.Float64() < n.dupRate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		select {
		case dest.inbox <- m:
			n.delivered++
		default:
			n.dropped++
		}
	}
	return nil
}

// Endpoint is one participant's view of a Network.
type Endpoint struct {
	id    string
	net   *Network
	inbox chan proto.Message
}

// ID returns the endpoint's address.
func (e *Endpoint) ID() string { return e.id }

// Send routes m to m.Dest. The envelope is round-tripped through the wire
// codec so tests see exactly what the line transport would carry.
func (e *Endpoint) Send(m proto.Message) error {
	data, err := proto.Encode(m)
	if err != nil {
		return err
	}
	wire, err := proto.Decode(data)
	if err != nil {
		return err
	}
	return e.net.deliver(wire)
}

// Recv blocks for the next envelope, or io.EOF after the network closes.
func (e *Endpoint) Recv() (proto.Message, error) {
	m, ok := <-e.inbox
	if !ok {
		return proto.Message{}, io.EOF
	}
	return m, nil
}

// TryRecv returns the next envelope if one is queued.
func (e *Endpoint) TryRecv() (proto.Message, bool) {
	select {
	case m, ok := <-e.inbox:
		return m, ok
	default:
		return proto.Message{}, false
	}
}
