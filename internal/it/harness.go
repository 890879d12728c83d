package it

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"broadcast/internal/node"
	"broadcast/internal/proto"
	"broadcast/internal/telemetry"
	"broadcast/internal/transport"
)

// ClientID is the address the harness uses for client requests.
const ClientID = "c1"

const resendInterval = 200 * time.Millisecond

// Cluster represents an in-process test cluster of nodes on one Network.
type Cluster struct {
	Net *transport.Network

	logger *zap.Logger
	client *transport.Endpoint

	mu    sync.Mutex
	nodes []*Node
	msgID int
}

// Node represents a single node in the test cluster.
type Node struct {
	ID      string
	Node    *node.Node
	Metrics *telemetry.Metrics
	done    chan error
}

// NewCluster creates a cluster harness whose network faults are driven by seed.
func NewCluster(seed int64, logger *zap.Logger) *Cluster {
	if logger == nil {
		logger = zap.NewNop()
	}
	net := transport.NewNetwork(seed)
	return &Cluster{
		Net:    net,
		logger: logger,
		client: net.Endpoint(ClientID),
	}
}

// StartCluster starts n nodes named n1..nN, each aware of all the others,
// and completes their handshakes.
func (c *Cluster) StartCluster(ctx context.Context, n int, interval time.Duration) error {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%d", i+1)
	}

	for _, id := range ids {
		if err := c.StartNode(ctx, id, ids, interval); err != nil {
			c.Stop()
			return fmt.Errorf("failed to start node %s: %w", id, err)
		}
	}
	return nil
}

// StartNode starts one node and performs its handshake.
func (c *Cluster) StartNode(ctx context.Context, id string, ids []string, interval time.Duration) error {
	metrics := telemetry.NewMetrics()
	n := node.New(c.Net.Endpoint(id), node.Options{
		GossipInterval: interval,
		Logger:         c.logger,
		Metrics:        metrics,
	})

	tn := &Node{ID: id, Node: n, Metrics: metrics, done: make(chan error, 1)}
	go func() { tn.done <- n.Run(context.Background()) }()

	c.mu.Lock()
	c.nodes = append(c.nodes, tn)
	c.mu.Unlock()

	rep, err := c.call(ctx, id, proto.Init{NodeID: id, NodeIDs: ids})
	if err != nil {
		return err
	}
	if _, ok := rep.Body.Payload.(proto.InitOk); !ok {
		return fmt.Errorf("unexpected handshake reply %s", rep.Body.Type())
	}
	return nil
}

// GetNode returns a node by ID.
func (c *Cluster) GetNode(id string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// IDs returns every node id in start order.
func (c *Cluster) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.nodes))
	for _, n := range c.nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// Broadcast sends one value to node id and waits for broadcast_ok.
func (c *Cluster) Broadcast(ctx context.Context, id string, value int) error {
	rep, err := c.call(ctx, id, proto.Broadcast{Message: value})
	if err != nil {
		return err
	}
	if _, ok := rep.Body.Payload.(proto.BroadcastOk); !ok {
		return fmt.Errorf("unexpected broadcast reply %s", rep.Body.Type())
	}
	return nil
}

// Read returns node id's values, sorted.
func (c *Cluster) Read(ctx context.Context, id string) ([]int, error) {
	rep, err := c.call(ctx, id, proto.Read{})
	if err != nil {
		return nil, err
	}
	ok, isRead := rep.Body.Payload.(proto.ReadOk)
	if !isRead {
		return nil, fmt.Errorf("unexpected read reply %s", rep.Body.Type())
	}
	values := append([]int(nil), ok.Messages...)
	sort.Ints(values)
	return values, nil
}

// WaitConverged polls every node until each holds exactly want.
func (c *Cluster) WaitConverged(ctx context.Context, want []int) error {
	want = append([]int(nil), want...)
	sort.Ints(want)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.converged(want) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("cluster did not converge: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Cluster) converged(want []int) bool {
	for _, id := range c.IDs() {
		got := c.GetNode(id).Node.State().Snapshot()
		sort.Ints(got)
		if !equalInts(got, want) {
			return false
		}
	}
	return true
}

// Stop closes the network and waits for every node loop to exit. It
// returns the first error a node reported.
func (c *Cluster) Stop() error {
	c.Net.Close()

	c.mu.Lock()
	nodes := append([]*Node(nil), c.nodes...)
	c.mu.Unlock()

	var errs []error
	for _, n := range nodes {
		select {
		case err := <-n.done:
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", n.ID, err))
			}
		case <-time.After(5 * time.Second):
			errs = append(errs, fmt.Errorf("%s: did not stop", n.ID))
		}
	}
	return errors.Join(errs...)
}

// call sends one request from the client endpoint and waits for the reply
// whose in_reply_to matches. The request is resent with the same msg_id
// while unanswered, so it survives a lossy network; stale replies are
// discarded.
func (c *Cluster) call(ctx context.Context, dest string, p proto.Payload) (proto.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.msgID++
	id := c.msgID
	req := proto.Request(ClientID, dest, id, p)

	resend := time.NewTicker(resendInterval)
	defer resend.Stop()
	if err := c.client.Send(req); err != nil {
		return proto.Message{}, err
	}

	for {
		if m, ok := c.client.TryRecv(); ok {
			if m.Body.InReplyTo != nil && *m.Body.InReplyTo == id {
				return m, nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return proto.Message{}, fmt.Errorf("%s to %s (msg_id %d): %w", p.Type(), dest, id, ctx.Err())
		case <-resend.C:
			if err := c.client.Send(req); err != nil {
				return proto.Message{}, err
			}
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
