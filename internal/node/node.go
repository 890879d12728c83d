package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"broadcast/internal/gossip"
	"broadcast/internal/proto"
	"broadcast/internal/storage"
	"broadcast/internal/telemetry"
	"broadcast/internal/transport"
)

// Options configures a Node. Zero values are usable.
type Options struct {
	GossipInterval time.Duration
	Logger         *zap.Logger
	Metrics        *telemetry.Metrics
	// OnReady is called once the handshake has completed.
	OnReady func(id string)
}

// Node represents a single broadcast node: state, handler and gossip
// scheduler wired to one transport.
type Node struct {
	tr      transport.Transport
	state   *storage.State
	sched   *gossip.Scheduler
	opts    Options
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// New creates a node that talks over tr.
func New(tr transport.Transport, opts Options) *Node {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		tr:      tr,
		state:   storage.NewState(),
		opts:    opts,
		logger:  logger.Named("node"),
		metrics: opts.Metrics,
	}
}

// State exposes the node state for inspection.
func (n *Node) State() *storage.State {
	return n.state
}

// ID returns the node id assigned by the handshake, or "".
func (n *Node) ID() string {
	return n.state.ID()
}

// Handshake consumes the init request, adopts its identity and peers, and
// replies init_ok. The first envelope must be init.
func (n *Node) Handshake() error {
	in, err := n.tr.Recv()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("handshake: stream closed before init: %w", err)
		}
		return fmt.Errorf("handshake: %w", err)
	}
	n.metrics.Received(in.Body.Type())

	initReq, ok := in.Body.Payload.(proto.Init)
	if !ok {
		return &ProtocolError{Type: in.Body.Type(), Src: in.Src, Reason: "expected init"}
	}
	if err := n.state.Init(initReq.NodeID, initReq.NodeIDs); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	n.logger = n.logger.With(zap.String("node_id", initReq.NodeID))
	// Step and Tick may run on other goroutines as soon as init_ok is seen.
	n.sched = gossip.NewScheduler(initReq.NodeID, n.state, n.tr, n.opts.GossipInterval, n.logger, n.metrics)
	if err := n.send(in.Reply(proto.InitOk{})); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	n.logger.Info("node initialized", zap.Strings("peers", n.state.Peers()))
	if n.opts.OnReady != nil {
		n.opts.OnReady(initReq.NodeID)
	}
	return nil
}

// Run performs the handshake if it has not happened yet, starts the gossip
// scheduler and processes inbound envelopes one at a time until the
// transport reports io.EOF (clean shutdown) or a fatal error occurs.
func (n *Node) Run(ctx context.Context) error {
	if n.sched == nil {
		if err := n.Handshake(); err != nil {
			return err
		}
	}

	n.sched.Start(ctx)
	defer n.sched.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}
		in, err := n.tr.Recv()
		if errors.Is(err, io.EOF) {
			n.logger.Info("transport closed", zap.Int("values", n.state.Len()))
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		if err := n.step(in); err != nil {
			if errors.Is(err, transport.ErrClosed) {
				n.logger.Info("transport closed while replying")
				return nil
			}
			return err
		}
	}
}

// Step handles a single envelope outside the Run loop.
func (n *Node) Step(in proto.Message) error {
	return n.step(in)
}

// Tick runs one gossip tick synchronously.
func (n *Node) Tick() int {
	if n.sched == nil {
		return 0
	}
	return n.sched.Tick()
}

func (n *Node) step(in proto.Message) error {
	t := in.Body.Type()
	n.metrics.Received(t)
	n.logger.Debug("received", zap.String("type", string(t)), zap.String("src", in.Src))

	res, err := Handle(n.state, in)
	if err != nil {
		return err
	}

	if t == proto.TypePropagateOk {
		n.logAck(in.Src)
	}
	if res.Added > 0 || res.Duplicate > 0 {
		n.metrics.Values(res.Added, res.Duplicate, n.state.Len())
	}
	if res.Added > 0 && n.sched != nil {
		n.sched.Kick()
	}
	if res.Reply == nil {
		return nil
	}
	if err := n.send(*res.Reply); err != nil {
		return fmt.Errorf("reply to %s %s: %w", in.Src, t, err)
	}
	return nil
}

func (n *Node) logAck(src string) {
	ce := n.logger.Check(zap.DebugLevel, "propagate acknowledged")
	if ce == nil {
		return
	}
	cursors := n.state.Cursors()
	if !cursors.Has(src) {
		ce.Write(zap.String("src", src), zap.Bool("ignored", true))
		return
	}
	ce.Write(zap.String("src", src), zap.Stringer("cursors", cursors))
}

func (n *Node) send(m proto.Message) error {
	if err := n.tr.Send(m); err != nil {
		n.metrics.SendError()
		return err
	}
	n.metrics.Sent(m.Body.Type())
	return nil
}
