package node

import (
	"errors"
	"fmt"

	"broadcast/internal/proto"
	"broadcast/internal/storage"
)

// ErrProtocolViolation is the kind shared by every ProtocolError.
var ErrProtocolViolation = errors.New("protocol violation")

// ProtocolError reports an envelope that is well-formed but not valid where
// it arrived, such as an acknowledgement received as a request. It signals a
// peer or transport bug; callers are expected to stop.
type ProtocolError struct {
	Type   proto.Type
	Src    string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol violation: %s from %s: %s", e.Type, e.Src, e.Reason)
}

// Is makes errors.Is(err, ErrProtocolViolation) match.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// StateMachine is the node state the handler mutates.
type StateMachine interface {
	storage.Store
	RecordTopology(graph map[string][]string)
}

// Result is the outcome of handling one envelope.
type Result struct {
	// Reply is the immediate response, nil when none is due.
	Reply *proto.Message
	// Added counts values that were new to the log.
	Added int
	// Duplicate counts values that were already present.
	Duplicate int
}

// Handle applies one inbound envelope to st and returns the reply to send.
// It performs no I/O.
func Handle(st StateMachine, in proto.Message) (Result, error) {
	switch p := in.Body.Payload.(type) {
	case proto.Broadcast:
		var res Result
		if _, added := st.Append(p.Message); added {
			res.Added = 1
		} else {
			res.Duplicate = 1
		}
		res.Reply = reply(in, proto.BroadcastOk{})
		return res, nil

	case proto.Read:
		return Result{Reply: reply(in, proto.ReadOk{Messages: st.Snapshot()})}, nil

	case proto.Topology:
		st.RecordTopology(p.Topology)
		return Result{Reply: reply(in, proto.TopologyOk{})}, nil

	case proto.Propagate:
		// Accepted whatever start_idx says: values are deduplicated by
		// identity, position only feeds end_idx.
		added := st.Merge(p.Messages)
		return Result{
			Reply:     reply(in, proto.PropagateOk{EndIdx: p.StartIdx + len(p.Messages)}),
			Added:     added,
			Duplicate: len(p.Messages) - added,
		}, nil

	case proto.PropagateOk:
		st.AdvanceCursor(in.Src, p.EndIdx)
		return Result{}, nil

	case proto.Init:
		return Result{}, &ProtocolError{Type: proto.TypeInit, Src: in.Src, Reason: "node already initialized"}

	case nil:
		return Result{}, &ProtocolError{Src: in.Src, Reason: "empty body"}

	default:
		t := p.Type()
		if t.IsAck() {
			return Result{}, &ProtocolError{Type: t, Src: in.Src, Reason: "acknowledgement received as a request"}
		}
		return Result{}, &ProtocolError{Type: t, Src: in.Src, Reason: "unsupported request"}
	}
}

func reply(in proto.Message, p proto.Payload) *proto.Message {
	m := in.Reply(p)
	return &m
}
