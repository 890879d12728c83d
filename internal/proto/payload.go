package proto

// Type is the "type" discriminator carried in every body.
type Type string

const (
	TypeInit        Type = "init"
	TypeInitOk      Type = "init_ok"
	TypeBroadcast   Type = "broadcast"
	TypeBroadcastOk Type = "broadcast_ok"
	TypeRead        Type = "read"
	TypeReadOk      Type = "read_ok"
	TypeTopology    Type = "topology"
	TypeTopologyOk  Type = "topology_ok"
	TypePropagate   Type = "propagate"
	TypePropagateOk Type = "propagate_ok"
)

// IsAck reports whether t is an acknowledgement kind.
func (t Type) IsAck() bool {
	switch t {
	case TypeInitOk, TypeBroadcastOk, TypeReadOk, TypeTopologyOk, TypePropagateOk:
		return true
	default:
		return false
	}
}

// Payload is the typed content of a body.
type Payload interface {
	Type() Type
}

// Init is the handshake request that assigns a node its identity and the
// full list of cluster members.
type Init struct {
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

type InitOk struct{}

// Broadcast asks a node to store one value. Any JSON integer that fits in
// an int is a valid value, negative ones included; non-integers fail to
// decode.
type Broadcast struct {
	Message int `json:"message"`
}

type BroadcastOk struct{}

type Read struct{}

// ReadOk returns every value the node holds.
type ReadOk struct {
	Messages []int `json:"messages"`
}

// Topology carries the suggested neighbour graph. It is recorded but does
// not restrict who a node gossips with.
type Topology struct {
	Topology map[string][]string `json:"topology"`
}

type TopologyOk struct{}

// Propagate carries a suffix of the sender's log starting at StartIdx.
// StartIdx is advisory: receivers merge by value, not by position.
type Propagate struct {
	Messages []int `json:"messages"`
	StartIdx int   `json:"start_idx"`
}

// PropagateOk echoes StartIdx+len(Messages) so the sender can advance its
// cursor for the acknowledging peer.
type PropagateOk struct {
	EndIdx int `json:"end_idx"`
}

func (Init) Type() Type        { return TypeInit }
func (InitOk) Type() Type      { return TypeInitOk }
func (Broadcast) Type() Type   { return TypeBroadcast }
func (BroadcastOk) Type() Type { return TypeBroadcastOk }
func (Read) Type() Type        { return TypeRead }
func (ReadOk) Type() Type      { return TypeReadOk }
func (Topology) Type() Type    { return TypeTopology }
func (TopologyOk) Type() Type  { return TypeTopologyOk }
func (Propagate) Type() Type   { return TypePropagate }
func (PropagateOk) Type() Type { return TypePropagateOk }
