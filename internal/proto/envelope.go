package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is returned for lines that are not a valid envelope.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType is returned for bodies whose type is not recognised.
	ErrUnknownType = errors.New("unknown body type")
	// ErrNoPayload is returned when encoding a body without a payload.
	ErrNoPayload = errors.New("body has no payload")
)

// Message is one envelope on the wire.
type Message struct {
	Src  string `json:"src"`
	Dest string `json:"dest"`
	Body Body   `json:"body"`
}

// Body is a payload plus correlation fields. MsgID is set only when the
// sender expects a reply; InReplyTo only on replies.
type Body struct {
	MsgID     *int
	InReplyTo *int
	Payload   Payload
}

// Type returns the payload type, or "" if the body is empty.
func (b Body) Type() Type {
	if b.Payload == nil {
		return ""
	}
	return b.Payload.Type()
}

type header struct {
	Type      Type `json:"type"`
	MsgID     *int `json:"msg_id,omitempty"`
	InReplyTo *int `json:"in_reply_to,omitempty"`
}

// MarshalJSON flattens the payload fields next to type, msg_id and in_reply_to.
func (b Body) MarshalJSON() ([]byte, error) {
	if b.Payload == nil {
		return nil, ErrNoPayload
	}

	raw, err := json.Marshal(b.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", b.Payload.Type(), err)
	}
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("encode %s payload: not an object: %w", b.Payload.Type(), err)
	}

	hdr, err := json.Marshal(header{Type: b.Payload.Type(), MsgID: b.MsgID, InReplyTo: b.InReplyTo})
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(hdr, &fields); err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

// UnmarshalJSON reads the discriminator first, then decodes the same object
// into the matching payload type.
func (b *Body) UnmarshalJSON(data []byte) error {
	var hdr header
	if err := json.Unmarshal(data, &hdr); err != nil {
		return err
	}
	if hdr.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformed)
	}

	dec, ok := decoders[hdr.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, hdr.Type)
	}
	p, err := dec(data)
	if err != nil {
		return fmt.Errorf("decode %s payload: %w", hdr.Type, err)
	}

	b.MsgID = hdr.MsgID
	b.InReplyTo = hdr.InReplyTo
	b.Payload = p
	return nil
}

func decodeAs[P Payload](data []byte) (Payload, error) {
	var p P
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

var decoders = map[Type]func([]byte) (Payload, error){
	TypeInit:        decodeAs[Init],
	TypeInitOk:      decodeAs[InitOk],
	TypeBroadcast:   decodeAs[Broadcast],
	TypeBroadcastOk: decodeAs[BroadcastOk],
	TypeRead:        decodeAs[Read],
	TypeReadOk:      decodeAs[ReadOk],
	TypeTopology:    decodeAs[Topology],
	TypeTopologyOk:  decodeAs[TopologyOk],
	TypePropagate:   decodeAs[Propagate],
	TypePropagateOk: decodeAs[PropagateOk],
}

// Decode parses one envelope line.
func Decode(line []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		if errors.Is(err, ErrUnknownType) {
			return Message{}, err
		}
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Body.Payload == nil {
		return Message{}, fmt.Errorf("%w: missing body", ErrMalformed)
	}
	return m, nil
}

// Encode renders an envelope without the trailing newline.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Request builds an envelope that expects a reply correlated by msgID.
func Request(src, dest string, msgID int, p Payload) Message {
	return Message{
		Src:  src,
		Dest: dest,
		Body: Body{MsgID: &msgID, Payload: p},
	}
}

// Reply builds the response to m: source and destination are swapped and
// in_reply_to echoes m's msg_id.
func (m Message) Reply(p Payload) Message {
	var inReplyTo *int
	if m.Body.MsgID != nil {
		id := *m.Body.MsgID
		inReplyTo = &id
	}
	return Message{
		Src:  m.Dest,
		Dest: m.Src,
		Body: Body{InReplyTo: inReplyTo, Payload: p},
	}
}
