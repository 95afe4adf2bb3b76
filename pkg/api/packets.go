// Package api holds the packets exchanged by sbnet nodes and tools.
//
// Plain packets are fixed binary layouts. Structured payloads ride in a
// body blob whose first byte names the codec (see protocol.EncodeBody).
package api

import (
	"google.golang.org/protobuf/types/known/structpb"

	"sbnet/pkg/bytecodec"
	"sbnet/pkg/packet"
	"sbnet/pkg/protocol"
	"sbnet/pkg/request"
)

// Wire IDs.
const (
	IDPing int32 = iota + 1
	IDEchoRequest
	IDEchoResponse
	IDStatusRequest
	IDStatusReply
)

// Mappings returns the packet mappings of this package.
func Mappings() []packet.Mapping {
	return []packet.Mapping{
		packet.Map(IDPing, func() *Ping { return &Ping{} }),
		packet.Map(IDEchoRequest, func() *EchoRequest { return &EchoRequest{} }),
		packet.Map(IDEchoResponse, func() *EchoResponse { return &EchoResponse{} }),
		packet.Map(IDStatusRequest, func() *StatusRequest { return &StatusRequest{} }),
		packet.Map(IDStatusReply, func() *StatusReply { return &StatusReply{} }),
	}
}

// Registry returns a fresh registry with Mappings.
func Registry() *packet.Registry { return packet.MustRegistry(Mappings()...) }

// Ping is a one-way liveness note.
type Ping struct {
	Seq    uint32
	SentAt int64 // unix millis
}

func (*Ping) ByteSize() int { return 12 }

func (p *Ping) Encode(w *bytecodec.Writer) {
	w.WriteUint32(p.Seq)
	w.WriteInt64(p.SentAt)
}

func (p *Ping) Decode(r *bytecodec.Reader) error {
	p.Seq = r.ReadUint32()
	p.SentAt = r.ReadInt64()
	return r.Err()
}

// EchoRequest asks the peer to send Text back. Meta is an optional CBOR
// body carried back unchanged.
type EchoRequest struct {
	request.ID
	Text string
	Meta []byte
}

// NewEchoRequest builds an echo request with meta encoded as CBOR.
func NewEchoRequest(text string, meta map[string]string) (*EchoRequest, error) {
	req := &EchoRequest{Text: text}
	if len(meta) == 0 {
		return req, nil
	}
	body, err := protocol.EncodeBody(nil, protocol.EncodingCBOR, meta)
	if err != nil {
		return nil, err
	}
	req.Meta = body
	return req, nil
}

func (p *EchoRequest) Encode(w *bytecodec.Writer) {
	p.EncodeID(w)
	w.WriteString(p.Text)
	protocol.WriteBody(w, p.Meta)
}

func (p *EchoRequest) Decode(r *bytecodec.Reader) error {
	p.DecodeID(r)
	p.Text = r.ReadString()
	p.Meta = protocol.ReadBody(r)
	return r.Err()
}

func (*EchoRequest) ResponseType() packet.Type { return packet.TypeFor[*EchoResponse]() }

// Reply answers p with the same text and meta.
func (p *EchoRequest) Reply() *EchoResponse {
	return request.Reply(p, &EchoResponse{Text: p.Text, Meta: p.Meta})
}

type EchoResponse struct {
	request.ID
	Text string
	Meta []byte
}

func (p *EchoResponse) Encode(w *bytecodec.Writer) {
	p.EncodeID(w)
	w.WriteString(p.Text)
	protocol.WriteBody(w, p.Meta)
}

func (p *EchoResponse) Decode(r *bytecodec.Reader) error {
	p.DecodeID(r)
	p.Text = r.ReadString()
	p.Meta = protocol.ReadBody(r)
	return r.Err()
}

// Metadata decodes Meta. An absent body yields nil.
func (p *EchoResponse) Metadata() (map[string]string, error) {
	if len(p.Meta) == 0 {
		return nil, nil
	}
	var m map[string]string
	if _, err := protocol.DecodeBody(nil, p.Meta, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// StatusRequest asks a node to describe itself.
type StatusRequest struct {
	request.ID
}

func (*StatusRequest) ByteSize() int { return 16 }

func (p *StatusRequest) Encode(w *bytecodec.Writer) { p.EncodeID(w) }

func (p *StatusRequest) Decode(r *bytecodec.Reader) error {
	p.DecodeID(r)
	return r.Err()
}

func (*StatusRequest) ResponseType() packet.Type { return packet.TypeFor[*StatusReply]() }

// StatusReply carries a protobuf Struct body.
type StatusReply struct {
	request.ID
	Body []byte
}

// NewStatusReply answers req with info encoded as a protobuf Struct.
func NewStatusReply(req *StatusRequest, info map[string]any) (*StatusReply, error) {
	st, err := structpb.NewStruct(info)
	if err != nil {
		return nil, err
	}
	body, err := protocol.EncodeBody(nil, protocol.EncodingProto, st)
	if err != nil {
		return nil, err
	}
	return request.Reply(req, &StatusReply{Body: body}), nil
}

func (p *StatusReply) Encode(w *bytecodec.Writer) {
	p.EncodeID(w)
	protocol.WriteBody(w, p.Body)
}

func (p *StatusReply) Decode(r *bytecodec.Reader) error {
	p.DecodeID(r)
	p.Body = protocol.ReadBody(r)
	return r.Err()
}

// Info decodes the body.
func (p *StatusReply) Info() (*structpb.Struct, error) {
	st := &structpb.Struct{}
	if _, err := protocol.DecodeBody(nil, p.Body, st); err != nil {
		return nil, err
	}
	return st, nil
}
