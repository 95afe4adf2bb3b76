// Package packet defines self-serializing packet types and the registry that
// binds each concrete type to its wire ID.
package packet

import (
	"fmt"
	"reflect"

	"sbnet/pkg/bytecodec"
)

// Packet is a typed unit of application data. Implementations are used as
// pointers and must not be mutated after they are handed to a send call:
// in-process connections deliver the same value to the receiver.
type Packet interface {
	Encode(w *bytecodec.Writer)
	Decode(r *bytecodec.Reader) error
}

// Sizer is implemented by packets that know their encoded size up front.
// A negative size means unknown.
type Sizer interface {
	ByteSize() int
}

// Type identifies a concrete packet variant.
type Type struct{ t reflect.Type }

// TypeOf returns the variant of p.
func TypeOf(p Packet) Type {
	if p == nil {
		return Type{}
	}
	return Type{t: reflect.TypeOf(p)}
}

// TypeFor returns the variant T.
func TypeFor[T Packet]() Type { return Type{t: reflect.TypeOf((*T)(nil)).Elem()} }

// IsZero reports whether t names no variant.
func (t Type) IsZero() bool { return t.t == nil }

func (t Type) String() string {
	if t.t == nil {
		return "<none>"
	}
	return t.t.String()
}

// Mapping binds a variant to a wire ID and a factory for empty instances.
type Mapping struct {
	ID   int32
	Type Type
	New  func() Packet
}

// Map builds a Mapping for T. The factory must return a fresh value on every call.
func Map[T Packet](id int32, newFn func() T) Mapping {
	return Mapping{
		ID:   id,
		Type: TypeFor[T](),
		New:  func() Packet { return newFn() },
	}
}

func (m Mapping) String() string { return fmt.Sprintf("%d=%s", m.ID, m.Type) }

func (m Mapping) validate() error {
	if m.ID < 0 {
		return fmt.Errorf("packet: mapping %s: negative wire ID", m)
	}
	if m.Type.IsZero() {
		return fmt.Errorf("packet: mapping %d has no type", m.ID)
	}
	if m.New == nil {
		return fmt.Errorf("packet: mapping %s has no factory", m)
	}
	return nil
}

// Encode serializes p's body. Packets with a known size are written into a
// fixed buffer of exactly that capacity.
func Encode(p Packet) []byte {
	var w *bytecodec.Writer
	if s, ok := p.(Sizer); ok && s.ByteSize() >= 0 {
		w = bytecodec.NewFixedWriter(s.ByteSize())
	} else {
		w = bytecodec.NewWriter(64)
	}
	p.Encode(w)
	return w.Bytes()
}

// Decode builds an instance from m and decodes body into it. Trailing bytes
// are an error.
func Decode(m Mapping, body []byte) (Packet, error) {
	p := m.New()
	r := bytecodec.NewReader(body)
	if err := p.Decode(r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Type, err)
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Type, err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("decode %s: %d trailing bytes", m.Type, r.Remaining())
	}
	return p, nil
}
