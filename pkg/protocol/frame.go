// Package protocol turns packets into wire frames and back.
//
// A frame produced by LengthPrefixed is laid out as
//
//	0..3   length  u32 LE, byte count of everything after this field
//	4..7   wire ID i32 LE
//	8..    packet body
//
// Negative wire IDs are reserved for connection signals and never appear in
// a packet.Registry.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"sbnet/pkg/bytecodec"
	"sbnet/pkg/packet"
)

const (
	lengthSize = 4
	headerSize = lengthSize + 4

	// DefaultMaxFrame bounds the declared length of a single frame.
	DefaultMaxFrame = 16 << 20
)

// Reserved wire IDs.
const (
	IDCheckProbe int32 = -1
	IDCheckReply int32 = -2
)

var (
	// ErrFrameTooLarge means a peer declared a frame above the configured
	// maximum. The stream cannot be resynchronised after this.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	// ErrMalformedFrame means a frame header is unusable.
	ErrMalformedFrame = errors.New("protocol: malformed frame")
	// ErrUnmapped is returned when encoding a packet whose type has no mapping.
	ErrUnmapped = errors.New("protocol: packet type not mapped")
	// ErrSizeMismatch means a packet wrote a different number of bytes than its ByteSize.
	ErrSizeMismatch = errors.New("protocol: packet size hint does not match encoding")
)

// DecodeError reports a frame that was consumed but whose body could not be
// decoded. The connection survives it.
type DecodeError struct {
	ID   int32
	Type packet.Type
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("protocol: decode wire id %d (%s): %v", e.ID, e.Type, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// CheckProbe asks the remote side to prove it is alive.
type CheckProbe struct{}

func (CheckProbe) Encode(*bytecodec.Writer)       {}
func (CheckProbe) Decode(*bytecodec.Reader) error { return nil }
func (CheckProbe) ByteSize() int                  { return 0 }

// CheckReply answers a CheckProbe.
type CheckReply struct{}

func (CheckReply) Encode(*bytecodec.Writer)       {}
func (CheckReply) Decode(*bytecodec.Reader) error { return nil }
func (CheckReply) ByteSize() int                  { return 0 }

// Unknown carries a frame whose wire ID has no mapping. Encoding an Unknown
// reproduces the original frame.
type Unknown struct {
	ID   int32
	Body []byte
}

func (u *Unknown) Encode(w *bytecodec.Writer) { w.WriteRaw(u.Body) }
func (u *Unknown) Decode(r *bytecodec.Reader) error {
	u.Body = append([]byte(nil), r.ReadRaw(r.Remaining())...)
	return r.Err()
}
func (u *Unknown) ByteSize() int { return len(u.Body) }

// IsSignal reports whether p is a connection signal rather than application data.
func IsSignal(p packet.Packet) bool {
	switch p.(type) {
	case CheckProbe, CheckReply:
		return true
	}
	return false
}

// Format decides frame boundaries and converts between frames and packets.
type Format interface {
	// MoreBytesNeeded inspects the buffered bytes. A positive result is the
	// number of bytes still missing. Zero means buf holds exactly one frame.
	// A negative result -n means the first n bytes of buf form a frame.
	// An error means the stream is unusable.
	MoreBytesNeeded(buf []byte) (int, error)
	// Decode converts one whole frame. A nil packet with a nil error means
	// the frame is discarded.
	Decode(reg *packet.Registry, frame []byte) (packet.Packet, error)
	// Encode produces one whole frame for p.
	Encode(reg *packet.Registry, p packet.Packet) ([]byte, error)
}

// LengthPrefixed is the default Format.
type LengthPrefixed struct {
	// MaxFrame caps the declared frame length. Zero means DefaultMaxFrame.
	MaxFrame int
}

var _ Format = LengthPrefixed{}

func (f LengthPrefixed) maxFrame() int {
	if f.MaxFrame <= 0 {
		return DefaultMaxFrame
	}
	return f.MaxFrame
}

func (f LengthPrefixed) MoreBytesNeeded(buf []byte) (int, error) {
	if len(buf) < headerSize {
		return headerSize - len(buf), nil
	}
	n := binary.LittleEndian.Uint32(buf[:lengthSize])
	if n < headerSize-lengthSize {
		return 0, fmt.Errorf("%w: declared length %d", ErrMalformedFrame, n)
	}
	if uint64(n) > uint64(f.maxFrame()) {
		return 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, f.maxFrame())
	}
	total := lengthSize + int(n)
	switch {
	case len(buf) < total:
		return total - len(buf), nil
	case len(buf) == total:
		return 0, nil
	default:
		return -total, nil
	}
}

func (f LengthPrefixed) Decode(reg *packet.Registry, frame []byte) (packet.Packet, error) {
	if len(frame) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(frame))
	}
	id := int32(binary.LittleEndian.Uint32(frame[lengthSize:headerSize]))
	body := frame[headerSize:]
	switch id {
	case IDCheckProbe:
		return CheckProbe{}, nil
	case IDCheckReply:
		return CheckReply{}, nil
	}
	m, ok := reg.FindByID(id)
	if !ok {
		return &Unknown{ID: id, Body: append([]byte(nil), body...)}, nil
	}
	p, err := packet.Decode(m, body)
	if err != nil {
		return nil, &DecodeError{ID: id, Type: m.Type, Err: err}
	}
	return p, nil
}

// wireID resolves the ID a packet is framed with.
func wireID(reg *packet.Registry, p packet.Packet) (int32, error) {
	switch v := p.(type) {
	case CheckProbe:
		return IDCheckProbe, nil
	case CheckReply:
		return IDCheckReply, nil
	case *Unknown:
		return v.ID, nil
	}
	m, ok := reg.FindByType(packet.TypeOf(p))
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnmapped, packet.TypeOf(p))
	}
	return m.ID, nil
}

func (f LengthPrefixed) Encode(reg *packet.Registry, p packet.Packet) ([]byte, error) {
	id, err := wireID(reg, p)
	if err != nil {
		return nil, err
	}

	if s, ok := p.(packet.Sizer); ok && s.ByteSize() >= 0 {
		size := s.ByteSize()
		if headerSize-lengthSize+size > f.maxFrame() {
			return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, headerSize-lengthSize+size, f.maxFrame())
		}
		w := bytecodec.NewFixedWriter(headerSize + size)
		w.WriteUint32(uint32(headerSize - lengthSize + size))
		w.WriteInt32(id)
		p.Encode(w)
		if w.Len() != headerSize+size {
			return nil, fmt.Errorf("%w: %s declared %d, wrote %d", ErrSizeMismatch, packet.TypeOf(p), size, w.Len()-headerSize)
		}
		return w.Bytes(), nil
	}

	w := bytecodec.NewWriter(64)
	w.WriteUint32(0)
	w.WriteInt32(id)
	p.Encode(w)
	b := w.Bytes()
	n := len(b) - lengthSize
	if n > f.maxFrame() {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, f.maxFrame())
	}
	binary.LittleEndian.PutUint32(b[:lengthSize], uint32(n))
	return b, nil
}
