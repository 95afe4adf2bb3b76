package bytecodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// ErrShortBuffer is wrapped by Reader.Err when a read ran past the end of input.
var ErrShortBuffer = errors.New("bytecodec: short buffer")

// Reader consumes little-endian values from a byte slice. The first read that
// runs out of input records an error; every later read returns zero values,
// so decoders can check Err once at the end.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader over b. b is not copied.
func NewReader(b []byte) *Reader { return &Reader{buf: b} }

// Err returns the first read error, if any.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

// CanRead reports whether n more bytes are available.
func (r *Reader) CanRead(n int) bool { return r.err == nil && r.Remaining() >= n }

// Offset returns the number of bytes consumed.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) take(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.Remaining() < n {
		r.err = fmt.Errorf("%w: reading %s needs %d bytes at offset %d, %d left", ErrShortBuffer, what, n, r.off, r.Remaining())
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) ReadUint8() uint8 {
	b := r.take(1, "uint8")
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) ReadInt8() int8 { return int8(r.ReadUint8()) }

func (r *Reader) ReadUint16() uint16 {
	b := r.take(2, "uint16")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *Reader) ReadInt16() int16 { return int16(r.ReadUint16()) }

func (r *Reader) ReadUint32() uint32 {
	b := r.take(4, "uint32")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *Reader) ReadInt32() int32 { return int32(r.ReadUint32()) }

func (r *Reader) ReadUint64() uint64 {
	b := r.take(8, "uint64")
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *Reader) ReadInt64() int64 { return int64(r.ReadUint64()) }

func (r *Reader) ReadFloat32() float32 { return math.Float32frombits(r.ReadUint32()) }
func (r *Reader) ReadFloat64() float64 { return math.Float64frombits(r.ReadUint64()) }

// ReadBool reads one byte; any non-zero value is true.
func (r *Reader) ReadBool() bool { return r.ReadUint8() != 0 }

// ReadFlags unpacks n (at most 8) booleans from one byte.
func (r *Reader) ReadFlags(n int) []bool {
	if n > 8 {
		panic("bytecodec: more than 8 flags in one byte")
	}
	b := r.ReadUint8()
	out := make([]bool, n)
	for i := range out {
		out[i] = b&(1<<i) != 0
	}
	return out
}

// ReadBoolArray reads an array written by WriteBoolArray.
func (r *Reader) ReadBoolArray() []bool {
	n := int(r.ReadUint32())
	packed := r.take((n+7)/8, "bool array")
	if r.err != nil {
		return nil
	}
	out := make([]bool, n)
	for i := range out {
		out[i] = packed[i/8]&(1<<(i%8)) != 0
	}
	return out
}

// ReadRaw returns the next n bytes. The result aliases the input.
func (r *Reader) ReadRaw(n int) []byte { return r.take(n, "raw bytes") }

// ReadBlob reads a u32 length prefixed byte slice and copies it.
func (r *Reader) ReadBlob() []byte {
	n := r.ReadUint32()
	if uint64(n) > uint64(r.Remaining()) {
		r.take(int(min(uint64(n), math.MaxInt32)), "blob")
		return nil
	}
	b := r.take(int(n), "blob")
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// ReadShortString reads a string written by WriteShortString.
func (r *Reader) ReadShortString() string {
	n := int(r.ReadUint8())
	return string(r.take(n, "short string"))
}

// ReadString reads a string written by WriteString.
func (r *Reader) ReadString() string {
	n := r.ReadUint32()
	if uint64(n) > uint64(r.Remaining()) {
		r.take(int(min(uint64(n), math.MaxInt32)), "string")
		return ""
	}
	return string(r.take(int(n), "string"))
}

// ReadUUID reads 16 raw bytes.
func (r *Reader) ReadUUID() uuid.UUID {
	var id uuid.UUID
	copy(id[:], r.take(16, "uuid"))
	return id
}
