// Package bytecodec provides little-endian primitive encoding over byte buffers.
// Packet bodies are written with a Writer and read back with a Reader.
package bytecodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// MaxShortString is the longest string WriteShortString accepts.
const MaxShortString = math.MaxUint8

var (
	// ErrCapacityExceeded is the panic value of a fixed Writer that runs out of room.
	ErrCapacityExceeded = errors.New("bytecodec: fixed writer capacity exceeded")
	// ErrStringTooLong is the panic value of WriteShortString for strings over 255 bytes.
	ErrStringTooLong = errors.New("bytecodec: short string longer than 255 bytes")
)

// Writer appends little-endian values to a buffer. A fixed Writer panics when
// its capacity is exceeded; a growing Writer reallocates by doubling.
type Writer struct {
	buf   []byte
	fixed bool
}

// NewWriter returns a growing Writer with an initial capacity hint.
func NewWriter(hint int) *Writer {
	if hint < 16 {
		hint = 16
	}
	return &Writer{buf: make([]byte, 0, hint)}
}

// NewFixedWriter returns a Writer that holds at most n bytes.
func NewFixedWriter(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n), fixed: true}
}

// Bytes returns the written bytes. The slice aliases the Writer's buffer.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Fixed reports whether the Writer has a fixed capacity.
func (w *Writer) Fixed() bool { return w.fixed }

// Reset discards the written bytes and keeps the buffer.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// grow makes room for n bytes and returns the slice to fill.
func (w *Writer) grow(n int) []byte {
	l := len(w.buf)
	if l+n > cap(w.buf) {
		if w.fixed {
			panic(fmt.Errorf("%w: need %d, have %d of %d", ErrCapacityExceeded, n, cap(w.buf)-l, cap(w.buf)))
		}
		c := 2 * cap(w.buf)
		if c < l+n {
			c = l + n
		}
		nb := make([]byte, l, c)
		copy(nb, w.buf)
		w.buf = nb
	}
	w.buf = w.buf[:l+n]
	return w.buf[l:]
}

func (w *Writer) WriteUint8(v uint8) { w.grow(1)[0] = v }
func (w *Writer) WriteInt8(v int8)   { w.WriteUint8(uint8(v)) }

func (w *Writer) WriteUint16(v uint16) { binary.LittleEndian.PutUint16(w.grow(2), v) }
func (w *Writer) WriteInt16(v int16)   { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) { binary.LittleEndian.PutUint32(w.grow(4), v) }
func (w *Writer) WriteInt32(v int32)   { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) { binary.LittleEndian.PutUint64(w.grow(8), v) }
func (w *Writer) WriteInt64(v int64)   { w.WriteUint64(uint64(v)) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

// WriteBool writes one byte, 1 for true.
func (w *Writer) WriteBool(v bool) {
	if v {
		w.WriteUint8(1)
		return
	}
	w.WriteUint8(0)
}

// WriteFlags packs up to 8 booleans into a single byte, flags[0] in the
// lowest bit. Missing entries are written as false.
func (w *Writer) WriteFlags(flags ...bool) {
	if len(flags) > 8 {
		panic("bytecodec: more than 8 flags in one byte")
	}
	var b uint8
	for i, f := range flags {
		if f {
			b |= 1 << i
		}
	}
	w.WriteUint8(b)
}

// WriteBoolArray writes a u32 count followed by ceil(n/8) packed bytes.
func (w *Writer) WriteBoolArray(vs []bool) {
	w.WriteUint32(uint32(len(vs)))
	out := w.grow((len(vs) + 7) / 8)
	for i := range out {
		out[i] = 0
	}
	for i, v := range vs {
		if v {
			out[i/8] |= 1 << (i % 8)
		}
	}
}

// WriteRaw writes b without a length prefix.
func (w *Writer) WriteRaw(b []byte) { copy(w.grow(len(b)), b) }

// WriteBlob writes b with a u32 length prefix.
func (w *Writer) WriteBlob(b []byte) {
	w.WriteUint32(uint32(len(b)))
	w.WriteRaw(b)
}

// WriteShortString writes s with a one byte length prefix. Strings longer
// than MaxShortString bytes are a programming error.
func (w *Writer) WriteShortString(s string) {
	if len(s) > MaxShortString {
		panic(fmt.Errorf("%w: %d", ErrStringTooLong, len(s)))
	}
	w.WriteUint8(uint8(len(s)))
	copy(w.grow(len(s)), s)
}

// WriteString writes s with a u32 length prefix.
func (w *Writer) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	copy(w.grow(len(s)), s)
}

// WriteUUID writes the 16 raw bytes of id.
func (w *Writer) WriteUUID(id uuid.UUID) { copy(w.grow(16), id[:]) }
