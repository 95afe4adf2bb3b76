package stream

import (
	"encoding/binary"
	"fmt"
	"io"

	"sbnet/pkg/protocol"
)

// WriteFrame writes b with a u32 LE length prefix in a single Write. It is
// used for the handshake before a Link takes over the stream.
func WriteFrame(w io.Writer, b []byte) error {
	out := make([]byte, 4+len(b))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(b)))
	copy(out[4:], b)
	_, err := w.Write(out)
	return err
}

// ReadFrame reads one frame written by WriteFrame. It reads exactly the
// frame's bytes so the stream can be handed to a Link afterwards.
func ReadFrame(r io.Reader, max int) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenbuf[:])
	if max <= 0 {
		max = protocol.DefaultMaxFrame
	}
	if uint64(n) > uint64(max) {
		return nil, fmt.Errorf("%w: %d > %d", protocol.ErrFrameTooLarge, n, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
