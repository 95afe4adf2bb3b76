package protocol

import (
	"sbnet/pkg/packet"
)

// Publisher receives the outcome of every frame a Framer consumes.
type Publisher interface {
	// Publish delivers one decoded packet.
	Publish(p packet.Packet)
	// Reject reports a frame that was consumed but could not be decoded.
	Reject(err error)
}

// Framer splits an incoming byte stream into frames. It is owned by a single
// reader goroutine and is not safe for concurrent use.
type Framer struct {
	format Format
	reg    *packet.Registry
	pub    Publisher
	buf    []byte
}

// NewFramer returns a Framer that decodes with reg and delivers to pub.
func NewFramer(format Format, reg *packet.Registry, pub Publisher) *Framer {
	if format == nil {
		format = LengthPrefixed{}
	}
	return &Framer{format: format, reg: reg, pub: pub}
}

// Buffered returns the number of bytes held for an incomplete frame.
func (f *Framer) Buffered() int { return len(f.buf) }

// Feed appends b and publishes every frame that is now complete. b may be
// reused by the caller after Feed returns. A non-nil error means the stream
// is corrupt and must be closed.
func (f *Framer) Feed(b []byte) error {
	f.buf = append(f.buf, b...)
	for len(f.buf) > 0 {
		need, err := f.format.MoreBytesNeeded(f.buf)
		if err != nil {
			f.buf = nil
			return err
		}
		if need > 0 {
			break
		}
		n := len(f.buf)
		if need < 0 {
			n = -need
		}
		frame := f.buf[:n:n]
		f.buf = f.buf[n:]

		p, err := f.format.Decode(f.reg, frame)
		switch {
		case err != nil:
			f.pub.Reject(err)
		case p != nil:
			f.pub.Publish(p)
		}
	}
	// Decoded packets may alias consumed frames, so leftovers move to fresh
	// memory instead of being compacted in place.
	if len(f.buf) == 0 {
		f.buf = nil
	} else {
		f.buf = append([]byte(nil), f.buf...)
	}
	return nil
}
