package protocol

import (
	"errors"
	"fmt"

	"sbnet/pkg/bytecodec"
	"sbnet/pkg/protocol/codec"
)

// Encoding is a one byte marker in front of a structured body naming the
// codec that produced it.
type Encoding uint8

const (
	EncodingUnknown Encoding = iota
	EncodingJSON
	EncodingCBOR
	EncodingProto
)

// Content types for each Encoding.
const (
	ContentUnknown = "application/octet-stream"
	ContentJSON    = "application/json"
	ContentCBOR    = "application/cbor"
	ContentProto   = "application/x-protobuf"
)

var errEmptyBody = errors.New("protocol: empty structured body")

func (e Encoding) String() string {
	switch e {
	case EncodingJSON:
		return ContentJSON
	case EncodingCBOR:
		return ContentCBOR
	case EncodingProto:
		return ContentProto
	default:
		return ContentUnknown
	}
}

// CodecFor returns the codec for e. A nil registry uses codec.Default.
func CodecFor(r *codec.Registry, e Encoding) (codec.Codec, error) {
	if e == EncodingUnknown || e > EncodingProto {
		return nil, fmt.Errorf("protocol: unknown body encoding %d", e)
	}
	if r == nil {
		r = codec.Default()
	}
	c, ok := r.Get(e.String())
	if !ok {
		return nil, fmt.Errorf("protocol: no codec registered for %s", e)
	}
	return c, nil
}

// EncodeBody marshals v with the codec for e and prefixes the marker byte.
func EncodeBody(r *codec.Registry, e Encoding, v any) ([]byte, error) {
	c, err := CodecFor(r, e)
	if err != nil {
		return nil, err
	}
	b, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", e, err)
	}
	out := make([]byte, 1+len(b))
	out[0] = byte(e)
	copy(out[1:], b)
	return out, nil
}

// DecodeBody unmarshals a body produced by EncodeBody into v.
func DecodeBody(r *codec.Registry, body []byte, v any) (Encoding, error) {
	if len(body) == 0 {
		return EncodingUnknown, errEmptyBody
	}
	e := Encoding(body[0])
	c, err := CodecFor(r, e)
	if err != nil {
		return e, err
	}
	if err := c.Unmarshal(body[1:], v); err != nil {
		return e, fmt.Errorf("decode %s body: %w", e, err)
	}
	return e, nil
}

// WriteBody writes an already encoded structured body as a blob.
func WriteBody(w *bytecodec.Writer, body []byte) { w.WriteBlob(body) }

// ReadBody reads a blob written by WriteBody. An empty blob yields nil.
func ReadBody(r *bytecodec.Reader) []byte {
	b := r.ReadBlob()
	if len(b) == 0 {
		return nil
	}
	return b
}
