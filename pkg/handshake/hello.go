// Package handshake runs the signed hello exchanged on a new byte stream
// before packet traffic starts.
package handshake

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/benbjohnson/clock"

	"sbnet/pkg/crypto/sign"
	"sbnet/pkg/protocol/codec"
	"sbnet/pkg/transport/stream"
)

// Version is the hello version this build speaks.
const Version = 1

// maxHelloSize bounds a hello frame.
const maxHelloSize = 4 << 10

var (
	// ErrRejected is returned by Client when the server refused the hello.
	ErrRejected = errors.New("handshake: rejected by server")
	// ErrUnsigned is returned when a signature is required but absent.
	ErrUnsigned = errors.New("handshake: hello is not signed")
	// ErrStale is returned when a hello timestamp is outside the allowed skew.
	ErrStale = errors.New("handshake: hello timestamp out of bounds")
	// ErrVersion is returned for a hello from an incompatible version.
	ErrVersion = errors.New("handshake: unsupported version")
	// ErrLabel is returned by Client when the server is not the expected one.
	ErrLabel = errors.New("handshake: unexpected server label")
)

// Hello binds a public key to a label with a fresh nonce and timestamp.
type Hello struct {
	Version   uint32 `cbor:"1,keyasint"`
	Label     string `cbor:"2,keyasint"`
	Alg       string `cbor:"3,keyasint"`
	PubKey    []byte `cbor:"4,keyasint,omitempty"`
	Nonce     []byte `cbor:"5,keyasint"`
	Timestamp int64  `cbor:"6,keyasint"`
	Sig       []byte `cbor:"7,keyasint,omitempty"`
}

// HelloAck answers a Hello.
type HelloAck struct {
	Accepted bool   `cbor:"1,keyasint"`
	Label    string `cbor:"2,keyasint"`
	Reason   string `cbor:"3,keyasint,omitempty"`
}

// Options configures one side of the handshake.
type Options struct {
	// Label is sent to the other side.
	Label string
	// Key signs the hello; nil sends an unsigned hello.
	Key ed25519.PrivateKey
	// RequireSigned makes a server refuse unsigned hellos.
	RequireSigned bool
	// ExpectLabel makes a client refuse a server with another label.
	ExpectLabel string
	// MaxSkew bounds the hello timestamp; zero means five minutes.
	MaxSkew time.Duration
	Clock   clock.Clock
}

func (o Options) clock() clock.Clock {
	if o.Clock == nil {
		return clock.New()
	}
	return o.Clock
}

var cborCodec = codec.MustCBOR()

// Build creates a Hello for label, signed with key when key is set.
func Build(label string, key ed25519.PrivateKey, now time.Time) (Hello, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return Hello{}, err
	}
	h := Hello{
		Version:   Version,
		Label:     label,
		Alg:       sign.AlgNone,
		Nonce:     nonce,
		Timestamp: now.UnixMilli(),
	}
	if key != nil {
		h.Alg = sign.AlgEd25519
		h.PubKey = append([]byte(nil), key.Public().(ed25519.PublicKey)...)
	}
	sig, err := sign.Sign(h.Alg, key, h.transcript())
	if err != nil {
		return Hello{}, err
	}
	h.Sig = sig
	return h, nil
}

func (h Hello) transcript() []byte {
	return sign.HelloTranscript(h.Version, h.Alg, h.PubKey, h.Nonce, h.Timestamp, h.Label)
}

// Signed reports whether h carries a signature.
func (h Hello) Signed() bool { return h.Alg != sign.AlgNone && len(h.Sig) > 0 }

// Verify checks version, freshness and signature of h.
func Verify(h Hello, requireSigned bool, maxSkew time.Duration, now time.Time) error {
	if h.Version != Version {
		return fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	if requireSigned && !h.Signed() {
		return ErrUnsigned
	}
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	dt := now.UnixMilli() - h.Timestamp
	if dt > maxSkew.Milliseconds() || dt < -maxSkew.Milliseconds() {
		return ErrStale
	}
	return sign.Verify(h.Alg, h.PubKey, h.transcript(), h.Sig)
}

// Client sends a hello on rw and waits for the server's answer. A
// cancelled ctx closes rw to unblock the exchange.
func Client(ctx context.Context, rw io.ReadWriteCloser, o Options) (HelloAck, error) {
	defer context.AfterFunc(ctx, func() { _ = rw.Close() })()

	h, err := Build(o.Label, o.Key, o.clock().Now())
	if err != nil {
		return HelloAck{}, err
	}
	if err := writeMsg(rw, h); err != nil {
		return HelloAck{}, ctxErr(ctx, err)
	}
	var ack HelloAck
	if err := readMsg(rw, &ack); err != nil {
		return HelloAck{}, ctxErr(ctx, err)
	}
	if !ack.Accepted {
		return ack, fmt.Errorf("%w: %s", ErrRejected, ack.Reason)
	}
	if o.ExpectLabel != "" && ack.Label != o.ExpectLabel {
		return ack, fmt.Errorf("%w: got %q, want %q", ErrLabel, ack.Label, o.ExpectLabel)
	}
	return ack, nil
}

// Server reads a client hello from rw, verifies it and answers. A refused
// hello is answered with the reason before the error is returned.
func Server(ctx context.Context, rw io.ReadWriteCloser, o Options) (Hello, error) {
	defer context.AfterFunc(ctx, func() { _ = rw.Close() })()

	var h Hello
	if err := readMsg(rw, &h); err != nil {
		return Hello{}, ctxErr(ctx, err)
	}
	if verr := Verify(h, o.RequireSigned, o.MaxSkew, o.clock().Now()); verr != nil {
		_ = writeMsg(rw, HelloAck{Label: o.Label, Reason: verr.Error()})
		return h, verr
	}
	if err := writeMsg(rw, HelloAck{Accepted: true, Label: o.Label}); err != nil {
		return h, ctxErr(ctx, err)
	}
	return h, nil
}

func writeMsg(w io.Writer, v any) error {
	b, err := cborCodec.Marshal(v)
	if err != nil {
		return err
	}
	return stream.WriteFrame(w, b)
}

func readMsg(r io.Reader, v any) error {
	b, err := stream.ReadFrame(r, maxHelloSize)
	if err != nil {
		return err
	}
	return cborCodec.Unmarshal(b, v)
}

func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
